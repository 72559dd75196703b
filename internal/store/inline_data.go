package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dive-federation/hub/internal/errs"
)

const collInlineData = "policy_data"

type inlineDataDoc struct {
	Path string `bson:"_id"`
	Data []byte `bson:"data"`
}

// InlineDataAdapter implements publish.InlineDataStore against a
// dedicated collection keyed by data path (spec.md §4.7
// "PublishInlineData"; §6 "policy-data").
type InlineDataAdapter struct {
	coll *mongo.Collection
}

// NewInlineDataAdapter builds an InlineDataAdapter over st.
func NewInlineDataAdapter(st *Store) *InlineDataAdapter {
	return &InlineDataAdapter{coll: st.db.Collection(collInlineData)}
}

// Get implements publish.InlineDataStore.
func (a *InlineDataAdapter) Get(ctx context.Context, path string) ([]byte, bool, error) {
	var doc inlineDataDoc
	err := a.coll.FindOne(ctx, bson.D{{Key: "_id", Value: path}}).Decode(&doc)
	if isNoDocuments(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.TransientIO, "", err, "loading data at %s", path)
	}
	return doc.Data, true, nil
}

// Put implements publish.InlineDataStore.
func (a *InlineDataAdapter) Put(ctx context.Context, path string, data []byte) error {
	doc := inlineDataDoc{Path: path, Data: data}
	filter := bson.D{{Key: "_id", Value: path}}
	if _, err := a.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "writing data at %s", path)
	}
	return nil
}
