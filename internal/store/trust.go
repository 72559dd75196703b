package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dive-federation/hub/internal/errs"
	"github.com/dive-federation/hub/internal/trust"
)

type trustEdgeDoc struct {
	Source            string   `bson:"source"`
	Target            string   `bson:"target"`
	TrustLevel        string   `bson:"trustLevel"`
	MaxClassification string   `bson:"maxClassification"`
	AllowedScopes     []string `bson:"allowedScopes"`
	DataIsolation     string   `bson:"dataIsolation"`
	Enabled           bool     `bson:"enabled"`
	ValidFrom         time.Time `bson:"validFrom,omitempty"`
	ValidTo           time.Time `bson:"validTo,omitempty"`
}

// TrustStore persists trust.Edge documents (spec.md §6 "bilateral_trust").
type TrustStore struct {
	coll *mongo.Collection
}

// BilateralTrust returns the bilateral_trust collection accessor.
func (s *Store) BilateralTrust() *TrustStore { return &TrustStore{coll: s.db.Collection(collBilateralTrust)} }

// Upsert writes edge keyed by (source, target).
func (ts *TrustStore) Upsert(ctx context.Context, edge trust.Edge) error {
	doc := trustEdgeDoc{
		Source:            edge.Source,
		Target:            edge.Target,
		TrustLevel:        string(edge.TrustLevel),
		MaxClassification: edge.MaxClassification,
		AllowedScopes:     edge.AllowedScopes,
		DataIsolation:     string(edge.DataIsolation),
		Enabled:           edge.Enabled,
		ValidFrom:         edge.ValidFrom,
		ValidTo:           edge.ValidTo,
	}
	filter := bson.D{{Key: "source", Value: edge.Source}, {Key: "target", Value: edge.Target}}
	if _, err := ts.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "upserting trust edge %s->%s", edge.Source, edge.Target)
	}
	return nil
}

// LoadAll reads every persisted edge, used at startup to rehydrate the
// in-memory trust.Registry.
func (ts *TrustStore) LoadAll(ctx context.Context) ([]trust.Edge, error) {
	cur, err := ts.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, errs.Wrap(errs.TransientIO, "", err, "loading trust edges")
	}
	defer cur.Close(ctx)

	var out []trust.Edge
	for cur.Next(ctx) {
		var doc trustEdgeDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.Wrap(errs.TransientIO, "", err, "decoding trust edge")
		}
		out = append(out, trust.Edge{
			Source:            doc.Source,
			Target:            doc.Target,
			TrustLevel:        trust.Level(doc.TrustLevel),
			MaxClassification: doc.MaxClassification,
			AllowedScopes:     doc.AllowedScopes,
			DataIsolation:     trust.DataIsolation(doc.DataIsolation),
			Enabled:           doc.Enabled,
			ValidFrom:         doc.ValidFrom,
			ValidTo:           doc.ValidTo,
		})
	}
	return out, nil
}
