package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dive-federation/hub/internal/clearance"
	"github.com/dive-federation/hub/internal/errs"
)

type clearanceEntryDoc struct {
	Country      string   `bson:"country"`
	NationalTerm []string `bson:"nationalTerm"`
	MFARequired  bool     `bson:"mfaRequired"`
	AAL          int      `bson:"aal"`
	ACR          int      `bson:"acr"`
}

type clearanceLevelDoc struct {
	StandardLevel string               `bson:"standardLevel"`
	Entries       []clearanceEntryDoc  `bson:"entries"`
}

// ClearanceStore persists the clearance equivalency table, one document
// per canonical level (spec.md §6 "clearance_equivalency").
type ClearanceStore struct {
	coll *mongo.Collection
}

// ClearanceEquivalency returns the clearance_equivalency collection
// accessor.
func (s *Store) ClearanceEquivalency() *ClearanceStore {
	return &ClearanceStore{coll: s.db.Collection(collClearanceEquivalency)}
}

// SaveMapping persists every level of m, one document per level.
func (cs *ClearanceStore) SaveMapping(ctx context.Context, m clearance.Mapping) error {
	for _, level := range clearance.AllLevels {
		entries := m[level]
		doc := clearanceLevelDoc{StandardLevel: level.String()}
		for country, entry := range entries {
			doc.Entries = append(doc.Entries, clearanceEntryDoc{
				Country:      country,
				NationalTerm: entry.NationalTerm,
				MFARequired:  entry.MFARequired,
				AAL:          entry.AAL,
				ACR:          entry.ACR,
			})
		}
		filter := bson.D{{Key: "standardLevel", Value: level.String()}}
		if _, err := cs.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
			return errs.Wrap(errs.TransientIO, "", err, "saving clearance level %s", level)
		}
	}
	return nil
}

// LoadMapping reconstructs the full clearance.Mapping from persisted
// documents; a missing collection yields an empty Mapping so callers can
// fall back to clearance.DefaultMapping().
func (cs *ClearanceStore) LoadMapping(ctx context.Context) (clearance.Mapping, error) {
	cur, err := cs.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, errs.Wrap(errs.TransientIO, "", err, "loading clearance equivalency")
	}
	defer cur.Close(ctx)

	m := clearance.Mapping{}
	for cur.Next(ctx) {
		var doc clearanceLevelDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.Wrap(errs.TransientIO, "", err, "decoding clearance level")
		}
		level, ok := clearance.ParseLevel(doc.StandardLevel)
		if !ok {
			return nil, errs.New(errs.InvalidInput, "", "unknown canonical level %q in clearance_equivalency", doc.StandardLevel)
		}
		byCountry := map[string]clearance.Entry{}
		for _, e := range doc.Entries {
			byCountry[e.Country] = clearance.Entry{NationalTerm: e.NationalTerm, MFARequired: e.MFARequired, AAL: e.AAL, ACR: e.ACR}
		}
		m[level] = byCountry
	}
	return m, nil
}
