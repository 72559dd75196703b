// Package store implements the MongoDB-backed persistence layer (spec.md
// §6 "Persisted schemas"): one collection per durable entity, with the
// indexes and TTLs the spec names. None of the retrieved examples carry
// a direct mongo-driver call site — go.mongodb.org/mongo-driver reaches
// this pack only as a transitive dependency — so this package follows
// the driver's own documented idiom (a thin struct wrapping
// *mongo.Collection per entity, bson-tagged models, context-scoped
// calls) rather than any one teacher file.
package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dive-federation/hub/internal/errs"
)

const (
	collSpokes               = "spokes"
	collSpokeTokens          = "spoke_tokens"
	collBilateralTrust       = "bilateral_trust"
	collClearanceEquivalency = "clearance_equivalency"
	collResources            = "resources"
	collFederationSync       = "federation_sync"
	collAuditLogs            = "audit_logs"
	collBundlesCurrent       = "policy_bundles_current"
	collBundleArtifacts      = "policy_bundle_artifacts"
)

// Store wraps the database handle and exposes one typed accessor per
// collection (spec.md §6).
type Store struct {
	db *mongo.Database
}

// Connect dials MongoDB at uri and pings it, failing fast per spec.md §6
// exit code 2 ("unrecoverable startup dependency failure (no DB)").
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, "", err, "connecting to mongodb")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, errs.Wrap(errs.Fatal, "", err, "pinging mongodb")
	}
	return &Store{db: client.Database(dbName)}, nil
}

// EnsureIndexes creates every index spec.md §6 names. Safe to call on
// every startup; creating an existing index is a no-op.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	type indexSet struct {
		coll    string
		indexes []mongo.IndexModel
	}
	sets := []indexSet{
		{collSpokes, []mongo.IndexModel{
			{Keys: bson.D{{Key: "spokeId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "instanceCode", Value: 1}, {Key: "status", Value: 1}}},
		}},
		{collSpokeTokens, []mongo.IndexModel{
			{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "spokeId", Value: 1}, {Key: "expiresAt", Value: 1}}},
			{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		}},
		{collBilateralTrust, []mongo.IndexModel{
			{Keys: bson.D{{Key: "source", Value: 1}, {Key: "target", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{collClearanceEquivalency, []mongo.IndexModel{
			{Keys: bson.D{{Key: "standardLevel", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{collResources, []mongo.IndexModel{
			{Keys: bson.D{{Key: "resourceId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "originRealm", Value: 1}, {Key: "lastModified", Value: 1}}},
		}},
		{collFederationSync, []mongo.IndexModel{
			{Keys: bson.D{{Key: "timestamp", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(90 * 24 * 3600)},
		}},
		{collAuditLogs, []mongo.IndexModel{
			{Keys: bson.D{{Key: "timestamp", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(90 * 24 * 3600)},
			{Keys: bson.D{{Key: "subject", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "resourceId", Value: 1}, {Key: "timestamp", Value: -1}}},
		}},
	}
	for _, set := range sets {
		if _, err := s.db.Collection(set.coll).Indexes().CreateMany(ctx, set.indexes); err != nil {
			return errs.Wrap(errs.Fatal, "", err, "creating indexes for %s", set.coll)
		}
	}
	return nil
}

func isNoDocuments(err error) bool { return err == mongo.ErrNoDocuments }
