package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dive-federation/hub/internal/errs"
	"github.com/dive-federation/hub/internal/federation"
)

type conflictDoc struct {
	ResourceID    string `bson:"resourceId"`
	LocalVersion  int64  `bson:"localVersion"`
	RemoteVersion int64  `bson:"remoteVersion"`
	Resolution    string `bson:"resolution"`
	Reason        string `bson:"reason"`
}

type syncResultDoc struct {
	CorrelationID string        `bson:"correlationId"`
	Timestamp     time.Time     `bson:"timestamp"`
	Source        string        `bson:"source"`
	Target        string        `bson:"target"`
	Synced        int           `bson:"synced"`
	Updated       int           `bson:"updated"`
	Conflicted    int           `bson:"conflicted"`
	Conflicts     []conflictDoc `bson:"conflicts"`
	DurationMS    int64         `bson:"durationMs"`
}

// FederationSyncLog persists federation.SyncResult records with a 90-day
// TTL, implementing federation.SyncLog (spec.md §6 "federation_sync").
type FederationSyncLog struct {
	coll *mongo.Collection
}

// FederationSync returns the federation_sync collection accessor.
func (s *Store) FederationSync() *FederationSyncLog {
	return &FederationSyncLog{coll: s.db.Collection(collFederationSync)}
}

// Append implements federation.SyncLog.
func (fs *FederationSyncLog) Append(ctx context.Context, result federation.SyncResult) error {
	conflicts := make([]conflictDoc, 0, len(result.Conflicts))
	for _, c := range result.Conflicts {
		conflicts = append(conflicts, conflictDoc{
			ResourceID:    c.ResourceID,
			LocalVersion:  c.LocalVersion,
			RemoteVersion: c.RemoteVersion,
			Resolution:    string(c.Resolution),
			Reason:        c.Reason,
		})
	}
	doc := syncResultDoc{
		CorrelationID: result.CorrelationID,
		Timestamp:     result.Timestamp,
		Source:        result.Source,
		Target:        result.Target,
		Synced:        result.Synced,
		Updated:       result.Updated,
		Conflicted:    result.Conflicted,
		Conflicts:     conflicts,
		DurationMS:    result.DurationMS,
	}
	if _, err := fs.coll.InsertOne(ctx, doc); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "appending federation sync result")
	}
	return nil
}
