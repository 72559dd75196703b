package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dive-federation/hub/internal/errs"
	"github.com/dive-federation/hub/internal/federation"
)

type syncStatusDoc struct {
	Synced    bool      `bson:"synced"`
	Timestamp time.Time `bson:"timestamp"`
	Version   int64     `bson:"version"`
}

type resourceDoc struct {
	ResourceID      string                   `bson:"resourceId"`
	Title           string                   `bson:"title"`
	Classification  string                   `bson:"classification"`
	ReleasabilityTo []string                 `bson:"releasabilityTo"`
	COI             []string                 `bson:"coi"`
	OriginRealm     string                   `bson:"originRealm"`
	Version         int64                    `bson:"version"`
	LastModified    time.Time                `bson:"lastModified"`
	SyncStatus      map[string]syncStatusDoc `bson:"syncStatus"`
	ImportedFrom    string                   `bson:"importedFrom,omitempty"`
}

func toResourceDoc(r federation.Resource) resourceDoc {
	status := make(map[string]syncStatusDoc, len(r.SyncStatus))
	for peer, st := range r.SyncStatus {
		status[peer] = syncStatusDoc{Synced: st.Synced, Timestamp: st.Timestamp, Version: st.Version}
	}
	return resourceDoc{
		ResourceID:      r.ResourceID,
		Title:           r.Title,
		Classification:  r.Classification,
		ReleasabilityTo: r.ReleasabilityTo,
		COI:             r.COI,
		OriginRealm:     r.OriginRealm,
		Version:         r.Version,
		LastModified:    r.LastModified,
		SyncStatus:      status,
		ImportedFrom:    r.ImportedFrom,
	}
}

func fromResourceDoc(d resourceDoc) federation.Resource {
	status := make(map[string]federation.SyncStatus, len(d.SyncStatus))
	for peer, st := range d.SyncStatus {
		status[peer] = federation.SyncStatus{Synced: st.Synced, Timestamp: st.Timestamp, Version: st.Version}
	}
	return federation.Resource{
		ResourceID:      d.ResourceID,
		Title:           d.Title,
		Classification:  d.Classification,
		ReleasabilityTo: d.ReleasabilityTo,
		COI:             d.COI,
		OriginRealm:     d.OriginRealm,
		Version:         d.Version,
		LastModified:    d.LastModified,
		SyncStatus:      status,
		ImportedFrom:    d.ImportedFrom,
	}
}

// ResourceStore persists federation.Resource documents and implements
// federation.LocalStore (spec.md §6 "resources").
type ResourceStore struct {
	coll       *mongo.Collection
	localRealm string
}

// Resources returns the resources collection accessor scoped to
// localRealm (needed to compute eligibility against a peer).
func (s *Store) Resources(localRealm string) *ResourceStore {
	return &ResourceStore{coll: s.db.Collection(collResources), localRealm: localRealm}
}

// EligibleFor implements federation.LocalStore: every local resource
// releasable to peerRealm (spec.md §4.8 step 1).
func (rs *ResourceStore) EligibleFor(ctx context.Context, peerRealm string) ([]federation.Resource, error) {
	filter := bson.D{
		{Key: "originRealm", Value: rs.localRealm},
		{Key: "classification", Value: bson.D{{Key: "$ne", Value: federation.TopSecret}}},
		{Key: "releasabilityTo", Value: peerRealm},
	}
	cur, err := rs.coll.Find(ctx, filter)
	if err != nil {
		return nil, errs.Wrap(errs.TransientIO, "", err, "selecting eligible resources for %s", peerRealm)
	}
	defer cur.Close(ctx)

	var out []federation.Resource
	for cur.Next(ctx) {
		var doc resourceDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.Wrap(errs.TransientIO, "", err, "decoding resource")
		}
		r := fromResourceDoc(doc)
		if federation.Eligible(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Get implements federation.LocalStore.
func (rs *ResourceStore) Get(ctx context.Context, resourceID string) (federation.Resource, bool, error) {
	var doc resourceDoc
	err := rs.coll.FindOne(ctx, bson.D{{Key: "resourceId", Value: resourceID}}).Decode(&doc)
	if isNoDocuments(err) {
		return federation.Resource{}, false, nil
	}
	if err != nil {
		return federation.Resource{}, false, errs.Wrap(errs.TransientIO, "", err, "loading resource %s", resourceID)
	}
	return fromResourceDoc(doc), true, nil
}

// Upsert implements federation.LocalStore.
func (rs *ResourceStore) Upsert(ctx context.Context, r federation.Resource) error {
	doc := toResourceDoc(r)
	filter := bson.D{{Key: "resourceId", Value: r.ResourceID}}
	if _, err := rs.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "upserting resource %s", r.ResourceID)
	}
	return nil
}

// MarkSynced implements federation.LocalStore: updates syncStatus[peer]
// on a pushed resource (spec.md §4.8 step 5).
func (rs *ResourceStore) MarkSynced(ctx context.Context, resourceID, peerRealm string, version int64, at time.Time) error {
	filter := bson.D{{Key: "resourceId", Value: resourceID}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "syncStatus." + peerRealm, Value: syncStatusDoc{Synced: true, Timestamp: at, Version: version}},
	}}}
	if _, err := rs.coll.UpdateOne(ctx, filter, update); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "marking resource %s synced to %s", resourceID, peerRealm)
	}
	return nil
}
