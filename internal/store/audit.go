package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dive-federation/hub/internal/errs"
)

// AuditEntry is one audit_logs record (spec.md §6 "audit_logs"). Subject
// and ResourceID are independently indexed, so either can drive a
// timeline query.
type AuditEntry struct {
	Subject    string
	ResourceID string
	Action     string
	Outcome    string
	AuditID    string
	Timestamp  time.Time
	Detail     map[string]any
}

type auditDoc struct {
	Subject    string         `bson:"subject"`
	ResourceID string         `bson:"resourceId,omitempty"`
	Action     string         `bson:"action"`
	Outcome    string         `bson:"outcome"`
	AuditID    string         `bson:"auditId"`
	Timestamp  time.Time      `bson:"timestamp"`
	Detail     map[string]any `bson:"detail,omitempty"`
}

// AuditLog persists AuditEntry records with a 90-day TTL (spec.md §6).
type AuditLog struct {
	coll *mongo.Collection
}

// AuditLogs returns the audit_logs collection accessor.
func (s *Store) AuditLogs() *AuditLog { return &AuditLog{coll: s.db.Collection(collAuditLogs)} }

// Append records one audit entry.
func (a *AuditLog) Append(ctx context.Context, e AuditEntry) error {
	doc := auditDoc{
		Subject:    e.Subject,
		ResourceID: e.ResourceID,
		Action:     e.Action,
		Outcome:    e.Outcome,
		AuditID:    e.AuditID,
		Timestamp:  e.Timestamp,
		Detail:     e.Detail,
	}
	if _, err := a.coll.InsertOne(ctx, doc); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "appending audit entry")
	}
	return nil
}

// BySubject returns the most recent entries for subject, newest first.
func (a *AuditLog) BySubject(ctx context.Context, subject string, limit int64) ([]AuditEntry, error) {
	return a.query(ctx, bson.D{{Key: "subject", Value: subject}}, limit)
}

// ByResource returns the most recent entries for resourceID, newest
// first.
func (a *AuditLog) ByResource(ctx context.Context, resourceID string, limit int64) ([]AuditEntry, error) {
	return a.query(ctx, bson.D{{Key: "resourceId", Value: resourceID}}, limit)
}

func (a *AuditLog) query(ctx context.Context, filter bson.D, limit int64) ([]AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)
	cur, err := a.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.Wrap(errs.TransientIO, "", err, "querying audit log")
	}
	defer cur.Close(ctx)

	var out []AuditEntry
	for cur.Next(ctx) {
		var doc auditDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.Wrap(errs.TransientIO, "", err, "decoding audit entry")
		}
		out = append(out, AuditEntry{
			Subject:    doc.Subject,
			ResourceID: doc.ResourceID,
			Action:     doc.Action,
			Outcome:    doc.Outcome,
			AuditID:    doc.AuditID,
			Timestamp:  doc.Timestamp,
			Detail:     doc.Detail,
		})
	}
	return out, nil
}
