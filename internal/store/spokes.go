package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dive-federation/hub/internal/errs"
	"github.com/dive-federation/hub/internal/spoke"
	"github.com/dive-federation/hub/internal/trust"
)

// spokeDoc is the bson-tagged persistence shape for a spoke.Record
// (spec.md §6 "spokes").
type spokeDoc struct {
	SpokeID                  string          `bson:"spokeId"`
	InstanceCode             string          `bson:"instanceCode"`
	Name                     string          `bson:"name"`
	BaseURL                  string          `bson:"baseUrl"`
	APIURL                   string          `bson:"apiUrl"`
	IdPURL                   string          `bson:"idpUrl"`
	CertificatePEM           []byte          `bson:"certificatePem"`
	CertFingerprint          string          `bson:"certFingerprint"`
	ContactEmail             string          `bson:"contactEmail"`
	Status                   string          `bson:"status"`
	TrustLevel               string          `bson:"trustLevel"`
	MaxClassificationAllowed string          `bson:"maxClassificationAllowed"`
	AllowedPolicyScopes      []string        `bson:"allowedPolicyScopes"`
	RateLimitRPM             int             `bson:"rateLimitRpm"`
	RateLimitBurst           int             `bson:"rateLimitBurst"`
	AuditRetentionDays       int             `bson:"auditRetentionDays"`
	ApprovedBy               string          `bson:"approvedBy,omitempty"`
	ApprovedAt               time.Time       `bson:"approvedAt,omitempty"`
	LastHeartbeat            time.Time       `bson:"lastHeartbeat,omitempty"`
	CreatedAt                time.Time       `bson:"createdAt"`
}

func toSpokeDoc(r spoke.Record) spokeDoc {
	return spokeDoc{
		SpokeID:                  r.SpokeID,
		InstanceCode:             r.InstanceCode,
		Name:                     r.Name,
		BaseURL:                  r.BaseURL,
		APIURL:                   r.APIURL,
		IdPURL:                   r.IdPURL,
		CertificatePEM:           r.Certificate.PEM,
		CertFingerprint:          r.Certificate.Fingerprint,
		ContactEmail:             r.ContactEmail,
		Status:                   string(r.Status),
		TrustLevel:               string(r.TrustLevel),
		MaxClassificationAllowed: r.MaxClassificationAllowed,
		AllowedPolicyScopes:      r.AllowedPolicyScopes,
		RateLimitRPM:             r.RateLimit.RPM,
		RateLimitBurst:           r.RateLimit.Burst,
		AuditRetentionDays:       r.AuditRetentionDays,
		ApprovedBy:               r.ApprovedBy,
		ApprovedAt:               r.ApprovedAt,
		LastHeartbeat:            r.LastHeartbeat,
		CreatedAt:                r.CreatedAt,
	}
}

func fromSpokeDoc(d spokeDoc) spoke.Record {
	return spoke.Record{
		SpokeID:      d.SpokeID,
		InstanceCode: d.InstanceCode,
		Name:         d.Name,
		BaseURL:      d.BaseURL,
		APIURL:       d.APIURL,
		IdPURL:       d.IdPURL,
		Certificate: spoke.CertInfo{
			PEM:         d.CertificatePEM,
			Fingerprint: d.CertFingerprint,
		},
		ContactEmail:             d.ContactEmail,
		Status:                   spoke.Status(d.Status),
		TrustLevel:               trust.Level(d.TrustLevel),
		MaxClassificationAllowed: d.MaxClassificationAllowed,
		AllowedPolicyScopes:      d.AllowedPolicyScopes,
		RateLimit:                spoke.RateLimit{RPM: d.RateLimitRPM, Burst: d.RateLimitBurst},
		AuditRetentionDays:       d.AuditRetentionDays,
		ApprovedBy:               d.ApprovedBy,
		ApprovedAt:               d.ApprovedAt,
		LastHeartbeat:            d.LastHeartbeat,
		CreatedAt:                d.CreatedAt,
	}
}

// SpokeStore persists spoke.Record documents (spec.md §6 "spokes").
type SpokeStore struct {
	coll *mongo.Collection
}

// Spokes returns the spokes collection accessor.
func (s *Store) Spokes() *SpokeStore { return &SpokeStore{coll: s.db.Collection(collSpokes)} }

// Upsert writes r keyed by SpokeID.
func (ss *SpokeStore) Upsert(ctx context.Context, r spoke.Record) error {
	doc := toSpokeDoc(r)
	_, err := ss.coll.ReplaceOne(ctx, bson.D{{Key: "spokeId", Value: r.SpokeID}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "upserting spoke %s", r.SpokeID)
	}
	return nil
}

// Get loads a spoke by id.
func (ss *SpokeStore) Get(ctx context.Context, spokeID string) (spoke.Record, bool, error) {
	var doc spokeDoc
	err := ss.coll.FindOne(ctx, bson.D{{Key: "spokeId", Value: spokeID}}).Decode(&doc)
	if isNoDocuments(err) {
		return spoke.Record{}, false, nil
	}
	if err != nil {
		return spoke.Record{}, false, errs.Wrap(errs.TransientIO, "", err, "loading spoke %s", spokeID)
	}
	return fromSpokeDoc(doc), true, nil
}

// List loads every spoke, optionally filtered by status ("" = all).
func (ss *SpokeStore) List(ctx context.Context, status string) ([]spoke.Record, error) {
	filter := bson.D{}
	if status != "" {
		filter = bson.D{{Key: "status", Value: status}}
	}
	cur, err := ss.coll.Find(ctx, filter)
	if err != nil {
		return nil, errs.Wrap(errs.TransientIO, "", err, "listing spokes")
	}
	defer cur.Close(ctx)

	var out []spoke.Record
	for cur.Next(ctx) {
		var doc spokeDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errs.Wrap(errs.TransientIO, "", err, "decoding spoke document")
		}
		out = append(out, fromSpokeDoc(doc))
	}
	return out, nil
}
