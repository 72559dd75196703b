package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dive-federation/hub/internal/errs"
	"github.com/dive-federation/hub/internal/spoke"
)

type tokenDoc struct {
	Token     string    `bson:"token"`
	SpokeID   string    `bson:"spokeId"`
	Scopes    []string  `bson:"scopes"`
	IssuedAt  time.Time `bson:"issuedAt"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// TokenStore persists spoke.Token documents with a TTL on expiresAt
// (spec.md §6 "spoke_tokens").
type TokenStore struct {
	coll *mongo.Collection
}

// Tokens returns the spoke_tokens collection accessor.
func (s *Store) Tokens() *TokenStore { return &TokenStore{coll: s.db.Collection(collSpokeTokens)} }

// Insert persists a newly minted token.
func (ts *TokenStore) Insert(ctx context.Context, t spoke.Token) error {
	doc := tokenDoc{Token: t.Token, SpokeID: t.SpokeID, Scopes: t.Scopes, IssuedAt: t.IssuedAt, ExpiresAt: t.ExpiresAt}
	if _, err := ts.coll.InsertOne(ctx, doc); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "inserting token for spoke %s", t.SpokeID)
	}
	return nil
}

// Get loads a token by its opaque value.
func (ts *TokenStore) Get(ctx context.Context, token string) (spoke.Token, bool, error) {
	var doc tokenDoc
	err := ts.coll.FindOne(ctx, bson.D{{Key: "token", Value: token}}).Decode(&doc)
	if isNoDocuments(err) {
		return spoke.Token{}, false, nil
	}
	if err != nil {
		return spoke.Token{}, false, errs.Wrap(errs.TransientIO, "", err, "loading token")
	}
	return spoke.Token{Token: doc.Token, SpokeID: doc.SpokeID, Scopes: doc.Scopes, IssuedAt: doc.IssuedAt, ExpiresAt: doc.ExpiresAt}, true, nil
}

// DeleteAllForSpoke invalidates every token belonging to spokeID, used on
// suspend/revoke (spec.md §4.2 "invalidating every outstanding token
// atomically").
func (ts *TokenStore) DeleteAllForSpoke(ctx context.Context, spokeID string) error {
	_, err := ts.coll.DeleteMany(ctx, bson.D{{Key: "spokeId", Value: spokeID}})
	if err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "invalidating tokens for spoke %s", spokeID)
	}
	return nil
}

// DeleteExpiredOlderThan removes tokens past expiry, as a backstop for
// the TTL index (spec.md §6).
func (ts *TokenStore) DeleteExpiredOlderThan(ctx context.Context, now time.Time) error {
	_, err := ts.coll.DeleteMany(ctx, bson.D{{Key: "expiresAt", Value: bson.D{{Key: "$lt", Value: now}}}})
	if err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "pruning expired tokens")
	}
	return nil
}
