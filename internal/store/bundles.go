package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dive-federation/hub/internal/bundle"
	"github.com/dive-federation/hub/internal/errs"
)

type fileEntryDoc struct {
	Path string `bson:"path"`
	Size int64  `bson:"size"`
	Hash string `bson:"hash"`
}

type manifestDoc struct {
	Revision string         `bson:"revision"`
	Roots    []string       `bson:"roots"`
	Files    []fileEntryDoc `bson:"files"`
}

func toManifestDoc(m bundle.Manifest) manifestDoc {
	files := make([]fileEntryDoc, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, fileEntryDoc{Path: f.Path, Size: f.Size, Hash: f.Hash})
	}
	return manifestDoc{Revision: m.Revision, Roots: m.Roots, Files: files}
}

func fromManifestDoc(d manifestDoc) bundle.Manifest {
	files := make([]bundle.FileEntry, 0, len(d.Files))
	for _, f := range d.Files {
		files = append(files, bundle.FileEntry{Path: f.Path, Size: f.Size, Hash: f.Hash})
	}
	return bundle.Manifest{Revision: d.Revision, Roots: d.Roots, Files: files}
}

// BundleArtifactStore implements bundle.ArtifactStore: a content-addressed
// artifact keyed by bundle hash (spec.md §6 "policy_bundles_current" /
// §4.6 "Persistence").
type BundleArtifactStore struct {
	coll *mongo.Collection
}

// BundleArtifacts returns the artifact-store accessor.
func (s *Store) BundleArtifacts() *BundleArtifactStore {
	return &BundleArtifactStore{coll: s.db.Collection(collBundleArtifacts)}
}

type artifactDoc struct {
	Hash     string      `bson:"hash"`
	Manifest manifestDoc `bson:"manifest"`
}

// Put implements bundle.ArtifactStore.
func (a *BundleArtifactStore) Put(ctx context.Context, hash string, manifest bundle.Manifest) error {
	doc := artifactDoc{Hash: hash, Manifest: toManifestDoc(manifest)}
	filter := bson.D{{Key: "hash", Value: hash}}
	if _, err := a.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "writing bundle artifact %s", hash)
	}
	return nil
}

// Has implements bundle.ArtifactStore.
func (a *BundleArtifactStore) Has(ctx context.Context, hash string) (bool, error) {
	n, err := a.coll.CountDocuments(ctx, bson.D{{Key: "hash", Value: hash}})
	if err != nil {
		return false, errs.Wrap(errs.TransientIO, "", err, "checking artifact %s", hash)
	}
	return n > 0, nil
}

// BundleCurrentStore implements bundle.CurrentPointerStore: the single
// "current" bundle document (spec.md §6 "policy_bundles_current").
type BundleCurrentStore struct {
	coll *mongo.Collection
}

// BundlesCurrent returns the policy_bundles_current accessor.
func (s *Store) BundlesCurrent() *BundleCurrentStore {
	return &BundleCurrentStore{coll: s.db.Collection(collBundlesCurrent)}
}

const currentDocID = "current"

type currentDoc struct {
	ID        string      `bson:"_id"`
	BundleID  string      `bson:"bundleId"`
	Version   string      `bson:"version"`
	Hash      string      `bson:"hash"`
	Size      int64       `bson:"size"`
	FileCount int         `bson:"fileCount"`
	Signed    bool        `bson:"signed"`
	SignedAt  time.Time   `bson:"signedAt,omitempty"`
	SignedBy  string      `bson:"signedBy,omitempty"`
	Manifest  manifestDoc `bson:"manifest"`
	Scopes    []string    `bson:"scopes"`
}

// SetCurrent implements bundle.CurrentPointerStore: a single-document
// upsert keyed by a fixed _id, so there is always at most one current
// bundle (spec.md §3.6 invariant).
func (c *BundleCurrentStore) SetCurrent(ctx context.Context, b bundle.Bundle) error {
	doc := currentDoc{
		ID:        currentDocID,
		BundleID:  b.BundleID,
		Version:   b.Version,
		Hash:      b.Hash,
		Size:      b.Size,
		FileCount: b.FileCount,
		Signed:    b.Signed,
		SignedAt:  b.SignedAt,
		SignedBy:  b.SignedBy,
		Manifest:  toManifestDoc(b.Manifest),
		Scopes:    b.Scopes,
	}
	filter := bson.D{{Key: "_id", Value: currentDocID}}
	if _, err := c.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "writing current bundle pointer")
	}
	return nil
}

// GetCurrent implements bundle.CurrentPointerStore.
func (c *BundleCurrentStore) GetCurrent(ctx context.Context) (bundle.Bundle, bool, error) {
	var doc currentDoc
	err := c.coll.FindOne(ctx, bson.D{{Key: "_id", Value: currentDocID}}).Decode(&doc)
	if isNoDocuments(err) {
		return bundle.Bundle{}, false, nil
	}
	if err != nil {
		return bundle.Bundle{}, false, errs.Wrap(errs.TransientIO, "", err, "loading current bundle pointer")
	}
	return bundle.Bundle{
		BundleID:  doc.BundleID,
		Version:   doc.Version,
		Hash:      doc.Hash,
		Size:      doc.Size,
		FileCount: doc.FileCount,
		Signed:    doc.Signed,
		SignedAt:  doc.SignedAt,
		SignedBy:  doc.SignedBy,
		Manifest:  fromManifestDoc(doc.Manifest),
		Scopes:    doc.Scopes,
	}, true, nil
}
