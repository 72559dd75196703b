// Package bundle implements the Policy Bundle Builder (spec.md §3.6,
// §4.6): deterministic, content-addressed assembly of a scope-filtered
// policy bundle, signed with the hub's key. Grounded on the teacher's
// content-addressed signing flow (sigstore/sigstore/pkg/signature over a
// detached hash), generalized from container-image digests to this
// system's own file-tree manifests.
package bundle

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"

	"github.com/dive-federation/hub/internal/errs"
)

const baseScope = "policy:base"

// FileEntry is one file in a bundle manifest (spec.md §3.6).
type FileEntry struct {
	Path string
	Size int64
	Hash string // hex sha256 of file content
}

// Manifest describes the assembled bundle contents (spec.md §3.6).
type Manifest struct {
	Revision string
	Roots    []string
	Files    []FileEntry
}

// Bundle is a built, possibly signed, policy bundle (spec.md §3.6).
type Bundle struct {
	BundleID  string
	Version   string
	Hash      string
	Size      int64
	FileCount int
	Signed    bool
	SignedAt  time.Time
	SignedBy  string
	Manifest  Manifest
	Scopes    []string
}

// BuildOptions configure one build (spec.md §4.6 "Inputs").
type BuildOptions struct {
	Scopes      []string
	Sign        bool
	IncludeData bool
	Compress    bool
}

// SourceTree abstracts the policy source tree a build reads from; a real
// implementation walks the on-disk policy repo filtered by scope root,
// tests can supply an in-memory fake.
type SourceTree interface {
	// FilesForScope returns every file under the subtree mapped to scope,
	// in no particular order; the builder re-sorts canonically.
	FilesForScope(scope string) ([]FileEntry, error)
	// Content returns the raw bytes backing a FileEntry's hash, used to
	// compute the bundle-wide hash over actual content.
	Content(path string) ([]byte, error)
	// Revision is a source-tree-wide identifier (e.g. a commit hash).
	Revision() string
}

// ArtifactStore is the content-addressed store keyed by bundle hash (spec.md
// §4.6 "Persistence").
type ArtifactStore interface {
	Put(ctx context.Context, hash string, manifest Manifest) error
	Has(ctx context.Context, hash string) (bool, error)
}

// CurrentPointerStore persists the single "current" bundle pointer
// (spec.md §3.6 "at most one current bundle per hub").
type CurrentPointerStore interface {
	SetCurrent(ctx context.Context, b Bundle) error
	GetCurrent(ctx context.Context) (Bundle, bool, error)
}

// Signer produces a detached signature over a bundle hash (spec.md §4.6
// "Signing"). Satisfied by signature.Signer plus a key identifier.
type Signer interface {
	SignMessage(message io.Reader, opts ...signature.SignOption) ([]byte, error)
	KeyID() string
}

// Builder assembles, hashes, and signs bundles.
type Builder struct {
	mu sync.Mutex

	source    SourceTree
	artifacts ArtifactStore
	current   CurrentPointerStore
	signer    Signer

	clock func() time.Time

	daySeq    string // "YYYY.MM.DD"
	daySeqNum int
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides time.Now, for deterministic version sequencing in
// tests.
func WithClock(c func() time.Time) Option { return func(b *Builder) { b.clock = c } }

// NewBuilder constructs a Builder.
func NewBuilder(source SourceTree, artifacts ArtifactStore, current CurrentPointerStore, signer Signer, opts ...Option) *Builder {
	b := &Builder{source: source, artifacts: artifacts, current: current, signer: signer, clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) now() time.Time { return b.clock() }

// Build assembles a bundle per opts, writes it to the artifact store and
// the current pointer, and returns it (spec.md §4.6). Transactional: on
// any error, no visible state changes (spec.md §7 "Bundle build is
// transactional").
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (Bundle, error) {
	scopes := normalizeScopes(opts.Scopes)

	filesByPath := map[string]FileEntry{}
	for _, scope := range scopes {
		entries, err := b.source.FilesForScope(scope)
		if err != nil {
			return Bundle{}, errs.Wrap(errs.Fatal, "", err, "reading source tree for scope %s", scope)
		}
		for _, e := range entries {
			filesByPath[e.Path] = e
		}
	}

	paths := make([]string, 0, len(filesByPath))
	for p := range filesByPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	hasher := sha256.New()
	files := make([]FileEntry, 0, len(paths))
	var totalSize int64
	for _, p := range paths {
		content, err := b.source.Content(p)
		if err != nil {
			return Bundle{}, errs.Wrap(errs.Fatal, "", err, "reading content for %s", p)
		}
		sum := sha256.Sum256(content)
		entry := FileEntry{Path: p, Size: int64(len(content)), Hash: hex.EncodeToString(sum[:])}
		files = append(files, entry)
		totalSize += entry.Size

		hasher.Write([]byte(p))
		hasher.Write([]byte{0})
		hasher.Write(content)
		hasher.Write([]byte{'\n'})
	}
	hash := hex.EncodeToString(hasher.Sum(nil))

	manifest := Manifest{Revision: b.source.Revision(), Roots: scopes, Files: files}

	var signed bool
	var signedAt time.Time
	var signedBy string
	if opts.Sign {
		if b.signer == nil {
			return Bundle{}, errs.New(errs.Fatal, "", "signed build requested but no signing key is configured")
		}
		if _, err := b.signer.SignMessage(bytes.NewReader([]byte(hash))); err != nil {
			return Bundle{}, errs.Wrap(errs.Fatal, "", err, "signing bundle hash")
		}
		signed = true
		signedAt = b.now()
		signedBy = b.signer.KeyID()
	}

	b.mu.Lock()
	version := b.nextVersionLocked()
	b.mu.Unlock()

	result := Bundle{
		BundleID:  "bundle-" + hash[:12],
		Version:   version,
		Hash:      hash,
		Size:      totalSize,
		FileCount: len(files),
		Signed:    signed,
		SignedAt:  signedAt,
		SignedBy:  signedBy,
		Manifest:  manifest,
		Scopes:    scopes,
	}

	exists, err := b.artifacts.Has(ctx, hash)
	if err != nil {
		return Bundle{}, errs.Wrap(errs.TransientIO, "", err, "checking artifact store")
	}
	if !exists {
		if err := b.artifacts.Put(ctx, hash, manifest); err != nil {
			return Bundle{}, errs.Wrap(errs.TransientIO, "", err, "writing bundle artifact")
		}
	}

	if err := b.current.SetCurrent(ctx, result); err != nil {
		return Bundle{}, errs.Wrap(errs.TransientIO, "", err, "updating current bundle pointer")
	}

	return result, nil
}

// nextVersionLocked returns the next YYYY.MM.DD-NNN version, restarting
// the sequence each UTC calendar day (spec.md §4.6 "Versioning").
func (b *Builder) nextVersionLocked() string {
	day := b.now().UTC().Format("2006.01.02")
	if day != b.daySeq {
		b.daySeq = day
		b.daySeqNum = 0
	}
	b.daySeqNum++
	return fmt.Sprintf("%s-%03d", day, b.daySeqNum)
}

// normalizeScopes ensures policy:base is always first and duplicates are
// removed, preserving first-seen order otherwise (spec.md §4.6).
func normalizeScopes(requested []string) []string {
	seen := map[string]bool{baseScope: true}
	out := []string{baseScope}
	for _, s := range requested {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
