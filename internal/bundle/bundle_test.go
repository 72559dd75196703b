package bundle

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/stretchr/testify/require"
)

type fakeSourceTree struct {
	files   map[string][]FileEntry
	content map[string][]byte
	rev     string
}

func (f *fakeSourceTree) FilesForScope(scope string) ([]FileEntry, error) {
	return f.files[scope], nil
}
func (f *fakeSourceTree) Content(path string) ([]byte, error) { return f.content[path], nil }
func (f *fakeSourceTree) Revision() string                    { return f.rev }

type fakeArtifactStore struct {
	put     map[string]Manifest
	hasCall int
}

func (a *fakeArtifactStore) Put(ctx context.Context, hash string, m Manifest) error {
	a.put[hash] = m
	return nil
}
func (a *fakeArtifactStore) Has(ctx context.Context, hash string) (bool, error) {
	a.hasCall++
	_, ok := a.put[hash]
	return ok, nil
}

type fakeCurrentStore struct {
	current Bundle
	set     bool
}

func (c *fakeCurrentStore) SetCurrent(ctx context.Context, b Bundle) error {
	c.current = b
	c.set = true
	return nil
}
func (c *fakeCurrentStore) GetCurrent(ctx context.Context) (Bundle, bool, error) {
	return c.current, c.set, nil
}

func newFixture() (*fakeSourceTree, *fakeArtifactStore, *fakeCurrentStore) {
	source := &fakeSourceTree{
		rev: "rev-1",
		files: map[string][]FileEntry{
			"policy:base": {{Path: "base/rules.yaml"}},
			"policy:fvey": {{Path: "fvey/rules.yaml"}},
		},
		content: map[string][]byte{
			"base/rules.yaml": []byte("base-content"),
			"fvey/rules.yaml": []byte("fvey-content"),
		},
	}
	return source, &fakeArtifactStore{put: map[string]Manifest{}}, &fakeCurrentStore{}
}

func TestNormalizeScopes_AlwaysPrependsBaseAndDedupes(t *testing.T) {
	got := normalizeScopes([]string{"policy:fvey", "policy:base", "policy:fvey", " ", "policy:nato"})
	require.Equal(t, []string{"policy:base", "policy:fvey", "policy:nato"}, got)
}

func TestBuilder_BuildIncludesOnlyRequestedScopes(t *testing.T) {
	source, artifacts, current := newFixture()
	builder := NewBuilder(source, artifacts, current, nil)

	built, err := builder.Build(context.Background(), BuildOptions{Scopes: nil})
	require.NoError(t, err)
	require.Equal(t, 1, built.FileCount, "no extra scope requested, only policy:base files appear")
	require.False(t, built.Signed)
	require.True(t, current.set)
	require.Equal(t, built.BundleID, current.current.BundleID)
}

func TestBuilder_BuildWithExtraScope(t *testing.T) {
	source, artifacts, current := newFixture()
	builder := NewBuilder(source, artifacts, current, nil)

	built, err := builder.Build(context.Background(), BuildOptions{Scopes: []string{"policy:fvey"}})
	require.NoError(t, err)
	require.Equal(t, 2, built.FileCount)
	require.ElementsMatch(t, []string{"policy:base", "policy:fvey"}, built.Scopes)
}

func TestBuilder_UnknownScopeContributesNoFiles(t *testing.T) {
	source, artifacts, current := newFixture()
	builder := NewBuilder(source, artifacts, current, nil)

	built, err := builder.Build(context.Background(), BuildOptions{Scopes: []string{"policy:unknown"}})
	require.NoError(t, err)
	require.Equal(t, 1, built.FileCount)
}

func TestBuilder_IdenticalContentProducesSameHashAndSkipsArtifactWrite(t *testing.T) {
	source, artifacts, current := newFixture()
	builder := NewBuilder(source, artifacts, current, nil)

	first, err := builder.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	second, err := builder.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)

	require.Equal(t, first.Hash, second.Hash)
	require.Len(t, artifacts.put, 1, "the second build's identical hash must not produce a second artifact")
}

func TestBuilder_VersionSequenceResetsPerUTCDay(t *testing.T) {
	source, artifacts, current := newFixture()
	day1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cur := day1
	builder := NewBuilder(source, artifacts, current, nil, WithClock(func() time.Time { return cur }))

	b1, err := builder.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, "2026.01.01-001", b1.Version)

	source.content["base/rules.yaml"] = []byte("changed-content")
	b2, err := builder.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, "2026.01.01-002", b2.Version)

	cur = day1.Add(24 * time.Hour)
	source.content["base/rules.yaml"] = []byte("changed-again")
	b3, err := builder.Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	require.Equal(t, "2026.01.02-001", b3.Version, "the sequence must restart on a new UTC calendar day")
}

func TestBuilder_SignedBuildRequiresSigner(t *testing.T) {
	source, artifacts, current := newFixture()
	builder := NewBuilder(source, artifacts, current, nil)

	_, err := builder.Build(context.Background(), BuildOptions{Sign: true})
	require.Error(t, err)
}

type fakeSigner struct {
	keyID string
	calls int
}

func (f *fakeSigner) SignMessage(message io.Reader, opts ...signature.SignOption) ([]byte, error) {
	f.calls++
	_, _ = io.ReadAll(message)
	return []byte("sig"), nil
}
func (f *fakeSigner) KeyID() string { return f.keyID }

func TestBuilder_SignedBuildSetsMetadata(t *testing.T) {
	source, artifacts, current := newFixture()
	signer := &fakeSigner{keyID: "hub-key-1"}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	builder := NewBuilder(source, artifacts, current, signer, WithClock(func() time.Time { return now }))

	built, err := builder.Build(context.Background(), BuildOptions{Sign: true})
	require.NoError(t, err)
	require.True(t, built.Signed)
	require.Equal(t, "hub-key-1", built.SignedBy)
	require.Equal(t, now, built.SignedAt)
	require.Equal(t, 1, signer.calls)
}
