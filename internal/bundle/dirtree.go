package bundle

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dive-federation/hub/internal/errs"
)

// DirSourceTree is a SourceTree backed by an on-disk policy repo, laid
// out as one top-level directory per scope root (e.g. "policy:fvey" ->
// "<root>/fvey/"); "policy:base" maps to "<root>/base/" (spec.md §4.6
// "policy source tree").
type DirSourceTree struct {
	root     string
	revision string
}

// NewDirSourceTree builds a DirSourceTree rooted at root. revision
// defaults to the literal "unversioned"; callers that track a real commit
// hash should use WithRevision.
func NewDirSourceTree(root string) *DirSourceTree {
	return &DirSourceTree{root: root, revision: "unversioned"}
}

// WithRevision overrides the source tree's reported revision identifier.
func (t *DirSourceTree) WithRevision(rev string) *DirSourceTree {
	t.revision = rev
	return t
}

func scopeDir(scope string) string {
	return strings.TrimPrefix(scope, "policy:")
}

// FilesForScope implements SourceTree.
func (t *DirSourceTree) FilesForScope(scope string) ([]FileEntry, error) {
	dir := filepath.Join(t.root, scopeDir(scope))
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// an unknown or not-yet-populated scope contributes no files,
			// per spec.md §3.6 "unknown scope names do not fail the build".
			return nil, nil
		}
		return nil, errs.Wrap(errs.TransientIO, "", err, "statting scope directory %s", dir)
	}
	if !info.IsDir() {
		return nil, errs.New(errs.InvalidInput, "", "%s is not a directory", dir)
	}

	var entries []FileEntry
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{Path: filepath.ToSlash(rel), Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.TransientIO, "", err, "walking scope directory %s", dir)
	}
	return entries, nil
}

// Content implements SourceTree.
func (t *DirSourceTree) Content(path string) ([]byte, error) {
	full := filepath.Join(t.root, filepath.FromSlash(path))
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, errs.Wrap(errs.TransientIO, "", err, "reading %s", full)
	}
	return data, nil
}

// Revision implements SourceTree.
func (t *DirSourceTree) Revision() string { return t.revision }
