package publish

import (
	"context"

	"github.com/dive-federation/hub/internal/bundle"
)

// noopDataPlane is a DataPlane with no real spoke transport wired in;
// the hub-to-spoke push channel is out of scope for this bundle
// (spec.md §1 lists connected-spoke push/pull transport among the
// external collaborators). Both `hubd bundle publish` and app.Bootstrap
// use it; no other DataPlane implementation exists in this tree.
type noopDataPlane struct{}

// NewNoopDataPlane returns a DataPlane that records success without
// performing any outbound call.
func NewNoopDataPlane() DataPlane { return noopDataPlane{} }

func (noopDataPlane) AnnounceBundle(ctx context.Context, b bundle.Bundle) error { return nil }
func (noopDataPlane) PushData(ctx context.Context, path string, data []byte) error { return nil }
func (noopDataPlane) Refresh(ctx context.Context) error { return nil }
