// Package publish implements the Policy/Data Publisher (spec.md §4.7):
// pushing bundle metadata and inline data to the data plane and
// broadcasting refresh signals with bounded retry. The refresh broadcast
// reuses go-retryablehttp's own backoff calculator (DefaultBackoff:
// doubling from backoffBase, capped at backoffCap) rather than a
// hand-rolled doubling loop, the same library already
// wired into internal/httpclient for the hub's outbound transport.
package publish

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/dive-federation/hub/internal/bundle"
	"github.com/dive-federation/hub/internal/errs"
)

// trustedIssuersPath is the inline-data path the trusted-issuers list is
// published under (spec.md §4.7 "ground-truth data (federation matrix,
// trusted issuers)").
const trustedIssuersPath = "trusted-issuers"

const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 30 * time.Second
	maxAttempts = 5
)

// DataPlane abstracts the push targets a publish reaches: the set of
// connected spokes pulling bundles/data over their own channel.
type DataPlane interface {
	// AnnounceBundle notifies the data plane that b is now current; the
	// data plane is expected to pull the artifact by content hash.
	AnnounceBundle(ctx context.Context, b bundle.Bundle) error
	// PushData writes data at path, idempotent when data is unchanged.
	PushData(ctx context.Context, path string, data []byte) error
	// Refresh asks every connected spoke to reload; returns an error per
	// spoke that failed to acknowledge.
	Refresh(ctx context.Context) error
}

// InlineDataStore records the last-published value per path so
// PublishInlineData can be idempotent (spec.md §4.7).
type InlineDataStore interface {
	Get(ctx context.Context, path string) ([]byte, bool, error)
	Put(ctx context.Context, path string, data []byte) error
}

// TrustedIssuersUpdater updates the trusted-issuers list, invoked when a
// spoke approval or revocation changes it (spec.md §4.7 "Changes in
// spoke status propagate here").
type TrustedIssuersUpdater interface {
	UpdateTrustedIssuers(ctx context.Context, issuers []string) error
}

// Publisher pushes bundles and data to the data plane.
type Publisher struct {
	plane DataPlane
	data  InlineDataStore
	sleep func(time.Duration)
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSleep overrides time.Sleep, for deterministic backoff tests.
func WithSleep(sleep func(time.Duration)) Option { return func(p *Publisher) { p.sleep = sleep } }

// New builds a Publisher.
func New(plane DataPlane, data InlineDataStore, opts ...Option) *Publisher {
	p := &Publisher{plane: plane, data: data, sleep: time.Sleep}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish emits the current bundle's metadata to the data plane (spec.md
// §4.7 "Publish").
func (p *Publisher) Publish(ctx context.Context, current bundle.Bundle) error {
	if err := p.plane.AnnounceBundle(ctx, current); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "announcing bundle %s", current.BundleID)
	}
	return nil
}

// PublishInlineData atomically updates a named data path, no-op when
// data is unchanged (spec.md §4.7 "PublishInlineData").
func (p *Publisher) PublishInlineData(ctx context.Context, path string, data []byte, reason string) error {
	existing, ok, err := p.data.Get(ctx, path)
	if err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "reading existing data at %s", path)
	}
	if ok && bytesEqual(existing, data) {
		return nil
	}
	if err := p.data.Put(ctx, path, data); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "persisting data at %s", path)
	}
	if err := p.plane.PushData(ctx, path, data); err != nil {
		return errs.Wrap(errs.TransientIO, "", err, "pushing data at %s (reason=%s)", path, reason)
	}
	return nil
}

// UpdateTrustedIssuers publishes the current approved-spoke issuer list
// as inline data, satisfying TrustedIssuersUpdater (spec.md §4.7
// "Changes in spoke status propagate here"). The list is sorted so the
// byte comparison in PublishInlineData is insensitive to map iteration
// order in the caller.
func (p *Publisher) UpdateTrustedIssuers(ctx context.Context, issuers []string) error {
	sorted := append([]string(nil), issuers...)
	sort.Strings(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return errs.Wrap(errs.Fatal, "", err, "encoding trusted issuers")
	}
	return p.PublishInlineData(ctx, trustedIssuersPath, data, "trusted issuers changed")
}

// TriggerRefresh broadcasts a reload signal to the data plane, retrying
// with retryablehttp's exponential backoff up to maxAttempts (spec.md
// §4.7 "TriggerRefresh").
func (p *Publisher) TriggerRefresh(ctx context.Context) error {
	var merr *multierror.Error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := p.plane.Refresh(ctx)
		if err == nil {
			return nil
		}
		merr = multierror.Append(merr, err)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			merr = multierror.Append(merr, ctx.Err())
			return errs.Wrap(errs.Timeout, "", merr.ErrorOrNil(), "refresh broadcast aborted")
		default:
		}
		p.sleep(retryablehttp.DefaultBackoff(backoffBase, backoffCap, attempt-1, nil))
	}
	return errs.Wrap(errs.TransientIO, "", merr.ErrorOrNil(), "refresh broadcast failed after %d attempts", maxAttempts)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
