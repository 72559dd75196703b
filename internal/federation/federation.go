// Package federation implements the Resource Federation Syncer (spec.md
// §3.8, §4.8): scheduled push-pull resource synchronization with a
// peer hub, with deterministic conflict resolution and a 90-day
// sync-log. Grounded on the teacher's single-flight-per-key reconciler
// loop, generalized from one Kubernetes object per key to one peer pair
// per key.
package federation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dive-federation/hub/internal/errs"
)

// Resource is a federation resource (spec.md §3.8).
type Resource struct {
	ResourceID      string
	Title           string
	Classification  string
	ReleasabilityTo []string
	COI             []string
	OriginRealm     string
	Version         int64
	LastModified    time.Time
	SyncStatus      map[string]SyncStatus
	ImportedFrom    string
}

// SyncStatus is per-peer delivery state on a resource (spec.md §3.8).
type SyncStatus struct {
	Synced    bool
	Timestamp time.Time
	Version   int64
}

// Resolution is the outcome of applying conflict resolution to one
// remote resource (spec.md §4.8 step 4).
type Resolution string

const (
	Inserted    Resolution = "inserted"
	LocalWins   Resolution = "local_wins"
	RemoteWins  Resolution = "remote_wins"
	NoOp        Resolution = "no_op"
)

// Conflict is a structured conflict record (spec.md §4.8 "Conflict log").
type Conflict struct {
	ResourceID    string
	LocalVersion  int64
	RemoteVersion int64
	Resolution    Resolution
	Reason        string
}

// SyncResult is appended to the sync-log each cycle (spec.md §4.8).
type SyncResult struct {
	CorrelationID string
	Timestamp     time.Time
	Source        string
	Target        string
	Synced        int
	Updated       int
	Conflicted    int
	Conflicts     []Conflict
	DurationMS    int64
}

// TopSecret is the classification that must never be federated (spec.md
// §3.8 invariant).
const TopSecret = "TOP_SECRET"

// Eligible reports whether a resource may be federated at all (spec.md
// §3.8: TOP_SECRET never federated; single-country resource never
// federated).
func Eligible(r Resource) bool {
	if r.Classification == TopSecret {
		return false
	}
	if len(r.ReleasabilityTo) < 2 {
		return false
	}
	return true
}

// ReleasableTo reports whether r may be released to realm (spec.md §4.8
// step 1 "eligible local resources").
func ReleasableTo(r Resource, realm string) bool {
	if !Eligible(r) {
		return false
	}
	for _, code := range r.ReleasabilityTo {
		if code == realm {
			return true
		}
	}
	return false
}

// LocalStore abstracts the resources collection for one local realm.
type LocalStore interface {
	EligibleFor(ctx context.Context, peerRealm string) ([]Resource, error)
	Get(ctx context.Context, resourceID string) (Resource, bool, error)
	Upsert(ctx context.Context, r Resource) error
	MarkSynced(ctx context.Context, resourceID, peerRealm string, version int64, at time.Time) error
}

// PeerClient performs the outbound push/pull HTTP calls to one peer
// (spec.md §4.8 steps 2-3, §6 "Outbound HTTP").
type PeerClient interface {
	PushResources(ctx context.Context, correlationID string, resources []Resource) error
	PullResources(ctx context.Context, releasableTo, excludeOrigin string) ([]Resource, error)
}

// SyncLog persists SyncResult records with a 90-day TTL (spec.md §6
// federation_sync collection).
type SyncLog interface {
	Append(ctx context.Context, result SyncResult) error
}

// pairKey identifies one (local, peer) sync job (spec.md §4.8
// "Scheduler").
type pairKey struct{ local, peer string }

// Syncer runs one coalesced sync job per (local, peer) pair.
type Syncer struct {
	mu       sync.Mutex
	inFlight map[pairKey]bool

	localRealm string
	store      LocalStore
	log        SyncLog
	cycleDeadline time.Duration
	clock      func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithCycleDeadline overrides the default 60s per-cycle deadline.
func WithCycleDeadline(d time.Duration) Option { return func(s *Syncer) { s.cycleDeadline = d } }

// WithClock overrides time.Now, for deterministic conflict resolution
// in tests.
func WithClock(c func() time.Time) Option { return func(s *Syncer) { s.clock = c } }

// NewSyncer builds a Syncer for localRealm.
func NewSyncer(localRealm string, store LocalStore, log SyncLog, opts ...Option) *Syncer {
	s := &Syncer{
		inFlight:      map[pairKey]bool{},
		localRealm:    localRealm,
		store:         store,
		log:           log,
		cycleDeadline: 60 * time.Second,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Syncer) now() time.Time { return s.clock() }

// Sync runs one push-pull cycle against peerRealm via client. Overlapping
// triggers for the same pair coalesce: a call while one is already
// in-flight returns immediately with ok=false (spec.md §4.8 "Scheduler").
func (s *Syncer) Sync(ctx context.Context, peerRealm string, client PeerClient) (result SyncResult, ok bool, err error) {
	key := pairKey{local: s.localRealm, peer: peerRealm}

	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		return SyncResult{}, false, nil
	}
	s.inFlight[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cycleDeadline)
	defer cancel()

	start := s.now()
	correlationID := uuid.New().String()
	result = SyncResult{CorrelationID: correlationID, Timestamp: start, Source: s.localRealm, Target: peerRealm}

	// Step 1-2: push eligible local resources.
	eligible, err := s.store.EligibleFor(ctx, peerRealm)
	if err != nil {
		result.DurationMS = s.now().Sub(start).Milliseconds()
		s.logResult(ctx, result)
		return result, true, errs.Wrap(errs.TransientIO, correlationID, err, "selecting eligible local resources")
	}
	if len(eligible) > 0 {
		if pushErr := client.PushResources(ctx, correlationID, eligible); pushErr != nil {
			// a push failure does not abort the cycle; it is accumulated.
			result.Conflicts = append(result.Conflicts, Conflict{Reason: "push failed: " + pushErr.Error()})
		} else {
			for _, r := range eligible {
				_ = s.store.MarkSynced(ctx, r.ResourceID, peerRealm, r.Version, s.now())
			}
		}
	}

	// Step 3-4: pull from peer and resolve conflicts.
	remote, err := client.PullResources(ctx, s.localRealm, s.localRealm)
	if err != nil {
		result.DurationMS = s.now().Sub(start).Milliseconds()
		s.logResult(ctx, result)
		return result, true, errs.Wrap(errs.TransientIO, correlationID, err, "pulling resources from %s", peerRealm)
	}

	for _, rr := range remote {
		local, found, gerr := s.store.Get(ctx, rr.ResourceID)
		if gerr != nil {
			result.Conflicts = append(result.Conflicts, Conflict{ResourceID: rr.ResourceID, Reason: "lookup failed: " + gerr.Error()})
			result.Conflicted++
			continue
		}

		resolution, winning, reason := resolve(local, found, rr, s.localRealm)
		if resolution != Inserted {
			result.Conflicts = append(result.Conflicts, Conflict{
				ResourceID:    rr.ResourceID,
				LocalVersion:  local.Version,
				RemoteVersion: rr.Version,
				Resolution:    resolution,
				Reason:        reason,
			})
		}
		switch resolution {
		case Inserted, RemoteWins:
			winning.ImportedFrom = peerRealm
			if uerr := s.store.Upsert(ctx, winning); uerr != nil {
				result.Conflicts = append(result.Conflicts, Conflict{ResourceID: rr.ResourceID, Resolution: resolution, Reason: uerr.Error()})
				result.Conflicted++
				continue
			}
			result.Updated++
		case LocalWins, NoOp:
			// already in sync: local stays authoritative, no write needed.
			result.Synced++
		}
	}

	result.DurationMS = s.now().Sub(start).Milliseconds()
	s.logResult(ctx, result)
	return result, true, nil
}

// resolve applies the deterministic conflict-resolution chain (spec.md
// §4.8 step 4).
func resolve(local Resource, localFound bool, remote Resource, localRealm string) (Resolution, Resource, string) {
	if !localFound {
		return Inserted, remote, "absent locally"
	}
	if local.OriginRealm == localRealm {
		return LocalWins, local, "local realm is origin authority"
	}
	if remote.Version > local.Version {
		return RemoteWins, remote, "remote version is newer"
	}
	if remote.Version == local.Version {
		if remote.LastModified.After(local.LastModified) {
			return RemoteWins, remote, "equal version, remote lastModified is newer"
		}
		return LocalWins, local, "equal version, local lastModified is newer or equal"
	}
	return LocalWins, local, "local version is newer"
}

func (s *Syncer) logResult(ctx context.Context, result SyncResult) {
	if s.log == nil {
		return
	}
	_ = s.log.Append(ctx, result)
}
