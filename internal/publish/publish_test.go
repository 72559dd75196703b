package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dive-federation/hub/internal/bundle"
)

type fakePlane struct {
	announceErr   error
	announceCalls int
	pushErr       error
	pushCalls     int
	refreshErrs   []error
	refreshCalls  int
}

func (f *fakePlane) AnnounceBundle(ctx context.Context, b bundle.Bundle) error {
	f.announceCalls++
	return f.announceErr
}

func (f *fakePlane) PushData(ctx context.Context, path string, data []byte) error {
	f.pushCalls++
	return f.pushErr
}

func (f *fakePlane) Refresh(ctx context.Context) error {
	idx := f.refreshCalls
	f.refreshCalls++
	if idx < len(f.refreshErrs) {
		return f.refreshErrs[idx]
	}
	return nil
}

type fakeInlineStore struct {
	data map[string][]byte
	puts int
}

func newFakeInlineStore() *fakeInlineStore { return &fakeInlineStore{data: map[string][]byte{}} }

func (f *fakeInlineStore) Get(ctx context.Context, path string) ([]byte, bool, error) {
	v, ok := f.data[path]
	return v, ok, nil
}

func (f *fakeInlineStore) Put(ctx context.Context, path string, data []byte) error {
	f.puts++
	f.data[path] = data
	return nil
}

func noSleep(time.Duration) {}

func TestPublish_AnnouncesBundle(t *testing.T) {
	plane := &fakePlane{}
	p := New(plane, newFakeInlineStore(), WithSleep(noSleep))

	err := p.Publish(context.Background(), bundle.Bundle{BundleID: "b1"})
	require.NoError(t, err)
	require.Equal(t, 1, plane.announceCalls)
}

func TestPublish_AnnounceErrorIsWrapped(t *testing.T) {
	plane := &fakePlane{announceErr: errors.New("boom")}
	p := New(plane, newFakeInlineStore(), WithSleep(noSleep))

	err := p.Publish(context.Background(), bundle.Bundle{BundleID: "b1"})
	require.Error(t, err)
}

func TestPublishInlineData_FirstWriteAlwaysPushes(t *testing.T) {
	plane := &fakePlane{}
	store := newFakeInlineStore()
	p := New(plane, store, WithSleep(noSleep))

	err := p.PublishInlineData(context.Background(), "trusted-issuers", []byte("a,b"), "spoke approved")
	require.NoError(t, err)
	require.Equal(t, 1, store.puts)
	require.Equal(t, 1, plane.pushCalls)
}

func TestPublishInlineData_UnchangedDataIsNoop(t *testing.T) {
	plane := &fakePlane{}
	store := newFakeInlineStore()
	p := New(plane, store, WithSleep(noSleep))

	require.NoError(t, p.PublishInlineData(context.Background(), "trusted-issuers", []byte("a,b"), "first"))
	require.NoError(t, p.PublishInlineData(context.Background(), "trusted-issuers", []byte("a,b"), "second"))

	require.Equal(t, 1, store.puts, "identical data must not be re-persisted")
	require.Equal(t, 1, plane.pushCalls, "identical data must not be re-pushed")
}

func TestPublishInlineData_ChangedDataPushesAgain(t *testing.T) {
	plane := &fakePlane{}
	store := newFakeInlineStore()
	p := New(plane, store, WithSleep(noSleep))

	require.NoError(t, p.PublishInlineData(context.Background(), "trusted-issuers", []byte("a,b"), "first"))
	require.NoError(t, p.PublishInlineData(context.Background(), "trusted-issuers", []byte("a,b,c"), "second"))

	require.Equal(t, 2, store.puts)
	require.Equal(t, 2, plane.pushCalls)
}

func TestTriggerRefresh_SucceedsOnFirstAttemptWithoutSleeping(t *testing.T) {
	plane := &fakePlane{}
	slept := 0
	p := New(plane, newFakeInlineStore(), WithSleep(func(time.Duration) { slept++ }))

	err := p.TriggerRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, plane.refreshCalls)
	require.Equal(t, 0, slept)
}

func TestTriggerRefresh_RetriesWithBackoffThenSucceeds(t *testing.T) {
	plane := &fakePlane{refreshErrs: []error{errors.New("e1"), errors.New("e2")}}
	var delays []time.Duration
	p := New(plane, newFakeInlineStore(), WithSleep(func(d time.Duration) { delays = append(delays, d) }))

	err := p.TriggerRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, plane.refreshCalls)
	require.Len(t, delays, 2, "one sleep between each failed attempt and the next")
	for _, d := range delays {
		require.GreaterOrEqual(t, d, 500*time.Millisecond, "DefaultBackoff never returns less than the configured base")
	}
}

func TestTriggerRefresh_ExhaustsAttemptsAndReturnsError(t *testing.T) {
	errs := make([]error, 0, 5)
	for i := 0; i < 5; i++ {
		errs = append(errs, errors.New("fail"))
	}
	plane := &fakePlane{refreshErrs: errs}
	slept := 0
	p := New(plane, newFakeInlineStore(), WithSleep(func(time.Duration) { slept++ }))

	err := p.TriggerRefresh(context.Background())
	require.Error(t, err)
	require.Equal(t, 5, plane.refreshCalls)
	require.Equal(t, 4, slept, "sleep happens between attempts, never after the last one")
}

func TestTriggerRefresh_ContextCancelledAbortsEarly(t *testing.T) {
	plane := &fakePlane{refreshErrs: []error{errors.New("e1")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(plane, newFakeInlineStore(), WithSleep(noSleep))

	err := p.TriggerRefresh(ctx)
	require.Error(t, err)
	require.Equal(t, 1, plane.refreshCalls, "must stop retrying once the context is done")
}

func TestUpdateTrustedIssuers_PublishesSortedJSONList(t *testing.T) {
	plane := &fakePlane{}
	store := newFakeInlineStore()
	p := New(plane, store, WithSleep(noSleep))

	err := p.UpdateTrustedIssuers(context.Background(), []string{"https://b.example/idp", "https://a.example/idp"})
	require.NoError(t, err)
	require.Equal(t, 1, store.puts)
	require.Equal(t, 1, plane.pushCalls)
	require.JSONEq(t, `["https://a.example/idp","https://b.example/idp"]`, string(store.data["trusted-issuers"]))
}

func TestUpdateTrustedIssuers_UnchangedListIsNoop(t *testing.T) {
	plane := &fakePlane{}
	store := newFakeInlineStore()
	p := New(plane, store, WithSleep(noSleep))

	require.NoError(t, p.UpdateTrustedIssuers(context.Background(), []string{"https://a.example/idp"}))
	require.NoError(t, p.UpdateTrustedIssuers(context.Background(), []string{"https://a.example/idp"}))
	require.Equal(t, 1, store.puts, "an identical issuer list must not be re-pushed")
}

func TestNewNoopDataPlane_NeverErrors(t *testing.T) {
	plane := NewNoopDataPlane()
	require.NoError(t, plane.AnnounceBundle(context.Background(), bundle.Bundle{}))
	require.NoError(t, plane.PushData(context.Background(), "p", []byte("d")))
	require.NoError(t, plane.Refresh(context.Background()))
}
