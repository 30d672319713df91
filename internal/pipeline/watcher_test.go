package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/digest"
	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/observability"
	"github.com/couchcryptid/quake-feed-service/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDigests is an in-process digest.Store.
type memDigests struct {
	mu      sync.Mutex
	value   string
	known   bool
	saveErr error
	saves   int
}

func (m *memDigests) Load(_ context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.known, nil
}

func (m *memDigests) Save(_ context.Context, d string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.value, m.known = d, true
	return nil
}

func (m *memDigests) Close() error { return nil }

var _ digest.Store = (*memDigests)(nil)

func TestWatcher_IdenticalPollsNeverIngest(t *testing.T) {
	blockA := domain.FormatBlock([]domain.Event{hekimhan})
	blockB := domain.FormatBlock([]domain.Event{akdeniz, hekimhan})

	src := &fakeSource{blocks: []string{blockA, blockA, blockA, blockA, blockA, blockB}}
	digests := &memDigests{value: digest.Of(blockA), known: true}
	ingester := &recordingIngester{}
	w := pipeline.NewWatcher(src, digests, ingester, discardLogger(), newTestMetrics())

	for i := 0; i < 5; i++ {
		triggered, err := w.CheckAndMaybeTrigger(context.Background())
		require.NoError(t, err)
		assert.False(t, triggered, "poll %d", i+1)
	}
	assert.Zero(t, ingester.Calls())

	triggered, err := w.CheckAndMaybeTrigger(context.Background())
	require.NoError(t, err)
	assert.True(t, triggered)
	require.Equal(t, 1, ingester.Calls())
	assert.Equal(t, blockB, ingester.blocks[0])
	assert.Equal(t, digest.Of(blockB), digests.value)
}

func TestWatcher_UnknownDigestTriggers(t *testing.T) {
	block := domain.FormatBlock([]domain.Event{hekimhan})
	src := &fakeSource{blocks: []string{block}}
	digests := &memDigests{}
	ingester := &recordingIngester{}
	w := pipeline.NewWatcher(src, digests, ingester, discardLogger(), newTestMetrics())

	triggered, err := w.CheckAndMaybeTrigger(context.Background())
	require.NoError(t, err)
	assert.True(t, triggered)

	triggered, err = w.CheckAndMaybeTrigger(context.Background())
	require.NoError(t, err)
	assert.False(t, triggered)
	assert.Equal(t, 1, ingester.Calls())
}

func TestWatcher_WhitespaceOnlyChangeIsNotAChange(t *testing.T) {
	block := domain.FormatBlock([]domain.Event{hekimhan})
	src := &fakeSource{blocks: []string{"\n" + block + "\n\n"}}
	digests := &memDigests{value: digest.Of(block), known: true}
	ingester := &recordingIngester{}
	w := pipeline.NewWatcher(src, digests, ingester, discardLogger(), newTestMetrics())

	triggered, err := w.CheckAndMaybeTrigger(context.Background())
	require.NoError(t, err)
	assert.False(t, triggered)
}

func TestWatcher_FetchFailureKeepsDigest(t *testing.T) {
	baseline := digest.Of("baseline")
	src := &fakeSource{
		blocks: []string{""},
		errs:   []error{&domain.FetchError{URL: "http://feed", Err: context.DeadlineExceeded}},
	}
	digests := &memDigests{value: baseline, known: true}
	ingester := &recordingIngester{}
	metrics := newTestMetrics()
	w := pipeline.NewWatcher(src, digests, ingester, discardLogger(), metrics)

	triggered, err := w.CheckAndMaybeTrigger(context.Background())
	assert.True(t, domain.IsFetchFailure(err))
	assert.False(t, triggered)
	assert.Zero(t, ingester.Calls())
	assert.Zero(t, digests.saves)
	assert.Equal(t, baseline, digests.value)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.WatcherChecks.WithLabelValues(observability.CheckFailed)), 1e-9)
}

func TestWatcher_MissingBlockIsNoChange(t *testing.T) {
	src := &fakeSource{blocks: []string{""}, errs: []error{domain.ErrFeedBlockMissing}}
	digests := &memDigests{}
	ingester := &recordingIngester{}
	w := pipeline.NewWatcher(src, digests, ingester, discardLogger(), newTestMetrics())

	triggered, err := w.CheckAndMaybeTrigger(context.Background())
	require.NoError(t, err)
	assert.False(t, triggered)
	assert.Zero(t, digests.saves)
	assert.Zero(t, ingester.Calls())
}

func TestWatcher_DigestSaveFailureStillIngests(t *testing.T) {
	src := &fakeSource{blocks: []string{domain.FormatBlock([]domain.Event{hekimhan})}}
	digests := &memDigests{saveErr: errors.New("read-only file system")}
	ingester := &recordingIngester{}
	w := pipeline.NewWatcher(src, digests, ingester, discardLogger(), newTestMetrics())

	triggered, err := w.CheckAndMaybeTrigger(context.Background())
	require.NoError(t, err)
	assert.True(t, triggered)
	assert.Equal(t, 1, ingester.Calls())
}

// blockingSource holds every fetch until released.
type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingSource) FetchBlock(ctx context.Context) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return domain.FormatBlock([]domain.Event{hekimhan}), nil
}

func TestWatcher_BusyCheckSkips(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
	ingester := &recordingIngester{}
	metrics := newTestMetrics()
	w := pipeline.NewWatcher(src, &memDigests{}, ingester, discardLogger(), metrics)

	done := make(chan bool)
	go func() {
		triggered, _ := w.CheckAndMaybeTrigger(context.Background())
		done <- triggered
	}()

	select {
	case <-src.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first check never fetched")
	}

	triggered, err := w.CheckAndMaybeTrigger(context.Background())
	require.NoError(t, err)
	assert.False(t, triggered)

	close(src.release)
	assert.True(t, <-done)

	src.mu.Lock()
	assert.Equal(t, 1, src.calls)
	src.mu.Unlock()
	assert.Equal(t, 1, ingester.Calls())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.WatcherChecks.WithLabelValues(observability.CheckSkipped)), 1e-9)
}
