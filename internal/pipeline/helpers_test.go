package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/observability"
	"github.com/couchcryptid/quake-feed-service/internal/pipeline"
	"github.com/couchcryptid/quake-feed-service/internal/store/sqlite"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

// fakeSource serves blocks in order and repeats the last one. A nil entry
// in errs at the same index means success.
type fakeSource struct {
	mu     sync.Mutex
	blocks []string
	errs   []error
	calls  int
}

func (f *fakeSource) FetchBlock(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.calls, len(f.blocks)-1)
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return f.blocks[i], nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingIngester struct {
	mu     sync.Mutex
	blocks []string
	err    error
}

func (r *recordingIngester) IngestBlock(_ context.Context, block string) (pipeline.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, block)
	return pipeline.Result{}, r.err
}

func (r *recordingIngester) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}

type failingStore struct{}

func (failingStore) InsertNew(_ context.Context, _ []domain.Event) ([]domain.Event, error) {
	return nil, &domain.PersistenceError{Op: "commit insert", Err: errors.New("disk I/O error")}
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates []domain.Update
}

func (n *recordingNotifier) Broadcast(u domain.Update) (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, u)
	return 1, 0
}

func (n *recordingNotifier) Updates() []domain.Update {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Update(nil), n.updates...)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published [][]domain.Event
	err       error
}

func (p *recordingPublisher) PublishEvents(_ context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, events)
	return p.err
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "quakes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var (
	hekimhan = domain.Event{Date: "2024.12.30", Time: "14:15:32", Lat: 38.741, Lng: 37.5255, Depth: 5, Mag: 1.6, Location: "HEKIMHAN (MALATYA)"}
	akdeniz  = domain.Event{Date: "2024.12.30", Time: "13:02:51", Lat: 35.9, Lng: 29.8, Depth: 14.2, Mag: 2.7, Location: "AKDENIZ"}
	sindirgi = domain.Event{Date: "2024.12.30", Time: "12:40:09", Lat: 39.2, Lng: 28.17, Depth: 7.3, Mag: 3.4, Location: "SINDIRGI (BALIKESIR)"}
)
