package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "quakes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEvents() []domain.Event {
	return []domain.Event{
		{Date: "2024.12.30", Time: "14:15:32", Lat: 38.741, Lng: 37.5255, Depth: 5, Mag: 1.6, Location: "HEKIMHAN (MALATYA)"},
		{Date: "2024.12.30", Time: "09:02:11", Lat: 36.1, Lng: 29.9, Depth: 12.4, Mag: 3.1, Location: "AKDENIZ"},
		{Date: "2024.12.29", Time: "23:59:59", Lat: 39.2, Lng: 28.17, Depth: 7.3, Mag: 2.4, Location: "SINDIRGI (BALIKESİR)"},
	}
}

func TestInsertIfNew_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n, err := s.InsertIfNew(ctx, sampleEvents())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.InsertIfNew(ctx, sampleEvents())
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := s.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestInsertNew_ReproducedKeyKeepsFirstRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	original := sampleEvents()[0]
	_, err := s.InsertNew(ctx, []domain.Event{original})
	require.NoError(t, err)

	revised := original
	revised.Mag = 4.2
	revised.Depth = 11
	fresh := domain.Event{Date: "2024.12.31", Time: "00:00:01", Lat: 40, Lng: 30, Depth: 3, Mag: 2, Location: "IZMIT"}

	inserted, err := s.InsertNew(ctx, []domain.Event{revised, fresh})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, fresh, inserted[0])

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, e := range all {
		if e.Key() == original.Key() {
			assert.InDelta(t, 1.6, e.Mag, 1e-9)
			assert.InDelta(t, 5.0, e.Depth, 1e-9)
		}
	}
}

func TestInsertNew_DuplicateWithinBatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e := sampleEvents()[1]
	inserted, err := s.InsertNew(ctx, []domain.Event{e, e})
	require.NoError(t, err)
	assert.Len(t, inserted, 1)
}

func TestInsertNew_Empty(t *testing.T) {
	s := openTestStore(t)
	inserted, err := s.InsertNew(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, inserted)
}

func TestInsertNew_CancelledContextLeavesNoRows(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.InsertNew(ctx, sampleEvents())
	require.Error(t, err)
	assert.True(t, domain.IsPersistenceFailure(err))

	count, err := s.CountAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInsertNew_FailurePartwayRollsBackBatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.db.ExecContext(ctx, `CREATE TRIGGER reject_bad BEFORE INSERT ON earthquakes
		WHEN NEW.location = 'BAD'
		BEGIN SELECT RAISE(ABORT, 'boom'); END`)
	require.NoError(t, err)

	events := sampleEvents()
	bad := events[1]
	bad.Location = "BAD"

	inserted, err := s.InsertNew(ctx, []domain.Event{events[0], bad, events[2]})
	require.Error(t, err)
	assert.True(t, domain.IsPersistenceFailure(err))
	assert.ErrorContains(t, err, "boom")
	assert.Nil(t, inserted)

	count, err := s.CountAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "rows written before the failure must be rolled back")

	// The store stays usable after the rollback.
	n, err := s.InsertIfNew(ctx, []domain.Event{events[0], events[2]})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListAll_Ordering(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.InsertIfNew(ctx, []domain.Event{
		sampleEvents()[2],
		sampleEvents()[1],
		sampleEvents()[0],
	})
	require.NoError(t, err)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "14:15:32", all[0].Time)
	assert.Equal(t, "09:02:11", all[1].Time)
	assert.Equal(t, "2024.12.29", all[2].Date)
	for _, e := range all {
		assert.NotZero(t, e.ID)
		assert.False(t, e.IsAnomaly)
	}
}

func TestListAll_EmptyIsNotNil(t *testing.T) {
	all, err := openTestStore(t).ListAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestUpdateAnomalyFlags(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	events := sampleEvents()
	_, err := s.InsertIfNew(ctx, events)
	require.NoError(t, err)

	require.NoError(t, s.UpdateAnomalyFlag(ctx, events[0].Key(), true))
	require.NoError(t, s.UpdateAnomalyFlags(ctx, map[domain.EventKey]bool{
		events[1].Key(): true,
		events[0].Key(): false,
	}))
	require.NoError(t, s.UpdateAnomalyFlag(ctx, domain.EventKey{Date: "1999.01.01", Time: "00:00:00", Location: "NOWHERE"}, true))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	flags := make(map[domain.EventKey]bool)
	for _, e := range all {
		flags[e.Key()] = e.IsAnomaly
	}
	assert.False(t, flags[events[0].Key()])
	assert.True(t, flags[events[1].Key()])
	assert.False(t, flags[events[2].Key()])
}

func TestOpen_ReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quakes.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.InsertIfNew(ctx, sampleEvents())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.InsertIfNew(ctx, sampleEvents())
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, s.Ping(ctx))
}
