package analysis

import (
	"testing"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clusterWithOutlier builds 60 events in three tight clusters plus one
// shallow, very large event.
func clusterWithOutlier() []domain.StoredEvent {
	var events []domain.StoredEvent
	lats := []float64{39.0, 39.1, 39.2}
	lngs := []float64{35.0, 35.1, 35.2}
	mags := []float64{2.0, 2.1, 2.2}
	for i := 0; i < 20; i++ {
		for j := range lats {
			events = append(events, domain.StoredEvent{
				ID:    int64(len(events) + 1),
				Event: domain.Event{Lat: lats[j], Lng: lngs[j], Depth: 10, Mag: mags[j], Location: "KULU (KONYA)"},
			})
		}
	}
	return append(events, domain.StoredEvent{
		ID:    int64(len(events) + 1),
		Event: domain.Event{Lat: 39.0, Lng: 35.0, Depth: 5, Mag: 9.5, Location: "KULU (KONYA)"},
	})
}

func TestDetector_EmptyInput(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())

	assert.Nil(t, d.Score(nil))
	empty := []domain.StoredEvent{}
	assert.Equal(t, empty, d.Score(empty))
}

func TestDetector_FlagsOutlier(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	events := clusterWithOutlier()

	scored := d.Score(events)
	require.Len(t, scored, len(events))

	outlier := scored[len(scored)-1]
	assert.True(t, outlier.IsAnomaly, "the M9.5 shallow event should be flagged")

	flagged := 0
	for _, e := range scored[:len(scored)-1] {
		if e.IsAnomaly {
			flagged++
		}
	}
	assert.Zero(t, flagged, "clustered events should not be flagged")
}

func TestDetector_DoesNotMutateInput(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	events := clusterWithOutlier()
	events[0].IsAnomaly = true

	scored := d.Score(events)

	assert.True(t, events[0].IsAnomaly)
	assert.False(t, scored[0].IsAnomaly)
	assert.False(t, events[len(events)-1].IsAnomaly)
}

func TestDetector_Deterministic(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	events := clusterWithOutlier()

	first := d.Score(events)
	second := NewDetector(DefaultDetectorConfig()).Score(events)
	assert.Equal(t, first, second)
}

func TestDetector_SingleEvent(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig())
	scored := d.Score([]domain.StoredEvent{{ID: 1, IsAnomaly: true}})

	require.Len(t, scored, 1)
	assert.False(t, scored[0].IsAnomaly)
}

func TestDetector_TwoFeatureSubset(t *testing.T) {
	cfg := DefaultDetectorConfig()
	cfg.Features = []Feature{FeatureMag, FeatureDepth}
	d := NewDetector(cfg)

	scored := d.Score(clusterWithOutlier())
	assert.True(t, scored[len(scored)-1].IsAnomaly)
}

func TestParseFeatures(t *testing.T) {
	fs, err := ParseFeatures("lat, lng,DEPTH,mag")
	require.NoError(t, err)
	assert.Equal(t, DefaultFeatures, fs)

	_, err = ParseFeatures("mag,energy")
	assert.ErrorContains(t, err, "energy")

	_, err = ParseFeatures("mag,mag")
	assert.ErrorContains(t, err, "duplicate")
}

func TestQuantile(t *testing.T) {
	values := []float64{0.9}
	for i := 0; i < 19; i++ {
		values = append(values, 0.4)
	}

	// With 5% contamination over 20 scores the cut sits on the cluster, so
	// only the single higher score lies strictly above it.
	assert.InDelta(t, 0.4, quantile(values, 0.95), 1e-12)
	assert.InDelta(t, 0.9, quantile(values, 1), 1e-12)
	assert.InDelta(t, 0.4, quantile(values, 0), 1e-12)
	assert.InDelta(t, 0.9, values[0], 1e-12, "input must not be reordered")
}
