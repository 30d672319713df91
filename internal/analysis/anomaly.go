package analysis

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Feature selects one numeric column of an event for the outlier model.
type Feature string

const (
	FeatureLat   Feature = "lat"
	FeatureLng   Feature = "lng"
	FeatureDepth Feature = "depth"
	FeatureMag   Feature = "mag"
)

// DefaultFeatures is the full four-column feature set.
var DefaultFeatures = []Feature{FeatureLat, FeatureLng, FeatureDepth, FeatureMag}

func (f Feature) value(e domain.Event) float64 {
	switch f {
	case FeatureLat:
		return e.Lat
	case FeatureLng:
		return e.Lng
	case FeatureDepth:
		return e.Depth
	default:
		return e.Mag
	}
}

// ParseFeatures parses a comma-separated feature list such as "lat,lng,depth,mag".
func ParseFeatures(s string) ([]Feature, error) {
	var out []Feature
	for _, part := range strings.Split(s, ",") {
		f := Feature(strings.ToLower(strings.TrimSpace(part)))
		switch f {
		case FeatureLat, FeatureLng, FeatureDepth, FeatureMag:
		default:
			return nil, fmt.Errorf("unknown anomaly feature %q", part)
		}
		if slices.Contains(out, f) {
			return nil, fmt.Errorf("duplicate anomaly feature %q", part)
		}
		out = append(out, f)
	}
	return out, nil
}

// DetectorConfig parameterizes the isolation forest.
type DetectorConfig struct {
	Features      []Feature
	Contamination float64 // expected fraction of anomalies
	Seed          uint64
	Trees         int
	SampleSize    int // per-tree subsample cap
}

// DefaultDetectorConfig returns the production settings: four features,
// 5% contamination, seed 42, 100 trees over subsamples of at most 256 rows.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Features:      DefaultFeatures,
		Contamination: 0.05,
		Seed:          42,
		Trees:         100,
		SampleSize:    256,
	}
}

// Detector flags statistically unusual events with an isolation forest
// refit on every call. A Detector holds no mutable state and is safe for
// concurrent use.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector creates a Detector, filling zero-valued settings from the defaults.
func NewDetector(cfg DetectorConfig) *Detector {
	def := DefaultDetectorConfig()
	if len(cfg.Features) == 0 {
		cfg.Features = def.Features
	}
	if cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		cfg.Contamination = def.Contamination
	}
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.SampleSize <= 1 {
		cfg.SampleSize = def.SampleSize
	}
	return &Detector{cfg: cfg}
}

// Score returns a copy of events with IsAnomaly set for every element.
// Empty input is returned unchanged. The same input always yields the same
// flags.
func (d *Detector) Score(events []domain.StoredEvent) []domain.StoredEvent {
	if len(events) == 0 {
		return events
	}

	out := make([]domain.StoredEvent, len(events))
	copy(out, events)
	for i := range out {
		out[i].IsAnomaly = false
	}
	if len(out) < 2 {
		return out
	}

	points := make([][]float64, len(out))
	for i, e := range out {
		p := make([]float64, len(d.cfg.Features))
		for j, f := range d.cfg.Features {
			p[j] = f.value(e.Event)
		}
		points[i] = p
	}

	scores := d.scores(points)
	threshold := quantile(scores, 1-d.cfg.Contamination)
	for i, s := range scores {
		out[i].IsAnomaly = s > threshold
	}
	return out
}

// scores fits the forest on points and returns the anomaly score of each
// point in (0, 1]; higher is more anomalous.
func (d *Detector) scores(points [][]float64) []float64 {
	rng := rand.New(rand.NewPCG(d.cfg.Seed, d.cfg.Seed))

	psi := min(d.cfg.SampleSize, len(points))
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))

	trees := make([]*iNode, d.cfg.Trees)
	for t := range trees {
		sample := rng.Perm(len(points))[:psi]
		trees[t] = buildTree(rng, points, sample, 0, heightLimit)
	}

	norm := averagePathLength(psi)
	scores := make([]float64, len(points))
	for i, p := range points {
		var total float64
		for _, tree := range trees {
			total += tree.pathLength(p, 0)
		}
		scores[i] = math.Pow(2, -(total/float64(len(trees)))/norm)
	}
	return scores
}

// iNode is a node of an isolation tree. Leaves have left == nil.
type iNode struct {
	feature int
	split   float64
	left    *iNode
	right   *iNode
	size    int
}

func buildTree(rng *rand.Rand, points [][]float64, idx []int, depth, limit int) *iNode {
	if depth >= limit || len(idx) <= 1 {
		return &iNode{size: len(idx)}
	}

	// Only features that vary within the node can split it.
	dims := len(points[idx[0]])
	var candidates []int
	lows := make([]float64, dims)
	highs := make([]float64, dims)
	for f := 0; f < dims; f++ {
		lo, hi := points[idx[0]][f], points[idx[0]][f]
		for _, i := range idx[1:] {
			lo = math.Min(lo, points[i][f])
			hi = math.Max(hi, points[i][f])
		}
		lows[f], highs[f] = lo, hi
		if hi > lo {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return &iNode{size: len(idx)}
	}

	f := candidates[rng.IntN(len(candidates))]
	split := lows[f] + rng.Float64()*(highs[f]-lows[f])

	var left, right []int
	for _, i := range idx {
		if points[i][f] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &iNode{
		feature: f,
		split:   split,
		left:    buildTree(rng, points, left, depth+1, limit),
		right:   buildTree(rng, points, right, depth+1, limit),
		size:    len(idx),
	}
}

func (n *iNode) pathLength(p []float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + averagePathLength(n.size)
	}
	if p[n.feature] < n.split {
		return n.left.pathLength(p, depth+1)
	}
	return n.right.pathLength(p, depth+1)
}

// averagePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329
	return 2*h - 2*float64(n-1)/float64(n)
}

// quantile returns the p-quantile of values, interpolating linearly
// between order statistics.
func quantile(values []float64, p float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}
