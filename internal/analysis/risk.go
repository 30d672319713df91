package analysis

import (
	"fmt"
	"slices"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
)

// LocationRisk is one row of the risk ranking.
type LocationRisk struct {
	Location      string  `json:"location"`
	MeanMagnitude float64 `json:"mag"`
	Frequency     int     `json:"frequency"`
	RiskScore     float64 `json:"risk_score"`
}

// PolicyKind names how the ranked list is cut.
type PolicyKind string

const (
	// PolicyTopN keeps the N highest-scoring locations.
	PolicyTopN PolicyKind = "top"
	// PolicyThreshold keeps every location scoring strictly above a threshold.
	PolicyThreshold PolicyKind = "threshold"
)

// SelectionPolicy decides which ranked locations are returned.
type SelectionPolicy struct {
	Kind      PolicyKind
	TopN      int
	Threshold float64
}

// DefaultPolicy keeps the ten highest-risk locations.
func DefaultPolicy() SelectionPolicy {
	return SelectionPolicy{Kind: PolicyTopN, TopN: 10, Threshold: 0.5}
}

// Validate checks the policy parameters.
func (p SelectionPolicy) Validate() error {
	switch p.Kind {
	case PolicyTopN:
		if p.TopN <= 0 {
			return fmt.Errorf("risk policy %q needs a positive count, got %d", p.Kind, p.TopN)
		}
	case PolicyThreshold:
		if p.Threshold < 0 || p.Threshold > 1 {
			return fmt.Errorf("risk policy %q needs a threshold in [0, 1], got %g", p.Kind, p.Threshold)
		}
	default:
		return fmt.Errorf("unknown risk policy %q", p.Kind)
	}
	return nil
}

func (p SelectionPolicy) apply(ranked []LocationRisk) []LocationRisk {
	if p.Kind == PolicyThreshold {
		out := ranked[:0]
		for _, r := range ranked {
			if r.RiskScore > p.Threshold {
				out = append(out, r)
			}
		}
		return out
	}
	if len(ranked) > p.TopN {
		return ranked[:p.TopN]
	}
	return ranked
}

// Ranker aggregates events per location into a risk ranking.
type Ranker struct {
	policy SelectionPolicy
}

// NewRanker creates a Ranker with the given selection policy. A zero policy
// selects DefaultPolicy.
func NewRanker(policy SelectionPolicy) *Ranker {
	if policy.Kind == "" {
		policy = DefaultPolicy()
	}
	return &Ranker{policy: policy}
}

// Rank groups events by location and scores each group as
// (mean magnitude / max mean magnitude) * (frequency / max frequency).
// Results are ordered by descending score; equal scores keep the order in
// which locations first appear in events. Empty input yields an empty result.
func (r *Ranker) Rank(events []domain.StoredEvent) []LocationRisk {
	if len(events) == 0 {
		return []LocationRisk{}
	}

	type group struct {
		sum   float64
		count int
	}
	groups := make(map[string]*group)
	var order []string
	for _, e := range events {
		g, ok := groups[e.Location]
		if !ok {
			g = &group{}
			groups[e.Location] = g
			order = append(order, e.Location)
		}
		g.sum += e.Mag
		g.count++
	}

	ranked := make([]LocationRisk, 0, len(order))
	var maxMag float64
	var maxFreq int
	for _, loc := range order {
		g := groups[loc]
		mean := g.sum / float64(g.count)
		ranked = append(ranked, LocationRisk{Location: loc, MeanMagnitude: mean, Frequency: g.count})
		maxMag = max(maxMag, mean)
		maxFreq = max(maxFreq, g.count)
	}

	for i := range ranked {
		magScore := 0.0
		if maxMag > 0 {
			magScore = ranked[i].MeanMagnitude / maxMag
		}
		freqScore := float64(ranked[i].Frequency) / float64(maxFreq)
		ranked[i].RiskScore = magScore * freqScore
	}

	slices.SortStableFunc(ranked, func(a, b LocationRisk) int {
		switch {
		case a.RiskScore > b.RiskScore:
			return -1
		case a.RiskScore < b.RiskScore:
			return 1
		}
		return 0
	})

	return r.policy.apply(ranked)
}
