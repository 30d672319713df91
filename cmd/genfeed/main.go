// Command genfeed writes a synthetic Kandilli feed page and the events it
// contains. The page can be served to the service (FEED_URL) for local runs,
// and the JSON fixture is what /api/earthquakes should return after one
// ingestion. Rows are rendered with the same formatter the parser is tested
// against, so the fixture always parses back exactly.
//
// Usage:
//
//	go run ./cmd/genfeed \
//	  -n 120 -seed 7 -at 2024-12-30T15:00:00Z \
//	  -html-out data/mock/lst2.html \
//	  -json-out data/mock/lst2_events.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"html"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/jonboulle/clockwork"
)

// place is a seismically active district with its approximate epicentre.
type place struct {
	name     string
	lat, lng float64
	weight   int // relative activity
}

var places = []place{
	{"HEKIMHAN (MALATYA)", 38.74, 37.53, 4},
	{"SINDIRGI (BALIKESIR)", 39.20, 28.17, 8},
	{"AKDENIZ", 35.90, 29.80, 5},
	{"EGE DENIZI", 38.90, 25.90, 5},
	{"GOKSUN (KAHRAMANMARAS)", 38.05, 36.50, 6},
	{"NURDAGI (GAZIANTEP)", 37.18, 36.73, 3},
	{"MARMARA DENIZI", 40.80, 28.30, 2},
	{"ELBISTAN (KAHRAMANMARAS)", 38.20, 37.20, 4},
	{"SIMAV (KUTAHYA)", 39.10, 28.98, 2},
	{"YUKSEKOVA (HAKKARI)", 37.57, 44.28, 1},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	n := flag.Int("n", 100, "number of events")
	seed := flag.Uint64("seed", 1, "random seed")
	at := flag.String("at", "", "RFC 3339 time of the newest event (default now)")
	htmlOut := flag.String("html-out", "", "output path for the feed page")
	jsonOut := flag.String("json-out", "", "output path for the expected events fixture")
	flag.Parse()

	if *htmlOut == "" || *jsonOut == "" || *n <= 0 {
		flag.Usage()
		return fmt.Errorf("missing required flags: -html-out, -json-out")
	}

	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("parse -at: %w", err)
		}
		domain.SetClock(clockwork.NewFakeClockAt(t))
		defer domain.SetClock(nil)
	}

	events := generate(rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)), *n, domain.Now())

	block := domain.FormatBlock(events)
	// Guard against a formatter or parser regression producing a page the
	// service would read differently.
	if parsed := domain.ParseFeed(block); len(parsed.Events) != len(events) || parsed.Skipped > 0 {
		return fmt.Errorf("generated block parses to %d events (%d skipped), want %d",
			len(parsed.Events), parsed.Skipped, len(events))
	}

	if err := writeFile(*htmlOut, []byte(page(block))); err != nil {
		return fmt.Errorf("writing feed page: %w", err)
	}
	log.Printf("wrote feed page: %s", *htmlOut)

	if err := writeJSON(*jsonOut, events); err != nil {
		return fmt.Errorf("writing events fixture: %w", err)
	}
	log.Printf("wrote events fixture: %s (%d events)", *jsonOut, len(events))

	printStats(events)
	return nil
}

// generate produces n events spread over the 24 hours before newest,
// newest first, with magnitudes drawn from a Gutenberg-Richter-like
// distribution.
func generate(rng *rand.Rand, n int, newest time.Time) []domain.Event {
	total := 0
	for _, p := range places {
		total += p.weight
	}

	events := make([]domain.Event, 0, n)
	seen := make(map[domain.EventKey]bool, n)
	for len(events) < n {
		p := pick(rng, total)
		ts := newest.Add(-time.Duration(rng.Int64N(int64(24 * time.Hour)))).Truncate(time.Second)
		e := domain.Event{
			Date:     ts.Format("2006.01.02"),
			Time:     ts.Format("15:04:05"),
			Lat:      round(p.lat+rng.NormFloat64()*0.08, 4),
			Lng:      round(p.lng+rng.NormFloat64()*0.08, 4),
			Depth:    round(1+rng.Float64()*24, 1),
			Mag:      round(math.Min(1.0+rng.ExpFloat64()*0.7, 7.5), 1),
			Location: p.name,
		}
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		events = append(events, e)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date > events[j].Date
		}
		return events[i].Time > events[j].Time
	})
	return events
}

func pick(rng *rand.Rand, total int) place {
	r := rng.IntN(total)
	for _, p := range places {
		if r < p.weight {
			return p
		}
		r -= p.weight
	}
	return places[len(places)-1]
}

func round(v float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(v*scale) / scale
}

func page(block string) string {
	return "<html><head><meta charset=\"utf-8\"><title>Son Depremler</title></head><body>\n<pre>" +
		html.EscapeString(block) + "</pre>\n</body></html>\n"
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(data, '\n'))
}

func printStats(events []domain.Event) {
	counts := make(map[string]int)
	maxMag := 0.0
	for _, e := range events {
		counts[e.Location]++
		maxMag = math.Max(maxMag, e.Mag)
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\nEvents: %d, largest magnitude %.1f\n", len(events), maxMag)
	for _, name := range names {
		fmt.Printf("  %-30s %d\n", name, counts[name])
	}
}
