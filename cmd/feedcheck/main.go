// Command feedcheck parses a Kandilli feed page, either a saved copy or the
// live page, and reports whether its rows still match the column layout the
// service expects. It also prints what the analysis endpoints would return
// for that page alone.
//
// Usage:
//
//	go run ./cmd/feedcheck -file testdata/lst2.html
//	go run ./cmd/feedcheck -url http://www.koeri.boun.edu.tr/scripts/lst2.asp
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/adapter/kandilli"
	"github.com/couchcryptid/quake-feed-service/internal/analysis"
	"github.com/couchcryptid/quake-feed-service/internal/domain"
)

// Rough bounding box of the region the observatory reports on.
const (
	minLat, maxLat = 30.0, 46.0
	minLng, maxLng = 19.0, 50.0
	maxMag         = 10.0
	maxDepth       = 700.0
)

// phase tracks pass/fail for a check phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	file := flag.String("file", "", "saved feed page (.html) or raw <pre> block text")
	url := flag.String("url", "", "live feed URL to fetch instead of -file")
	timeout := flag.Duration("timeout", 30*time.Second, "fetch timeout for -url")
	topN := flag.Int("top", 10, "number of locations in the risk ranking")
	flag.Parse()

	if (*file == "") == (*url == "") {
		flag.Usage()
		os.Exit(1)
	}

	block, err := loadBlock(*file, *url, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load feed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(block, *topN))
}

func loadBlock(file, url string, timeout time.Duration) (string, error) {
	if url != "" {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return kandilli.NewClient(url, timeout, logger).FetchBlock(ctx)
	}

	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(file)) {
	case ".html", ".htm", ".asp":
		return kandilli.ExtractBlock(f)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func run(block string, topN int) int {
	fmt.Println("=== Kandilli Feed Check ===")
	fmt.Println()

	parsed := domain.ParseFeed(block)

	phases := []*phase{
		checkExtraction(parsed, block),
		checkKeys(parsed.Events),
		checkRanges(parsed.Events),
		checkRoundTrip(parsed.Events),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d candidates, %d parsed, %d malformed\n",
		parsed.Candidates, len(parsed.Events), parsed.Skipped)

	printAnalysis(parsed.Events, topN)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll checks passed.")
		return 0
	}
	fmt.Println("\nFeed check FAILED.")
	return 1
}

// ── Phase 1: Extraction ──
// A non-empty block should yield rows, and most candidates should parse.

func checkExtraction(parsed domain.ParseResult, block string) *phase {
	p := &phase{name: "Phase 1: Row Extraction"}
	if strings.TrimSpace(block) == "" {
		p.errorf("data block is empty")
		return p
	}
	if parsed.Candidates == 0 {
		p.errorf("no line passed the data-row sentinel; the page layout may have changed")
		return p
	}
	if len(parsed.Events) == 0 {
		p.errorf("%d candidate rows, none parsed; the column offsets may have shifted", parsed.Candidates)
	}
	return p
}

// ── Phase 2: Dedupe Keys ──
// The observatory lists each event once; repeated keys would be silently
// collapsed by the store.

func checkKeys(events []domain.Event) *phase {
	p := &phase{name: "Phase 2: Dedupe Keys"}
	seen := make(map[domain.EventKey]int, len(events))
	for i, e := range events {
		if e.Location == "" {
			p.errorf("row %d (%s %s): empty location", i, e.Date, e.Time)
		}
		if first, ok := seen[e.Key()]; ok {
			p.errorf("row %d repeats the key of row %d: %s", i, first, e.Key())
			continue
		}
		seen[e.Key()] = i
	}
	return p
}

// ── Phase 3: Value Ranges ──

func checkRanges(events []domain.Event) *phase {
	p := &phase{name: "Phase 3: Value Ranges"}
	for i, e := range events {
		if e.Lat < minLat || e.Lat > maxLat {
			p.errorf("row %d (%s): lat %.4f outside [%g, %g]", i, e.Key(), e.Lat, minLat, maxLat)
		}
		if e.Lng < minLng || e.Lng > maxLng {
			p.errorf("row %d (%s): lng %.4f outside [%g, %g]", i, e.Key(), e.Lng, minLng, maxLng)
		}
		if e.Mag <= 0 || e.Mag > maxMag {
			p.errorf("row %d (%s): magnitude %.1f outside (0, %g]", i, e.Key(), e.Mag, maxMag)
		}
		if e.Depth < 0 || e.Depth > maxDepth {
			p.errorf("row %d (%s): depth %.1f outside [0, %g]", i, e.Key(), e.Depth, maxDepth)
		}
	}
	return p
}

// ── Phase 4: Round Trip ──
// Re-rendering a parsed row and parsing it again must give the same event.

func checkRoundTrip(events []domain.Event) *phase {
	p := &phase{name: "Phase 4: Format Round Trip"}
	for i, e := range events {
		again, err := domain.ParseLine(domain.FormatRow(e))
		if err != nil {
			p.errorf("row %d (%s): re-parse failed: %v", i, e.Key(), err)
			continue
		}
		if again != e {
			p.errorf("row %d (%s): round trip changed the event: %+v", i, e.Key(), again)
		}
	}
	return p
}

func printAnalysis(events []domain.Event, topN int) {
	if len(events) == 0 {
		return
	}

	stored := make([]domain.StoredEvent, len(events))
	for i, e := range events {
		stored[i] = domain.StoredEvent{ID: int64(i + 1), Event: e}
	}

	scored := analysis.NewDetector(analysis.DefaultDetectorConfig()).Score(stored)
	anomalies := 0
	for _, e := range scored {
		if e.IsAnomaly {
			anomalies++
		}
	}
	fmt.Printf("Anomalies: %d of %d events\n", anomalies, len(scored))

	ranked := analysis.NewRanker(analysis.SelectionPolicy{Kind: analysis.PolicyTopN, TopN: topN}).Rank(stored)
	fmt.Println("\nHighest risk locations:")
	for i, r := range ranked {
		fmt.Printf("  %2d. %-40s mag %.2f  freq %3d  risk %.3f\n",
			i+1, r.Location, r.MeanMagnitude, r.Frequency, r.RiskScore)
	}
}
