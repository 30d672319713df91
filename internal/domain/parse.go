package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// minRowLength is the length a line must exceed to be considered a data row.
	minRowLength = 100

	// magnitudePlaceholder is the Kandilli token for an unmeasured magnitude.
	magnitudePlaceholder = "-.-"

	feedDateLayout = "2006.01.02"
	feedTimeLayout = "15:04:05"
)

// column is a [start, end) character range within a feed row.
type column struct {
	start, end int
}

var (
	colDate     = column{0, 10}
	colTime     = column{11, 19}
	colLat      = column{21, 28}
	colLng      = column{30, 38}
	colDepth    = column{43, 49}
	colMag      = column{60, 63}
	colLocation = column{71, 121}
)

// ParseResult summarizes one pass over a feed block.
type ParseResult struct {
	Events     []Event
	Candidates int // lines that passed the data-row sentinel
	Skipped    int // candidates dropped as malformed records
}

// ParseFeed extracts events from the text of the feed's <pre> block.
// It is a pure function of its input. Lines that look like data rows but
// fail to parse are counted in Skipped and never abort the batch.
func ParseFeed(block string) ParseResult {
	var res ParseResult
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		if !isDataRow(line) {
			continue
		}
		res.Candidates++

		event, err := ParseLine(line)
		if err != nil {
			res.Skipped++
			continue
		}
		res.Events = append(res.Events, event)
	}
	return res
}

// isDataRow applies the sentinel: longer than minRowLength characters and
// starting with a digit.
func isDataRow(line string) bool {
	if line == "" || !unicode.IsDigit(rune(line[0])) {
		return false
	}
	return len([]rune(line)) > minRowLength
}

// ParseLine parses a single data row. Any field failure yields an error
// wrapping ErrMalformedRecord.
func ParseLine(line string) (Event, error) {
	runes := []rune(line)

	date := colDate.slice(runes)
	if _, err := time.Parse(feedDateLayout, date); err != nil {
		return Event{}, fmt.Errorf("%w: date %q", ErrMalformedRecord, date)
	}
	hms := colTime.slice(runes)
	if _, err := time.Parse(feedTimeLayout, hms); err != nil {
		return Event{}, fmt.Errorf("%w: time %q", ErrMalformedRecord, hms)
	}

	lat, err := parseFloatField("lat", colLat.slice(runes))
	if err != nil {
		return Event{}, err
	}
	lng, err := parseFloatField("lng", colLng.slice(runes))
	if err != nil {
		return Event{}, err
	}
	depth, err := parseFloatField("depth", colDepth.slice(runes))
	if err != nil {
		return Event{}, err
	}
	mag, err := parseFloatField("mag", colMag.slice(runes))
	if err != nil {
		return Event{}, err
	}

	return Event{
		Date:     date,
		Time:     hms,
		Lat:      lat,
		Lng:      lng,
		Depth:    depth,
		Mag:      mag,
		Location: colLocation.slice(runes),
	}, nil
}

// slice returns the trimmed text in the column, clamped to the row length.
func (c column) slice(runes []rune) string {
	if c.start >= len(runes) {
		return ""
	}
	end := c.end
	if end > len(runes) {
		end = len(runes)
	}
	return strings.TrimSpace(string(runes[c.start:end]))
}

func parseFloatField(name, raw string) (float64, error) {
	if raw == "" || raw == magnitudePlaceholder {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedRecord, name, raw)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrMalformedRecord, name, raw)
	}
	return v, nil
}
