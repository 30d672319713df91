package domain

import "time"

// Event is one parsed row of the feed. It has no identity of its own;
// two events are equal when all fields are equal.
type Event struct {
	Date     string  `json:"date"`     // YYYY.MM.DD
	Time     string  `json:"time"`     // HH:MM:SS
	Lat      float64 `json:"lat"`      // degrees
	Lng      float64 `json:"lng"`      // degrees
	Depth    float64 `json:"depth"`    // km
	Mag      float64 `json:"mag"`      // ML
	Location string  `json:"location"` // e.g. "HEKIMHAN (MALATYA)"
}

// Key returns the dedupe key of the event.
func (e Event) Key() EventKey {
	return EventKey{Date: e.Date, Time: e.Time, Location: e.Location}
}

// EventKey is the (date, time, location) triple that is unique across stored events.
type EventKey struct {
	Date     string
	Time     string
	Location string
}

// String renders the key as "date time|location", used as the Kafka message key.
func (k EventKey) String() string {
	return k.Date + " " + k.Time + "|" + k.Location
}

// StoredEvent is a persisted Event. IsAnomaly is the only field that changes
// after insertion.
type StoredEvent struct {
	ID int64 `json:"id"`
	Event
	IsAnomaly bool `json:"is_anomaly"`
}

// Update is the message broadcast to live subscribers after an ingestion
// pass inserted at least one event.
type Update struct {
	NewCount  int       `json:"new_count"`
	Timestamp time.Time `json:"timestamp"` // UTC
}

// NewUpdate stamps an update with the current UTC time.
func NewUpdate(newCount int) Update {
	return Update{NewCount: newCount, Timestamp: Now()}
}
