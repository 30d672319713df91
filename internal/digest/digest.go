// Package digest persists the fingerprint of the last-seen feed block.
//
// A missing digest means the feed state is unknown; callers treat that as
// changed so the first check after a fresh start always ingests.
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Store loads and saves the single content digest value.
type Store interface {
	// Load returns the saved digest and true, or "" and false when none exists.
	Load(ctx context.Context) (string, bool, error)
	// Save replaces the saved digest.
	Save(ctx context.Context, digest string) error
	Close() error
}

// Of returns the hex SHA-256 of the trimmed block text.
func Of(block string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(block)))
	return hex.EncodeToString(sum[:])
}
