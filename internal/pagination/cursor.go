// Package pagination provides keyset cursors for newest-first listings.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned when a cursor cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

// Default and maximum page sizes for history listings.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Cursor marks the last row of a page: rows strictly older than
// (Timestamp, ID) belong to the next page.
type Cursor struct {
	Timestamp time.Time
	ID        int64
}

// Before reports whether a row keyed by (ts, id) sorts after the cursor
// in newest-first order.
func (c *Cursor) Before(ts time.Time, id int64) bool {
	if c == nil {
		return true
	}
	if ts.Equal(c.Timestamp) {
		return id < c.ID
	}
	return ts.Before(c.Timestamp)
}

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(ts time.Time, id int64) string {
	raw := fmt.Sprintf("%d|%d", ts.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{Timestamp: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ClampLimit maps a requested page size onto [1, MaxLimit], using
// DefaultLimit for zero or negative input.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// ComputePage takes a slice of items (fetched with limit+1), the requested limit,
// and a function to extract (timestamp, id) from the last item.
// Returns the trimmed items, next cursor, and has_more flag.
func ComputePage[T any](items []T, limit int, extractKey func(T) (time.Time, int64)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	ts, id := extractKey(items[len(items)-1])
	return items, Encode(ts, id), true
}
