// Package pagination implements opaque keyset cursors for listing
// endpoints. Bid history and similar feeds page by (created_at, id)
// rather than offset, so inserts during paging never shift results.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned when a cursor string cannot be decoded.
// Clients should treat it as a bad request, not retry.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the decoded keyset position: the creation time and ID of the
// last item on the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode packs a keyset position into an opaque URL-safe string.
func Encode(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode unpacks a cursor produced by Encode. Empty input means "first
// page" and decodes to nil without error.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{
		CreatedAt: time.Unix(0, n).UTC(),
		ID:        id,
	}, nil
}

// ClampLimit normalizes a client-supplied page size: non-positive values
// fall back to def, values above max are capped at max.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// ComputePage trims a limit+1 fetch down to one page. It returns the page
// items, the cursor for the next page, and whether more items remain.
// extractKey reads the keyset fields off the last item on the page.
func ComputePage[T any](items []T, limit int, extractKey func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	last := items[len(items)-1]
	createdAt, id := extractKey(last)
	return items, Encode(createdAt, id), true
}
