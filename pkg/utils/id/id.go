// Package id provides the identifiers used by docqa:
//
//	id.NewULID()  // chunk ids, lexicographically sortable by creation time
//	id.NewUUID()  // request ids
package id

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewUUID generates a new UUID v4 string.
func NewUUID() string {
	return uuid.NewString()
}

// NewULID generates a new ULID string. IDs created within the same
// millisecond are strictly increasing.
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewULIDs generates n ULIDs in ascending order.
func NewULIDs(n int) []string {
	ids := make([]string, n)
	entropyMu.Lock()
	defer entropyMu.Unlock()
	now := ulid.Timestamp(time.Now())
	for i := range ids {
		ids[i] = ulid.MustNew(now, entropy).String()
	}
	return ids
}

// IsULID reports whether s parses as a ULID.
func IsULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
