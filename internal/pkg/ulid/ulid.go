// Package ulid provides ULID generation for change log entry ids.
package ulid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New generates a new ULID.
func New() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewFromTime generates a new ULID with a specific timestamp.
func NewFromTime(t time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return id.String()
}
