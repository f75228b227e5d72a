// Package ids generates message identifiers
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a time-sortable ULID for the AMQP message-id property
func NewMessageID() string {
	return NewMessageIDAt(time.Now())
}

// NewMessageIDAt returns a ULID carrying the timestamp t
func NewMessageIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
