// Package id generates time-sortable record identifiers.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	entropy = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID for the current time, prefixed with kind when given
// (e.g. "trd_01J...").
func New(kind string) string {
	return NewAt(kind, time.Now())
}

// NewAt returns a ULID stamped with t. IDs minted in the same millisecond
// stay lexicographically increasing, so trades and snapshots sort by
// creation order in SQLite indexes.
func NewAt(kind string, t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	v, err := ulid.New(ulid.Timestamp(t.UTC()), entropy)
	if err != nil {
		// Monotonic entropy overflows only after 2^80 ids in one millisecond.
		panic(err)
	}
	if kind == "" {
		return v.String()
	}
	return kind + "_" + v.String()
}

// Time extracts the timestamp encoded in an id produced by New or NewAt.
func Time(s string) (time.Time, bool) {
	if i := len(s) - ulid.EncodedSize; i > 0 {
		s = s[i:]
	}
	v, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(v.Time()), true
}
