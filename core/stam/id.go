package stam

import (
	"io"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random 32 character lowercase hex identifier (a v4 UUID
// without dashes).
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SetRandSource makes NewID read randomness from r. Passing nil restores
// the default source. Intended for tests; not safe to call concurrently
// with NewID.
func SetRandSource(r io.Reader) {
	uuid.SetRand(r)
}
