// Package ids allocates the opaque identifiers embedded in generated
// gateway endpoints.
package ids

import (
	"crypto/rand"
	"fmt"
)

// Allocator produces opaque random identifiers. Global uniqueness is
// enforced by the store's unique index on the generated endpoint; callers
// retry allocation on conflict.
type Allocator interface {
	NewID() (string, error)
}

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength = 10
)

// Random is the default Allocator: 10-character URL-safe strings drawn
// from crypto/rand.
type Random struct{}

// NewID returns a fresh random identifier.
func (Random) NewID() (string, error) {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf), nil
}
