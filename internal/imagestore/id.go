package imagestore

import (
	"strings"

	"github.com/google/uuid"
)

const (
	idLength   = 16
	linkSuffix = ".jpg"
)

// NewID returns a random 16 character lowercase hex token. Collisions are
// not checked; the space is 64 bits.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
}

// Link builds the public link for id under base.
func Link(base, id string) string {
	return strings.TrimRight(base, "/") + "/" + id + linkSuffix
}

// ParseID accepts either a bare id or the last path segment of a link.
func ParseID(raw string) string {
	return strings.TrimSuffix(strings.TrimSpace(raw), linkSuffix)
}
