package object

import "github.com/google/uuid"

// KeyGenerator produces private namespace keys for objects.
// Implemented by UUIDKeys (production) and testutil.FixedKeyGenerator.
type KeyGenerator interface {
	Generate() string
}

// UUIDKeys generates time-sortable UUIDv7 keys, so namespace listings sort
// roughly by object creation time.
//
// Thread-safety: UUIDKeys is stateless and safe for concurrent use.
type UUIDKeys struct{}

// Generate creates a new UUIDv7 string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDKeys) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
