// Package idgen mints stable identity strings for pool and connection
// objects, using github.com/google/uuid.
package idgen

import "github.com/google/uuid"

// New returns a fresh random (v4) identity string.
func New() string {
	return uuid.NewString()
}
