package domain

import "github.com/google/uuid"

// NewID returns a random v4 UUID string, used for source record and request
// correlation ids.
func NewID() string {
	return uuid.NewString()
}
