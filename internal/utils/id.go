package utils

import "github.com/google/uuid"

// NewID returns a random identifier for connections and participants.
func NewID() string {
	return uuid.NewString()
}
