// Package id generates opaque identifiers for requests and commands.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a random version 4 UUID encoded as 26 lowercase base32
// characters.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}

// NewRequestID returns an id for a command that arrived without one. It
// never fails; when the random source is unavailable it falls back to a
// time-ordered UUID.
func NewRequestID() string {
	if value, err := NewID(); err == nil {
		return value
	}
	value, err := uuid.NewUUID()
	if err != nil {
		return ""
	}
	return strings.ToLower(encoding.EncodeToString(value[:]))
}
