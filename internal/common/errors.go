// Package common defines shared constants and sentinel errors used across
// the client layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrInvalidToken is returned when a session token cannot be decoded.
	ErrInvalidToken = errors.New("invalid token")
)
