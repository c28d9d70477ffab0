package client

import "errors"

var (
	ErrUnavailable  = errors.New("server unavailable")
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUploadRejected is returned for any non-2xx upload response.
	ErrUploadRejected = errors.New("upload rejected")
)
