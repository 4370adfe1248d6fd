// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across storage/registry/store layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates optimistic concurrency failure (version token mismatch).
	ErrConflict = errors.New("version conflict")

	// ErrTransient indicates a temporary remote failure (timeout, 5xx) that is safe to retry.
	ErrTransient = errors.New("temporary remote failure")

	// ErrNoConnection indicates the remote store is not configured (no token or endpoint).
	ErrNoConnection = errors.New("remote store not configured")

	// ErrDecryptFailed indicates ciphertext authentication failed even after a key reload.
	// Callers treat it as "password does not match", never as a crash.
	ErrDecryptFailed = errors.New("decryption failed")

	// ErrInvalidCredentials indicates a username/password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUsernameExists indicates a case-insensitive username collision on registration.
	ErrUsernameExists = errors.New("username already exists")

	// ErrCompanyNotFound indicates no company matches the given username or id.
	ErrCompanyNotFound = errors.New("company not found")

	// ErrTrialExpired indicates the company's trial window has passed.
	ErrTrialExpired = errors.New("trial expired")

	// ErrDecoding indicates stored content could not be decoded.
	ErrDecoding = errors.New("decoding error")
)
