// Package common defines shared constants and sentinel errors used across
// chunkkeeper components. Callers should use errors.Is / errors.As to match
// these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Client validation errors. All of them match ErrValidation as well.
	ErrValidation                = errors.New("validation error")
	ErrInvalidChunkNumber        = errors.New("invalid chunk number")
	ErrEmptyChunk                = errors.New("empty chunk")
	ErrChunkTooLarge             = errors.New("chunk too large")
	ErrChecksumMismatch          = errors.New("checksum mismatch")
	ErrChecksumRequired          = errors.New("checksum required")
	ErrSessionNotAcceptingChunks = errors.New("session not accepting chunks")
	ErrInvalidTransition         = errors.New("invalid transition")
	ErrNotReadyForAssembly       = errors.New("not ready for assembly")
	ErrInvalidFilename           = errors.New("invalid filename")
	ErrInvalidSize               = errors.New("invalid size")

	// Signed URL errors.
	ErrMissingSignatureParameters = errors.New("missing signature parameters")
	ErrSignatureExpired           = errors.New("signature expired")
	ErrInvalidSignature           = errors.New("invalid signature")

	// Security rejection.
	ErrSecurityBlocked = errors.New("security blocked")

	// Server-side failures.
	ErrStorage   = errors.New("storage error")
	ErrIntegrity = errors.New("assembly integrity error")

	// ErrAssemblyInProgress means another worker holds the assembly lease.
	// The same request can be retried once the lease is released or expires.
	ErrAssemblyInProgress = errors.New("assembly in progress")
)

// ValidationError is a client-correctable failure. Kind is one of the
// sentinel errors above, Detail carries expected/actual values.
type ValidationError struct {
	Kind   error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Detail)
}

// Is makes every ValidationError match ErrValidation in addition to its kind.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || target == e.Kind
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// NewValidationError builds a ValidationError with a formatted detail message.
func NewValidationError(kind error, format string, args ...any) error {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// IsClientError reports whether err is something the caller can fix by
// changing the request, as opposed to a server-side failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrSignatureExpired) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMissingSignatureParameters) ||
		errors.Is(err, ErrSecurityBlocked)
}
