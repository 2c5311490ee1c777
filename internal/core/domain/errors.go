// Package domain contains the core business entities and domain logic for the
// forecast pipeline. This package defines the fundamental types and business
// rules that are independent of external frameworks and infrastructure concerns.
package domain

import (
	"errors"
	"fmt"
)

// Error codes used across the pipeline. Everything below the executor reports
// failures through ForecastError values; only configuration loading is fatal.
const (
	// ErrCodeConfig indicates an invalid or unloadable configuration.
	ErrCodeConfig = "CONFIG_ERROR"

	// ErrCodeTransport indicates an HTTP failure, timeout, or malformed payload
	// after retries were exhausted.
	ErrCodeTransport = "TRANSPORT_ERROR"

	// ErrCodeCacheCorrupt indicates a cache file that failed to parse or
	// validate; the file is deleted and the read treated as a miss.
	ErrCodeCacheCorrupt = "CACHE_CORRUPT"

	// ErrCodeProvider indicates a non-recoverable LLM provider failure.
	ErrCodeProvider = "PROVIDER_ERROR"

	// ErrCodeGeocode indicates the entity could not be resolved to coordinates.
	ErrCodeGeocode = "GEOCODE_FAILED"

	// ErrCodeValidation indicates degenerate input to a derivation step.
	ErrCodeValidation = "VALIDATION_ERROR"
)

// ForecastError represents domain-specific errors that can occur during
// pipeline operations. It provides structured error information with error
// codes and optional underlying causes.
type ForecastError struct {
	// Code identifies the type of error for programmatic handling
	Code string

	// Message provides a human-readable error description
	Message string

	// Cause wraps an underlying error if applicable
	Cause error
}

// Error implements the error interface for ForecastError.
// It formats the error message to include the code, message, and underlying cause.
func (e *ForecastError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *ForecastError) Unwrap() error {
	return e.Cause
}

// NewTransportError wraps a transport-level failure.
//
// Parameters:
//   - message: Description of the failed operation
//   - cause: Underlying error
//
// Returns:
//   - *ForecastError: Error with the TRANSPORT_ERROR code
func NewTransportError(message string, cause error) *ForecastError {
	return &ForecastError{Code: ErrCodeTransport, Message: message, Cause: cause}
}

// NewProviderError wraps an LLM provider failure.
func NewProviderError(message string, cause error) *ForecastError {
	return &ForecastError{Code: ErrCodeProvider, Message: message, Cause: cause}
}

// NewConfigError reports an invalid configuration; fatal at load time.
func NewConfigError(message string, cause error) *ForecastError {
	return &ForecastError{Code: ErrCodeConfig, Message: message, Cause: cause}
}

// IsConfigError reports whether err carries the CONFIG_ERROR code anywhere
// in its chain.
func IsConfigError(err error) bool {
	var fe *ForecastError

	if !errors.As(err, &fe) {
		return false
	}

	return fe.Code == ErrCodeConfig
}
