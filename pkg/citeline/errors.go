package citeline

import (
	"context"
	"errors"
	"strings"

	"github.com/perarnes/citeline/pkg/store"
)

// Error type constants for classification
const (
	ErrTypeNotFound   = "not_found"
	ErrTypeValidation = "validation"
	ErrTypeDatabase   = "database"
	ErrTypeTimeout    = "timeout"
	ErrTypeUnknown    = "unknown"
)

// ClassifyError inspects an error and returns its type classification.
// This enables grouping errors by category in metrics and traces.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	// Sentinel errors classify exactly.
	if errors.Is(err, store.ErrChunkNotFound) {
		return ErrTypeNotFound
	}
	if errors.Is(err, store.ErrDuplicateChunk) ||
		errors.Is(err, store.ErrInvalidChunk) ||
		errors.Is(err, store.ErrInvalidReference) ||
		errors.Is(err, store.ErrRawChunkCites) {
		return ErrTypeValidation
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrTypeTimeout
	}

	errStrLower := strings.ToLower(err.Error())

	if strings.Contains(errStrLower, "timeout") ||
		strings.Contains(errStrLower, "deadline exceeded") {
		return ErrTypeTimeout
	}

	// Check for database errors (SQLite specific)
	if strings.Contains(errStrLower, "sql") ||
		strings.Contains(errStrLower, "database") ||
		strings.Contains(errStrLower, "constraint") ||
		strings.Contains(errStrLower, "transaction") {
		return ErrTypeDatabase
	}

	// Check for validation errors
	if strings.Contains(errStrLower, "validation") ||
		strings.Contains(errStrLower, "invalid") ||
		strings.Contains(errStrLower, "cannot be empty") ||
		strings.Contains(errStrLower, "must be") {
		return ErrTypeValidation
	}

	return ErrTypeUnknown
}
