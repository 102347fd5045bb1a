package errors

import (
	"errors"
	"fmt"
)

// Static errors for the verification pipeline.
var (
	ErrImageDecode            = errors.New("image cannot be decoded")        // Broken or unsupported evidence image.
	ErrGeolocationUnavailable = errors.New("geolocation unavailable")        // Device position could not be read in time.
	ErrEvaluatorUnavailable   = errors.New("address evaluator unavailable")  // External model call failed; fallback applies.
	ErrPersistence            = errors.New("verification persistence error") // Final upsert failed; surfaced to the applicant.
	ErrNotFound               = errors.New("verification not found")         // Lookup on a missing record id.
	ErrMissingID              = errors.New("verification id is missing")     // Write attempted without a record id.
)

// WrapImageDecode wraps the underlying decoder error for a broken evidence image.
func WrapImageDecode(cause error) error {
	return fmt.Errorf("%w: %w", ErrImageDecode, cause)
}

// WrapPersistence wraps the underlying store error for a failed upsert.
func WrapPersistence(cause error) error {
	return fmt.Errorf("%w: %w", ErrPersistence, cause)
}
