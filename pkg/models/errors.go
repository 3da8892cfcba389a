package models

import "github.com/pkg/errors"

var (
	// ErrInsufficientTrainingData is returned when a classifier cannot be fit
	// because the labeled sample lacks positive or negative examples.
	ErrInsufficientTrainingData = errors.New("insufficient training data")

	// ErrCacheMismatch marks a cache whose fingerprint or key set does not match
	// what the current run expects. Callers treat it as a cache miss.
	ErrCacheMismatch = errors.New("cache mismatch")

	// ErrMalformedInput marks source values that could not be parsed.
	ErrMalformedInput = errors.New("malformed input")

	// ErrMissingFieldValue marks a comparison whose field is null on one side.
	ErrMissingFieldValue = errors.New("missing field value")

	// ErrRecordNotFound is returned by record sources when an id is unknown.
	ErrRecordNotFound = errors.New("record not found")
)
