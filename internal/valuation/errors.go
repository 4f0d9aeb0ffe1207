package valuation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrNoModel          = errors.New("no trained model")
	ErrUnknownModelKind = errors.New("unknown model kind")
	ErrNoImportance     = errors.New("model does not expose feature importance")
)

// InsufficientDataError is returned by training when the feature table is
// below the minimum sample or feature count.
type InsufficientDataError struct {
	Samples     int
	MinSamples  int
	Features    []string
	MinFeatures int
}

func (e *InsufficientDataError) Error() string {
	if e.Samples < e.MinSamples {
		return fmt.Sprintf("insufficient data: %d usable records, at least %d required", e.Samples, e.MinSamples)
	}
	return fmt.Sprintf("insufficient data: %d usable features (%s), at least %d required",
		len(e.Features), strings.Join(e.Features, ", "), e.MinFeatures)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// MissingFeatureError describes features imputed during prediction. It is
// logged, never returned.
type MissingFeatureError struct {
	Features []string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing features imputed: %s", strings.Join(e.Features, ", "))
}

// ModelPersistenceError wraps a model store failure. Training logs it and
// carries on.
type ModelPersistenceError struct {
	Key string
	Err error
}

func (e *ModelPersistenceError) Error() string {
	return fmt.Sprintf("failed to persist model %s: %v", e.Key, e.Err)
}

func (e *ModelPersistenceError) Unwrap() error {
	return e.Err
}
