package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	ErrGuard         = errors.New("guard failure")
	ErrCorrupt       = errors.New("data corruption")
)

// Category names the error taxonomy bucket recorded alongside ledger entries.
type Category string

const (
	CategoryTransient  Category = "transient"
	CategoryStage      Category = "stage"
	CategoryGuard      Category = "guard_failure"
	CategoryCorruption Category = "data_corruption"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto the taxonomy category the coordinator records.
func Classify(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGuard):
		return CategoryGuard
	case errors.Is(err, ErrCorrupt):
		return CategoryCorruption
	case errors.Is(err, ErrTransient):
		return CategoryTransient
	default:
		return CategoryStage
	}
}

// Retryable reports whether another attempt of the same stage job can succeed.
// Input and configuration problems are deterministic, so they skip the retry
// budget and fail the stage immediately.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrGuard),
		errors.Is(err, ErrCorrupt):
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// ErrorDetails is the ledger-ready view of an error.
type ErrorDetails struct {
	Category Category
	Marker   string
	Message  string
}

// Details splits a wrapped error into its taxonomy category, marker text,
// and the human-readable remainder.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Category: Classify(err), Message: strings.TrimSpace(err.Error())}
	for _, marker := range markers {
		if !errors.Is(err, marker) {
			continue
		}
		details.Marker = marker.Error()
		details.Message = strings.TrimPrefix(details.Message, marker.Error()+": ")
		break
	}
	return details
}

var markers = []error{
	ErrGuard,
	ErrCorrupt,
	ErrValidation,
	ErrConfiguration,
	ErrNotFound,
	ErrTimeout,
	ErrExternalTool,
	ErrTransient,
}
