package stage

import (
	"errors"
	"strings"

	"mediaflow/internal/services"
)

// Failure is the uniform structured failure a worker reports. It survives a
// JSON round trip across the heavy-tier process boundary and still
// classifies the same way through errors.Is.
type Failure struct {
	Message   string            `json:"message"`
	Category  services.Category `json:"category"`
	Retryable bool              `json:"retryable"`
	Details   map[string]any    `json:"details,omitempty"`
}

func (f *Failure) Error() string {
	return f.Message
}

// Unwrap maps the category back onto a services marker.
func (f *Failure) Unwrap() error {
	switch f.Category {
	case services.CategoryGuard:
		return services.ErrGuard
	case services.CategoryCorruption:
		return services.ErrCorrupt
	case services.CategoryTransient:
		return services.ErrTransient
	}
	if f.Retryable {
		return services.ErrExternalTool
	}
	return services.ErrValidation
}

// AsFailure converts any error into a Failure, keeping an existing one.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	details := services.Details(err)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = "stage failed"
	}
	f := &Failure{
		Message:   message,
		Category:  details.Category,
		Retryable: services.Retryable(err),
	}
	if details.Marker != "" {
		f.Details = map[string]any{"kind": details.Marker}
	}
	return f
}

// Fail builds a Failure with diagnostic detail attached.
func Fail(err error, details map[string]any) *Failure {
	f := AsFailure(err)
	if f == nil {
		return nil
	}
	if len(details) > 0 {
		if f.Details == nil {
			f.Details = make(map[string]any, len(details))
		}
		for k, v := range details {
			f.Details[k] = v
		}
	}
	return f
}
