package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation error")
	ErrTransport  = errors.New("transport error")
	ErrRender     = errors.New("render error")
	ErrNotActive  = errors.New("no active job")
	ErrSuperseded = errors.New("job superseded")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransport
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsValidation reports whether err was raised before any network call.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "client failure"
	}
	return strings.Join(parts, ": ")
}
