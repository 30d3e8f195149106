package workers

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation = errors.New("validation error")
	ErrExternal   = errors.New("external service error")
	ErrTransient  = errors.New("transient failure")
)

// Wrap builds an error message that includes the task kind and operation while
// tagging it with marker for later classification. Validation failures are
// never retried.
func Wrap(marker error, kind, operation, message string, err error) error {
	detail := buildDetail(kind, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether redelivering the job could succeed.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrValidation)
}

func buildDetail(kind, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{kind, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "work failure"
	}
	return strings.Join(parts, ": ")
}
