package domain

import "errors"

// Sentinel errors shared across the service and repository layers.
// Wrap them with fmt.Errorf("...: %w", err) and match with errors.Is().
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrValidation = errors.New("validation failed")
)

// ConflictError reports a conflict together with the resource that caused it,
// so handlers can point clients at the existing resource.
type ConflictError struct {
	Message      string
	ResourceType string // thread, message, job
	ResourceID   string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Is allows errors.Is() to match against ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
