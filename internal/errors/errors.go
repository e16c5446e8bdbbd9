// internal/errors/errors.go
package appErrors

import "fmt"

// ValidationError rejects a request before any transport work happens.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrLogNotFound is a sentinel error
type ErrLogNotFound struct {
	LogID string
}

func (e *ErrLogNotFound) Error() string {
	return fmt.Sprintf("email log with ID %s not found", e.LogID)
}

func NewLogNotFound(id string) error {
	return &ErrLogNotFound{LogID: id}
}

// ErrTemplateNotFound is a sentinel error
type ErrTemplateNotFound struct {
	TemplateID int
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("template with ID %d not found", e.TemplateID)
}

func NewTemplateNotFound(id int) error {
	return &ErrTemplateNotFound{TemplateID: id}
}

// PersistenceError means the log could not be durably written. It is
// fatal for the dispatch as a whole: the caller must be told the send
// outcome is indeterminate rather than assume success.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func NewPersistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
