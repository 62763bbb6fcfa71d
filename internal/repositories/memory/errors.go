package memory

import "fmt"

// Error mirrors the Firestore classification so services handle both backends alike.
type Error struct {
	Op          string
	Message     string
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) IsNotFound() bool    { return e != nil && e.NotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Unavailable }

func notFound(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), NotFound: true}
}

func conflict(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), Conflict: true}
}
