package orchestrator

import "fmt"

// ErrorKind classifies a rejected or failed orchestration request.
type ErrorKind string

const (
	// KindAlreadyActive means a download is already in flight for the
	// content id.
	KindAlreadyActive ErrorKind = "already_active"
	// KindInvalidMetadata means the request was malformed and no state
	// was created.
	KindInvalidMetadata ErrorKind = "invalid_metadata"
	// KindNoSource means automatic discovery found no usable candidate.
	KindNoSource ErrorKind = "no_source"
	// KindNotFound means the referenced content does not exist.
	KindNotFound ErrorKind = "not_found"
	// KindInvalidState means the requested transition is not allowed from
	// the content's current status.
	KindInvalidState ErrorKind = "invalid_state"
)

// Error is a rejected orchestration request.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func orchErr(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
