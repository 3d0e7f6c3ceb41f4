package upload

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. The protocol layer maps each kind to a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindExpired
	KindAlreadyCompleted
	KindInvalidOffset
	KindDataExceedsSize
	KindNotCompleted
	KindFileMissing
	KindConflict
)

var kindNames = map[Kind]string{
	KindInternal:         "Internal",
	KindNotFound:         "NotFound",
	KindExpired:          "Expired",
	KindAlreadyCompleted: "AlreadyCompleted",
	KindInvalidOffset:    "InvalidOffset",
	KindDataExceedsSize:  "DataExceedsSize",
	KindNotCompleted:     "NotCompleted",
	KindFileMissing:      "FileMissing",
	KindConflict:         "Conflict",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the typed failure returned by every Engine operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
