package shared

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrKindValidation         ErrorKind = "validation"
	ErrKindRedisKeyValidation ErrorKind = "redis_key_validation"
	ErrKindMessageValidation  ErrorKind = "message_validation"
	ErrKindStorage            ErrorKind = "storage"
	ErrKindDirectoryAccess    ErrorKind = "directory_access"
	ErrKindFileRead           ErrorKind = "file_read"
	ErrKindFileImport         ErrorKind = "file_import"
	ErrKindInvalidTool        ErrorKind = "invalid_tool"
	ErrKindToolNotFound       ErrorKind = "tool_not_found"
	ErrKindFunctionCall       ErrorKind = "function_call"
	ErrKindToolCompletion     ErrorKind = "tool_completion"
	ErrKindChatCompletion     ErrorKind = "chat_completion"
)

// Error is the single error type crossing package boundaries in the core.
// Kind identifies the failure class, Err carries the original cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func Errorf(kind ErrorKind, format string, a ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, a...),
	}
}

func Wrap(kind ErrorKind, err error, format string, a ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, a...),
		Err:     err,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether any error in err's chain is a *Error of the given
// kind. Wrapping an *Error into another *Error keeps the inner kind
// matchable.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the kind of the outermost *Error in the chain, or "" when
// the error is untyped.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
