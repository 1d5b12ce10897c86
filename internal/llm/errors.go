package llm

import "fmt"

// Error classifies a failed or unusable chat-completion exchange: transport
// failures, non-2xx statuses, and response shapes the caller cannot consume
// (missing choices, malformed tool-call arguments).
type Error struct {
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm: %s", e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an Error with a formatted detail string.
func NewError(cause error, format string, args ...any) *Error {
	return &Error{Detail: fmt.Sprintf(format, args...), Cause: cause}
}
