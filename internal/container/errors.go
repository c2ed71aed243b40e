package container

import (
	"errors"
	"fmt"
)

// Failure kinds carried by FormatError. Match them with errors.Is.
var (
	ErrHeaderTooShort   = errors.New("container header shorter than 12 bytes")
	ErrSizeMismatch     = errors.New("declared payload size exceeds container length")
	ErrDecompress       = errors.New("payload is not a valid zlib stream")
	ErrTruncatedPayload = errors.New("inflated payload shorter than preamble")
	ErrGrammar          = errors.New("unparseable directive")
	ErrUnknownFormat    = errors.New("unknown container format")
)

// FormatError reports a container that could not be decoded. The whole
// run is aborted on this error.
type FormatError struct {
	Kind   error  // one of the Err* kinds above
	Source string // file path, when known
	Detail string
	Err    error // underlying cause, if any
}

func (e *FormatError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Source != "" {
		return fmt.Sprintf("%s: %s", e.Source, msg)
	}
	return msg
}

// Is matches the failure kind.
func (e *FormatError) Is(target error) bool {
	return e.Kind == target
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatErr(kind error, detail string, err error) *FormatError {
	return &FormatError{Kind: kind, Detail: detail, Err: err}
}
