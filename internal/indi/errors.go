package indi

import (
	"errors"
	"fmt"
)

// Domain errors for the INDI engine.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when an operation needs a live socket.
	ErrNotConnected = errors.New("indi: not connected to INDI server")

	// ErrAlreadyConnected is returned by Connect while a socket is assigned.
	// Callers must Disconnect first; there is no implicit reconnect.
	ErrAlreadyConnected = errors.New("indi: already connected")

	// ErrConnectionFailed is returned when the transport connect fails.
	ErrConnectionFailed = errors.New("indi: connection failed")

	// ErrSendFailed is returned when writing a command to the socket fails.
	ErrSendFailed = errors.New("indi: send failed")

	// ErrEmptyCommand is returned when asked to send an empty command.
	ErrEmptyCommand = errors.New("indi: no command provided")

	// ErrParse is wrapped by ParseError.
	ErrParse = errors.New("indi: malformed document")

	// ErrIncompleteTransfer is returned when the socket closes before a BLOB
	// reaches its declared size.
	ErrIncompleteTransfer = errors.New("indi: incomplete BLOB transfer")

	// ErrInvalidBLOB is returned when a BLOB vector lacks a usable payload
	// description (missing oneBLOB child, bad size).
	ErrInvalidBLOB = errors.New("indi: invalid BLOB vector")

	// ErrInvalidRequest is returned for imaging requests missing required fields.
	ErrInvalidRequest = errors.New("indi: invalid imaging request")
)

// ParseError describes a document the Element Parser could not decode.
// The read loop logs it and continues with the next document.
type ParseError struct {
	// Document is the leading part of the offending document (for logs).
	Document string

	// Err is the underlying decoder error.
	Err error
}

// maxParseErrorExcerpt bounds the document excerpt carried in a ParseError.
const maxParseErrorExcerpt = 100

func newParseError(doc []byte, err error) *ParseError {
	excerpt := doc
	if len(excerpt) > maxParseErrorExcerpt {
		excerpt = excerpt[:maxParseErrorExcerpt]
	}
	return &ParseError{Document: string(excerpt), Err: err}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %v (document %q)", ErrParse, e.Err, e.Document)
}

// Unwrap lets errors.Is match both ErrParse and the decoder error.
func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}
