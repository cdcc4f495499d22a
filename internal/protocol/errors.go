package protocol

import "errors"

var (
	ErrTruncated         = errors.New("protocol: truncated data")
	ErrMissingField      = errors.New("protocol: missing field")
	ErrFieldTypeMismatch = errors.New("protocol: field type mismatch")
	ErrKindMismatch      = errors.New("protocol: message kind mismatch")
)
