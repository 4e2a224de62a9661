package book

import "errors"

// Errors
var (
	ErrResyncRequired = errors.New("resync required")
	ErrStaleSequence  = errors.New("stale sequence number")
	ErrBufferOverflow = errors.New("sequence buffer overflow")
)
