package parser

import "errors"

// Sentinel causes for column conversion failures.
var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidTime   = errors.New("invalid time of day")
	ErrInvalidNumber = errors.New("invalid number")
	ErrInvalidLane   = errors.New("unknown lane")
	ErrInvalidResult = errors.New("unknown result")
)
