package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrEmptyEventID = errors.New("event id must not be empty")
	ErrListener     = errors.New("change listener failed")
)
