package source

import "errors"

// Sentinel kinds for fetch failures. Callers treat any of them as "no change
// this cycle".
var (
	ErrFetch             = errors.New("fetch results page")
	ErrUnexpectedStatus  = errors.New("unexpected http status")
	ErrUnexpectedContent = errors.New("unexpected page content")
)
