package fanout

import "errors"

// Sentinel kinds for fan-out errors.
var (
	ErrHubClosed = errors.New("fan-out hub closed")
)
