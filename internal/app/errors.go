package service

import (
	"fmt"

	"github.com/okian/racefeed/internal/adapters/fanout"
	"github.com/okian/racefeed/internal/adapters/scheduler"
)

// Sentinel kinds for service errors. ErrClosed matches fanout.ErrHubClosed
// so transports can treat both the same way.
var (
	ErrUnknownEvent = scheduler.ErrUnknownEvent
	ErrClosed       = fmt.Errorf("service closed: %w", fanout.ErrHubClosed)
)
