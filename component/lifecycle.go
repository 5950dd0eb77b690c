// Package component defines the lifecycle contract shared by the
// long-running pieces of SondeAlert (prediction stream, APRS poller,
// Telegram transport, delivery loop).
package component

import (
	"context"
	"time"
)

// Component is implemented by every long-running part of the service.
// Start must not block beyond initial connection setup; the passed
// context carries process-wide shutdown. Stop waits up to timeout for a
// graceful exit.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}
