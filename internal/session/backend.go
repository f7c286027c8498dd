package session

import (
	"context"
	"time"
)

// Backend is one storage tier. Get returns nil bytes without error when the
// session is absent or expired; errors mean the tier itself is unhealthy.
type Backend interface {
	Name() string
	Probe(ctx context.Context) error
	Set(ctx context.Context, sessionID string, payload []byte, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) ([]byte, error)
	Delete(ctx context.Context, sessionID string) error
	Exists(ctx context.Context, sessionID string) (bool, error)
}
