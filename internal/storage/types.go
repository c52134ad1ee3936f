package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled and Open returns nil.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store records dispatched keys with an expiry. Expired keys are treated as
// absent and removed by Prune.
type Store interface {
	PutKey(ctx context.Context, key string, until time.Time) error
	GetKey(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Prune(ctx context.Context, now time.Time) (removed int, err error)
	Close() error
}
