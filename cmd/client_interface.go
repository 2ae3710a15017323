package cmd

import (
	"context"
)

// ClientInterface is the set of daemon-control operations the start, stop
// and reload subcommands need; tests substitute a mock implementation via
// SetClient.
type ClientInterface interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Reload(ctx context.Context) error
	Close() error
}
