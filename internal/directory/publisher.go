// Package directory announces live playout URLs to a shared directory so
// other nodes (or an edge cache) can discover streams hosted by this bridge.
// Announcements are ephemeral: keys carry a TTL refreshed while the stream is
// live and are removed on stop, so the directory never outlives the process
// that owns the stream.
package directory

import "context"

// Publisher announces and withdraws playout URLs.
//
// Implementations should be safe for concurrent use.
type Publisher interface {
	// Publish announces the playout URL for a stream.
	Publish(ctx context.Context, streamID, playoutURL string) error

	// Unpublish withdraws a previously announced stream. Withdrawing an
	// unknown stream is a no-op.
	Unpublish(ctx context.Context, streamID string) error

	Close() error
}

// NoopPublisher is used when no shared directory is configured. It performs
// no external calls so callers never need conditional logic.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, streamID, playoutURL string) error { return nil }

func (NoopPublisher) Unpublish(ctx context.Context, streamID string) error { return nil }

func (NoopPublisher) Close() error { return nil }
