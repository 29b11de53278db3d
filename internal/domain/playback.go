package domain

import "context"

// PlaybackController performs the side effects requested by commands.
// Implementations need not be safe for concurrent use; the dispatcher
// guarantees one outstanding call at a time.
type PlaybackController interface {
	// PlayExternal hands a YouTube video id to an external application.
	PlayExternal(ctx context.Context, videoID string) error
	// PlayStream must stop any previous stream session before starting.
	PlayStream(ctx context.Context, url string) error
	// Stop is idempotent.
	Stop(ctx context.Context) error
}
