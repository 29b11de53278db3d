package playback

import (
	"context"
	"io"
	"log/slog"

	"go2tv.app/beam-remote/internal/domain"
)

// LogOnly records every call and plays nothing. It backs dry runs.
type LogOnly struct {
	logger *slog.Logger
}

func NewLogOnly(logger *slog.Logger) *LogOnly {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogOnly{logger: logger}
}

func (l *LogOnly) PlayExternal(_ context.Context, videoID string) error {
	l.logger.Info("dry_run_play_external", slog.String("video_id", videoID), slog.String("url", YoutubeWatchURL+videoID))
	return nil
}

func (l *LogOnly) PlayStream(_ context.Context, url string) error {
	l.logger.Info("dry_run_play_stream", slog.String("url", url))
	return nil
}

func (l *LogOnly) Stop(context.Context) error {
	l.logger.Info("dry_run_stop")
	return nil
}

var _ domain.PlaybackController = (*LogOnly)(nil)
