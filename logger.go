package vash

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/vash/encoder"
	"github.com/hupe1980/vash/manifest"
)

// Logger wraps slog.Logger with vash-specific helpers so every pipeline
// logs with the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that writes JSON logs to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that writes human-readable logs to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// WithRun tags the logger with a training run ID.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With("run", runID)}
}

// WithVideo tags the logger with a video identity.
func (l *Logger) WithVideo(id encoder.VideoIdentity) *Logger {
	return &Logger{Logger: l.Logger.With("video", id.Name, "seq", id.Seq)}
}

// LogTrainPhase logs the completion of a training phase.
func (l *Logger) LogTrainPhase(ctx context.Context, phase Phase, elapsed time.Duration, attrs ...any) {
	l.InfoContext(ctx, "train phase completed",
		append([]any{"phase", phase.String(), "elapsed", elapsed}, attrs...)...,
	)
}

// LogSkip logs a video excluded from training.
func (l *Logger) LogSkip(ctx context.Context, err *ExtractionError) {
	l.WarnContext(ctx, "video skipped",
		"video", err.Identity.Name,
		"seq", err.Identity.Seq,
		"error", err.Err,
	)
}

// LogTrain logs the outcome of a training run.
func (l *Logger) LogTrain(ctx context.Context, report *TrainReport, err error) {
	if err != nil {
		l.ErrorContext(ctx, "training failed", "error", err)
		return
	}
	if len(report.Skipped) > 0 {
		l.WarnContext(ctx, "training completed with skipped videos",
			"videos", report.Videos,
			"skipped", len(report.Skipped),
			"descriptors", report.Descriptors,
		)
		return
	}
	l.InfoContext(ctx, "training completed",
		"videos", report.Videos,
		"descriptors", report.Descriptors,
		"iterations", report.Iterations,
		"converged", report.Converged,
	)
}

// LogQuery logs a query.
func (l *Logger) LogQuery(ctx context.Context, path string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"query", path,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "query completed",
		"query", path,
		"results", results,
	)
}

// LogCommit logs a manifest commit.
func (l *Logger) LogCommit(ctx context.Context, m *manifest.Manifest, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"run", m.RunID,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "run committed",
		"run", m.RunID,
		"manifest", m.ID,
		"vocabulary_size", m.VocabularySize,
		"videos", m.Videos,
	)
}
