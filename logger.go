package vecgraph

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/vecgraph/consistency"
	"github.com/hupe1980/vecgraph/graph"
	"github.com/hupe1980/vecgraph/query"
)

// Logger wraps slog.Logger with vecgraph-specific context.
// This provides structured logging with consistent field names.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithWorkspace tags the logger with a workspace name.
func (l *Logger) WithWorkspace(name string) *Logger {
	return &Logger{Logger: l.Logger.With("workspace", name)}
}

// WithBatch tags the logger with an ingestion batch id.
func (l *Logger) WithBatch(id string) *Logger {
	return &Logger{Logger: l.Logger.With("batch", id)}
}

// LogUpsert logs a single record upsert.
func (l *Logger) LogUpsert(ctx context.Context, kind string, key string, created bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert failed",
			"kind", kind,
			"key", key,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "upsert completed",
		"kind", kind,
		"key", key,
		"created", created,
	)
}

// LogBatch logs an ingestion batch outcome.
func (l *Logger) LogBatch(ctx context.Context, total, failed int, elapsed time.Duration) {
	if failed > 0 {
		l.WarnContext(ctx, "batch completed with failures",
			"total", total,
			"failed", failed,
			"success", total-failed,
			"elapsed", elapsed,
		)
		return
	}
	l.InfoContext(ctx, "batch completed",
		"count", total,
		"elapsed", elapsed,
	)
}

// LogQuery logs a query.
func (l *Logger) LogQuery(ctx context.Context, mode query.Mode, topK int, resp *query.Response, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"mode", mode.String(),
			"top_k", topK,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "query completed",
		"mode", resp.Mode.String(),
		"top_k", topK,
		"results", len(resp.Results),
		"truncated", resp.Truncated,
	)
}

// LogRecovery logs a pending-record recovery run.
func (l *Logger) LogRecovery(ctx context.Context, report consistency.RecoveryReport, err error) {
	attrs := []any{
		"completed", report.Completed,
		"reindexed", report.Reindexed,
		"skipped", report.Skipped,
		"failed", report.Failed,
	}
	if err != nil {
		l.ErrorContext(ctx, "recovery failed", append(attrs, "error", err)...)
		return
	}
	if report == (consistency.RecoveryReport{}) {
		return
	}
	l.InfoContext(ctx, "recovery completed", attrs...)
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, workspace string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"workspace", workspace,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "snapshot saved",
		"workspace", workspace,
	)
}

// LogCompaction logs a compaction run.
func (l *Logger) LogCompaction(ctx context.Context, removed int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed", "error", err)
		return
	}
	l.InfoContext(ctx, "compaction completed",
		"removed", removed,
		"elapsed", elapsed,
	)
}

// LogPrune logs a workspace prune.
func (l *Logger) LogPrune(ctx context.Context, res graph.PruneResult, err error) {
	if err != nil {
		l.ErrorContext(ctx, "prune failed", "error", err)
		return
	}
	l.InfoContext(ctx, "workspace pruned",
		"entities", len(res.Entities),
		"relations", res.Relations,
		"chunks", len(res.ChunkRows),
	)
}
