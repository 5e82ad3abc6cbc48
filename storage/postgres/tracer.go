package postgres

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// QueryLogger is a pgx.QueryTracer writing every statement to a slog.Logger.
type QueryLogger struct {
	logger *slog.Logger
}

var _ pgx.QueryTracer = (*QueryLogger)(nil)

func NewQueryLogger(logger *slog.Logger) *QueryLogger {
	return &QueryLogger{logger: logger}
}

var spaces = regexp.MustCompile(`\s+`)

func compactSQL(sql string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(sql, " "))
}

func (l *QueryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	l.logger.DebugContext(ctx, "query start",
		slog.String("sql", compactSQL(data.SQL)),
		slog.Int("args", len(data.Args)),
	)
	return ctx
}

func (l *QueryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		l.logger.WarnContext(ctx, "query failed", slog.Any("error", data.Err))
		return
	}
	l.logger.DebugContext(ctx, "query end", slog.String("tag", data.CommandTag.String()))
}
