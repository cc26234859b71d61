package db

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5"
)

type traceKey struct{}

type traceStart struct {
	sql   string
	start time.Time
}

// QueryLogger logs every statement at debug level.
type QueryLogger struct {
	Log *log.Logger
}

func (t *QueryLogger) TraceQueryStart(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	return context.WithValue(ctx, traceKey{}, traceStart{
		sql:   compactSQL(data.SQL),
		start: time.Now(),
	})
}

func (t *QueryLogger) TraceQueryEnd(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	st, _ := ctx.Value(traceKey{}).(traceStart)
	if data.Err != nil && data.Err != pgx.ErrNoRows {
		t.Log.Warn("SQL statement failed",
			"query", st.sql,
			"error", data.Err,
		)
		return
	}
	t.Log.Debug("Executing SQL statement",
		"query", st.sql,
		"rows", data.CommandTag.RowsAffected(),
		"elapsed", time.Since(st.start),
	)
}

func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
