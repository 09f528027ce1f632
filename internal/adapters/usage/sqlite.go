// Package usage persists per-call model accounting records and aggregates
// them for the usage statistics endpoint.
package usage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scribo-app/scribo/internal/adapters/sqlitedb"
	"github.com/scribo-app/scribo/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var usageMigrationV1 string

// SQLiteLog implements core.UsageLogger on the api_usage table.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens (or creates) the usage database at path.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := sqlitedb.Migrate(db, "usage_schema_migrations", []string{usageMigrationV1}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// LogUsage inserts one record.
func (l *SQLiteLog) LogUsage(ctx context.Context, rec core.UsageRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var errMsg sql.NullString
	if rec.Error != "" {
		errMsg = sql.NullString{String: rec.Error, Valid: true}
	}
	return sqlitedb.RetryWrite(ctx, "log usage", func() error {
		_, err := l.db.ExecContext(ctx, `
			INSERT INTO api_usage
				(id, model_name, user_id, request_type, response_time, success, error_message, tokens_used, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), rec.ModelID, rec.CallerID, string(rec.Kind),
			rec.ResponseTime.Seconds(), rec.Success, errMsg, rec.TokensUsed, ts.UnixNano(),
		)
		return err
	})
}

// UsageStats aggregates calls since the given time per model, ordered by
// model id. A zero since covers the whole log.
func (l *SQLiteLog) UsageStats(ctx context.Context, since time.Time) ([]core.UsageStat, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixNano()
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT model_name,
		       COUNT(*),
		       SUM(CASE WHEN success THEN 0 ELSE 1 END),
		       AVG(response_time),
		       COALESCE(SUM(tokens_used), 0)
		FROM api_usage
		WHERE created_at >= ?
		GROUP BY model_name
		ORDER BY model_name`, from)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	var stats []core.UsageStat
	for rows.Next() {
		var s core.UsageStat
		if err := rows.Scan(&s.ModelID, &s.Calls, &s.Failures, &s.AvgResponseTime, &s.TokensUsed); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
