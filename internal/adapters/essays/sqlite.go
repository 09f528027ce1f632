// Package essays stores the essay fields the grading engine reads and the
// analysis outcome it writes back.
package essays

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scribo-app/scribo/internal/adapters/sqlitedb"
	"github.com/scribo-app/scribo/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var essaysMigrationV1 string

// SQLiteStore implements core.EssayStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the essay database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := sqlitedb.Migrate(db, "essays_schema_migrations", []string{essaysMigrationV1}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// CreateEssay inserts an essay. An empty ID is filled with a new UUID.
func (s *SQLiteStore) CreateEssay(ctx context.Context, essay core.EssayRecord) error {
	if essay.ID == "" {
		essay.ID = uuid.NewString()
	}
	if essay.CreatedAt.IsZero() {
		essay.CreatedAt = time.Now()
	}
	return sqlitedb.RetryWrite(ctx, "create essay", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO essays (id, user_id, theme, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			essay.ID, essay.UserID, essay.Theme, essay.Content, essay.CreatedAt.UnixNano(),
		)
		return err
	})
}

// GetEssay loads an essay by id.
func (s *SQLiteStore) GetEssay(ctx context.Context, id string) (*core.EssayRecord, error) {
	var (
		rec         core.EssayRecord
		feedback    sql.NullString
		score       sql.NullFloat64
		reliability sql.NullString
		mode        sql.NullString
		analyzedAt  sql.NullInt64
		createdAt   int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, theme, content,
		       deep_analysis_feedback, deep_analysis_score, deep_analysis_reliability,
		       deep_analysis_mode, deep_analysis_at, created_at
		FROM essays WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.UserID, &rec.Theme, &rec.Content,
		&feedback, &score, &reliability, &mode, &analyzedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("essay", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading essay: %w", err)
	}

	rec.CreatedAt = time.Unix(0, createdAt)
	rec.DeepFeedback = feedback.String
	rec.DeepMode = mode.String
	if score.Valid {
		v := score.Float64
		rec.DeepScore = &v
	}
	if reliability.Valid {
		if r, err := core.ParseReliability(reliability.String); err == nil {
			rec.DeepReliability = r
		}
	}
	if analyzedAt.Valid {
		at := time.Unix(0, analyzedAt.Int64)
		rec.DeepAnalyzedAt = &at
	}
	return &rec, nil
}

// ApplyAnalysis overwrites the analysis fields of an essay. A later
// analysis always replaces an earlier one regardless of mode.
func (s *SQLiteStore) ApplyAnalysis(ctx context.Context, essayID string, upd core.EssayAnalysisUpdate) error {
	if essayID == "" {
		return core.ErrValidation(core.CodeMissingEssayID, "essay id is required")
	}
	at := upd.AnalyzedAt
	if at.IsZero() {
		at = time.Now()
	}
	var score sql.NullFloat64
	if upd.Score != nil {
		score = sql.NullFloat64{Float64: *upd.Score, Valid: true}
	}

	var affected int64
	err := sqlitedb.RetryWrite(ctx, "apply analysis", func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE essays SET
				deep_analysis_feedback = ?,
				deep_analysis_score = ?,
				deep_analysis_reliability = ?,
				deep_analysis_mode = ?,
				deep_analysis_at = ?
			WHERE id = ?`,
			upd.Feedback, score, upd.Reliability.String(), upd.Mode, at.UnixNano(), essayID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("updating essay %s: %w", essayID, err)
	}
	if affected == 0 {
		return core.ErrNotFound("essay", essayID)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
