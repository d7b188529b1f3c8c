package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnsurePublishRecordSchema creates the history tables and adds columns introduced after
// the first release. Safe to call at startup.
func EnsurePublishRecordSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS publish_records (
			id BIGSERIAL PRIMARY KEY,
			integration_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			post_id TEXT NOT NULL,
			status TEXT NOT NULL,
			external_id TEXT,
			error_message TEXT,
			attempt_count INT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (integration_id, post_id)
		)`,
		`CREATE TABLE IF NOT EXISTS publish_audit (
			id BIGSERIAL PRIMARY KEY,
			record_id BIGINT NOT NULL REFERENCES publish_records(id) ON DELETE CASCADE,
			status TEXT NOT NULL,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("creating publish history tables failed: %w", err)
		}
	}

	checks := []struct {
		table  string
		column string
		ddl    string
	}{
		{"publish_records", "release_url", "ALTER TABLE publish_records ADD COLUMN release_url TEXT"},
		{"publish_records", "failure_kind", "ALTER TABLE publish_records ADD COLUMN failure_kind TEXT"},
	}
	for _, c := range checks {
		exists, err := columnExists(ctx, db, c.table, c.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, c.ddl); err != nil {
				return fmt.Errorf("adding column %s.%s failed: %w", c.table, c.column, err)
			}
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	row := db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`, table, column)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
