package persistence

import (
	"context"
	"database/sql"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
)

const recordColumns = `id, integration_id, provider, post_id, status, external_id, release_url, failure_kind, error_message, attempt_count, created_at, updated_at`

// PublishRecordRepository keeps per-post publish history in PostgreSQL. It is registered as a
// publish notifier so every finished batch lands in the history.
type PublishRecordRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPublishRecordRepository(db *sql.DB) *PublishRecordRepository {
	return &PublishRecordRepository{db: db, now: time.Now}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Notify upserts one record per response and appends an audit row for each.
// A post that already succeeded keeps its success when a later attempt fails.
func (r *PublishRecordRepository) Notify(ctx context.Context, event model.PublishEvent) (err error) {
	if len(event.Responses) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := r.now().UTC()
	q := `INSERT INTO publish_records (integration_id, provider, post_id, status, external_id, release_url, failure_kind, error_message, attempt_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,$9,$9)
		ON CONFLICT (integration_id, post_id) DO UPDATE SET
			attempt_count = publish_records.attempt_count + 1,
			status = CASE WHEN publish_records.status IN ('completed','posted') THEN publish_records.status ELSE EXCLUDED.status END,
			external_id = COALESCE(EXCLUDED.external_id, publish_records.external_id),
			release_url = COALESCE(EXCLUDED.release_url, publish_records.release_url),
			failure_kind = CASE WHEN publish_records.status IN ('completed','posted') THEN publish_records.failure_kind ELSE EXCLUDED.failure_kind END,
			error_message = CASE WHEN publish_records.status IN ('completed','posted') THEN publish_records.error_message ELSE EXCLUDED.error_message END,
			updated_at = EXCLUDED.updated_at
		RETURNING id`
	for _, res := range event.Responses {
		var kind, msg *string
		if res.Failure != nil {
			kind = nullable(string(res.Failure.Kind))
			msg = nullable(res.Failure.Message)
		}
		var id int64
		if err = tx.QueryRowContext(ctx, q, event.IntegrationID, event.Provider, res.ID, string(res.Status),
			nullable(res.PostID), nullable(res.ReleaseURL), kind, msg, now).Scan(&id); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO publish_audit (record_id, status, error_message, created_at) VALUES ($1,$2,$3,$4)`,
			id, string(res.Status), msg, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListByIntegration returns the most recently updated records first.
func (r *PublishRecordRepository) ListByIntegration(ctx context.Context, integrationID string, limit int) ([]*model.PublishRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM publish_records WHERE integration_id=$1 ORDER BY updated_at DESC LIMIT $2`, integrationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*model.PublishRecord{}
	for rows.Next() {
		rec := &model.PublishRecord{}
		var status string
		var extID, url, kind, msg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.IntegrationID, &rec.Provider, &rec.PostID, &status, &extID, &url, &kind, &msg,
			&rec.AttemptCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = model.PostStatus(status)
		rec.ExternalID = stringPtr(extID)
		rec.ReleaseURL = stringPtr(url)
		rec.FailureKind = stringPtr(kind)
		rec.ErrorMessage = stringPtr(msg)
		list = append(list, rec)
	}
	return list, rows.Err()
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
var _ repository.IPublishHistory = (*PublishRecordRepository)(nil)
