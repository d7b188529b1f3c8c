package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"

	"github.com/google/uuid"
)

const integrationColumns = `id, provider, profile_id, name, picture, username, access_token, refresh_token,
	token_expires_at, disabled, in_between_steps, refresh_needed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntegration(row rowScanner) (*model.Integration, error) {
	i := &model.Integration{}
	var exp sql.NullTime
	var picture, username, refresh sql.NullString
	if err := row.Scan(&i.ID, &i.Provider, &i.ProfileID, &i.Name, &picture, &username, &i.AccessToken, &refresh,
		&exp, &i.Disabled, &i.InBetweenSteps, &i.RefreshNeeded, &i.CreatedAt, &i.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrIntegrationNotFound
		}
		return nil, err
	}
	if exp.Valid {
		t := exp.Time.UTC()
		i.TokenExpiresAt = &t
	}
	i.Picture = picture.String
	i.Username = username.String
	i.RefreshToken = refresh.String
	return i, nil
}

// IntegrationRepository is the PostgreSQL credential store.
type IntegrationRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewIntegrationRepository(db *sql.DB) repository.ICredentialStore {
	return &IntegrationRepository{db: db, now: time.Now}
}

// EnsureIntegrationSchema creates the integrations table if it does not exist.
func EnsureIntegrationSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ddl := `CREATE TABLE IF NOT EXISTS integrations (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		profile_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		picture TEXT NULL,
		username TEXT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT NULL,
		token_expires_at TIMESTAMPTZ NULL,
		disabled BOOLEAN NOT NULL DEFAULT FALSE,
		in_between_steps BOOLEAN NOT NULL DEFAULT FALSE,
		refresh_needed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (provider, profile_id)
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create integrations: %w", err)
	}
	return nil
}

func (r *IntegrationRepository) Get(ctx context.Context, integrationID string) (*model.Integration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE id=$1`, integrationID)
	return scanIntegration(row)
}

// Put keeps the stored refresh token when the provider did not rotate it.
func (r *IntegrationRepository) Put(ctx context.Context, integrationID string, d *model.AuthTokenDetails) error {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE integrations SET access_token=$1, refresh_token=COALESCE(NULLIF($2,''), refresh_token),
		token_expires_at=$3, refresh_needed=FALSE, updated_at=$4 WHERE id=$5`,
		d.AccessToken, d.RefreshToken, d.ExpiresAt(now), now, integrationID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r *IntegrationRepository) Connect(ctx context.Context, provider string, d *model.AuthTokenDetails) (*model.Integration, error) {
	now := r.now().UTC()
	q := `INSERT INTO integrations (id, provider, profile_id, name, picture, username, access_token, refresh_token,
			token_expires_at, disabled, in_between_steps, refresh_needed, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,$11,FALSE,$10,$10)
		  ON CONFLICT (provider, profile_id) DO UPDATE SET
			name=EXCLUDED.name,
			picture=EXCLUDED.picture,
			username=EXCLUDED.username,
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			token_expires_at=EXCLUDED.token_expires_at,
			in_between_steps=EXCLUDED.in_between_steps,
			refresh_needed=FALSE,
			updated_at=EXCLUDED.updated_at
		  RETURNING ` + integrationColumns
	row := r.db.QueryRowContext(ctx, q, uuid.NewString(), provider, d.ID, d.Name, d.Picture, d.Username,
		d.AccessToken, d.RefreshToken, d.ExpiresAt(now), now, d.InBetweenSteps)
	return scanIntegration(row)
}

func (r *IntegrationRepository) Reconnect(ctx context.Context, integrationID string, d *model.AuthTokenDetails) (*model.Integration, error) {
	now := r.now().UTC()
	q := `UPDATE integrations SET profile_id=$1, name=$2, picture=$3, username=$4, access_token=$5, refresh_token=$6,
			token_expires_at=$7, in_between_steps=FALSE, refresh_needed=FALSE, updated_at=$8
		  WHERE id=$9
		  RETURNING ` + integrationColumns
	row := r.db.QueryRowContext(ctx, q, d.ID, d.Name, d.Picture, d.Username, d.AccessToken, d.RefreshToken,
		d.ExpiresAt(now), now, integrationID)
	return scanIntegration(row)
}

func (r *IntegrationRepository) Expire(ctx context.Context, integrationID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE integrations SET refresh_needed=TRUE, updated_at=$1 WHERE id=$2`, r.now().UTC(), integrationID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrIntegrationNotFound
	}
	return nil
}
