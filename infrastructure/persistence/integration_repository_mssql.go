package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"

	"github.com/google/uuid"
)

type IntegrationRepositoryMSSQL struct {
	db  *sql.DB
	now func() time.Time
}

func NewIntegrationRepositoryMSSQL(db *sql.DB) repository.ICredentialStore {
	return &IntegrationRepositoryMSSQL{db: db, now: time.Now}
}

// EnsureIntegrationSchemaMSSQL creates the integrations table for SQL Server if it does not exist.
func EnsureIntegrationSchemaMSSQL(db *sql.DB) error {
	ddl := `IF NOT EXISTS (SELECT * FROM sys.objects WHERE object_id = OBJECT_ID(N'dbo.integrations') AND type in (N'U'))
BEGIN
	CREATE TABLE dbo.[integrations] (
		id NVARCHAR(64) NOT NULL PRIMARY KEY,
		provider NVARCHAR(64) NOT NULL,
		profile_id NVARCHAR(255) NOT NULL,
		name NVARCHAR(255) NOT NULL DEFAULT '',
		picture NVARCHAR(MAX) NULL,
		username NVARCHAR(255) NULL,
		access_token NVARCHAR(MAX) NOT NULL,
		refresh_token NVARCHAR(MAX) NULL,
		token_expires_at DATETIME2 NULL,
		disabled BIT NOT NULL DEFAULT 0,
		in_between_steps BIT NOT NULL DEFAULT 0,
		refresh_needed BIT NOT NULL DEFAULT 0,
		created_at DATETIME2 NOT NULL,
		updated_at DATETIME2 NOT NULL
	);
	CREATE UNIQUE INDEX UX_integrations_provider_profile ON dbo.[integrations](provider, profile_id);
END`
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("create integrations (mssql): %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *IntegrationRepositoryMSSQL) Get(ctx context.Context, integrationID string) (*model.Integration, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM dbo.[integrations] WHERE id=@p1`, integrationID)
	return scanIntegration(row)
}

func (r *IntegrationRepositoryMSSQL) Put(ctx context.Context, integrationID string, d *model.AuthTokenDetails) error {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE dbo.[integrations] SET access_token=@p1,
		refresh_token=COALESCE(NULLIF(@p2, ''), refresh_token), token_expires_at=@p3, refresh_needed=0, updated_at=@p4 WHERE id=@p5`,
		d.AccessToken, d.RefreshToken, nullTime(d.ExpiresAt(now)), now, integrationID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r *IntegrationRepositoryMSSQL) Connect(ctx context.Context, provider string, d *model.AuthTokenDetails) (*model.Integration, error) {
	now := r.now().UTC()
	q := `MERGE dbo.[integrations] WITH (HOLDLOCK) AS t
USING (SELECT @p2 AS provider, @p3 AS profile_id) AS s
ON t.provider = s.provider AND t.profile_id = s.profile_id
WHEN MATCHED THEN UPDATE SET name=@p4, picture=@p5, username=@p6, access_token=@p7, refresh_token=@p8,
	token_expires_at=@p9, in_between_steps=@p11, refresh_needed=0, updated_at=@p10
WHEN NOT MATCHED THEN INSERT (id, provider, profile_id, name, picture, username, access_token, refresh_token,
	token_expires_at, disabled, in_between_steps, refresh_needed, created_at, updated_at)
	VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, 0, @p11, 0, @p10, @p10)
OUTPUT inserted.id;`
	var id string
	err := r.db.QueryRowContext(ctx, q, uuid.NewString(), provider, d.ID, d.Name, d.Picture, d.Username,
		d.AccessToken, d.RefreshToken, nullTime(d.ExpiresAt(now)), now, d.InBetweenSteps).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("upsert integration (mssql): %w", err)
	}
	return r.Get(ctx, id)
}

func (r *IntegrationRepositoryMSSQL) Reconnect(ctx context.Context, integrationID string, d *model.AuthTokenDetails) (*model.Integration, error) {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE dbo.[integrations] SET profile_id=@p1, name=@p2, picture=@p3, username=@p4,
		access_token=@p5, refresh_token=@p6, token_expires_at=@p7, in_between_steps=0, refresh_needed=0, updated_at=@p8 WHERE id=@p9`,
		d.ID, d.Name, d.Picture, d.Username, d.AccessToken, d.RefreshToken, nullTime(d.ExpiresAt(now)), now, integrationID)
	if err != nil {
		return nil, err
	}
	if err := affectedOne(res); err != nil {
		return nil, err
	}
	return r.Get(ctx, integrationID)
}

func (r *IntegrationRepositoryMSSQL) Expire(ctx context.Context, integrationID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE dbo.[integrations] SET refresh_needed=1, updated_at=@p1 WHERE id=@p2`, r.now().UTC(), integrationID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}
