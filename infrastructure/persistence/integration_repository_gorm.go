package persistence

import (
	"context"
	"errors"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// integrationRow is the gorm mapping of the integrations table.
type integrationRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	Provider       string `gorm:"size:64;uniqueIndex:ux_integrations_provider_profile"`
	ProfileID      string `gorm:"size:191;uniqueIndex:ux_integrations_provider_profile"`
	Name           string `gorm:"size:255"`
	Picture        *string
	Username       *string `gorm:"size:255"`
	AccessToken    string  `gorm:"type:text"`
	RefreshToken   *string `gorm:"type:text"`
	TokenExpiresAt *time.Time
	Disabled       bool
	InBetweenSteps bool
	RefreshNeeded  bool
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (integrationRow) TableName() string { return "integrations" }

func (r integrationRow) toModel() *model.Integration {
	i := &model.Integration{
		ID:             r.ID,
		Provider:       r.Provider,
		ProfileID:      r.ProfileID,
		Name:           r.Name,
		AccessToken:    r.AccessToken,
		TokenExpiresAt: r.TokenExpiresAt,
		Disabled:       r.Disabled,
		InBetweenSteps: r.InBetweenSteps,
		RefreshNeeded:  r.RefreshNeeded,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Picture != nil {
		i.Picture = *r.Picture
	}
	if r.Username != nil {
		i.Username = *r.Username
	}
	if r.RefreshToken != nil {
		i.RefreshToken = *r.RefreshToken
	}
	return i
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntegrationRepositoryGorm is the MySQL credential store.
type IntegrationRepositoryGorm struct {
	db  *gorm.DB
	now func() time.Time
}

func NewIntegrationRepositoryGorm(db *gorm.DB) repository.ICredentialStore {
	return &IntegrationRepositoryGorm{db: db, now: time.Now}
}

// EnsureIntegrationSchemaGorm migrates the integrations table.
func EnsureIntegrationSchemaGorm(db *gorm.DB) error {
	return db.AutoMigrate(&integrationRow{})
}

func (r *IntegrationRepositoryGorm) Get(ctx context.Context, integrationID string) (*model.Integration, error) {
	var row integrationRow
	if err := r.db.WithContext(ctx).Where("id = ?", integrationID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrIntegrationNotFound
		}
		return nil, err
	}
	return row.toModel(), nil
}

func (r *IntegrationRepositoryGorm) Put(ctx context.Context, integrationID string, d *model.AuthTokenDetails) error {
	now := r.now().UTC()
	updates := map[string]interface{}{
		"access_token":     d.AccessToken,
		"token_expires_at": d.ExpiresAt(now),
		"refresh_needed":   false,
		"updated_at":       now,
	}
	if d.RefreshToken != "" {
		updates["refresh_token"] = d.RefreshToken
	}
	res := r.db.WithContext(ctx).Model(&integrationRow{}).Where("id = ?", integrationID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrIntegrationNotFound
	}
	return nil
}

func (r *IntegrationRepositoryGorm) Connect(ctx context.Context, provider string, d *model.AuthTokenDetails) (*model.Integration, error) {
	now := r.now().UTC()
	row := integrationRow{
		ID:             uuid.NewString(),
		Provider:       provider,
		ProfileID:      d.ID,
		Name:           d.Name,
		Picture:        optional(d.Picture),
		Username:       optional(d.Username),
		AccessToken:    d.AccessToken,
		RefreshToken:   optional(d.RefreshToken),
		TokenExpiresAt: d.ExpiresAt(now),
		InBetweenSteps: d.InBetweenSteps,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "profile_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":             row.Name,
			"picture":          row.Picture,
			"username":         row.Username,
			"access_token":     row.AccessToken,
			"refresh_token":    row.RefreshToken,
			"token_expires_at": row.TokenExpiresAt,
			"in_between_steps": row.InBetweenSteps,
			"refresh_needed":   false,
			"updated_at":       now,
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}
	var stored integrationRow
	if err := r.db.WithContext(ctx).Where("provider = ? AND profile_id = ?", provider, d.ID).Take(&stored).Error; err != nil {
		return nil, err
	}
	return stored.toModel(), nil
}

func (r *IntegrationRepositoryGorm) Reconnect(ctx context.Context, integrationID string, d *model.AuthTokenDetails) (*model.Integration, error) {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).Model(&integrationRow{}).Where("id = ?", integrationID).Updates(map[string]interface{}{
		"profile_id":       d.ID,
		"name":             d.Name,
		"picture":          optional(d.Picture),
		"username":         optional(d.Username),
		"access_token":     d.AccessToken,
		"refresh_token":    optional(d.RefreshToken),
		"token_expires_at": d.ExpiresAt(now),
		"in_between_steps": false,
		"refresh_needed":   false,
		"updated_at":       now,
	})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, model.ErrIntegrationNotFound
	}
	return r.Get(ctx, integrationID)
}

func (r *IntegrationRepositoryGorm) Expire(ctx context.Context, integrationID string) error {
	res := r.db.WithContext(ctx).Model(&integrationRow{}).Where("id = ?", integrationID).
		Updates(map[string]interface{}{"refresh_needed": true, "updated_at": r.now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrIntegrationNotFound
	}
	return nil
}
