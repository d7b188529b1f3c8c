package repository

import (
	"context"
	"time"

	"publish-pipeline/domain/model"
)

// ICredentialStore persists tokens per integration.
type ICredentialStore interface {
	// Get returns model.ErrIntegrationNotFound when no integration matches.
	Get(ctx context.Context, integrationID string) (*model.Integration, error)
	// Put stores refreshed token details for an existing integration.
	Put(ctx context.Context, integrationID string, details *model.AuthTokenDetails) error
	// Connect creates or updates the integration for (provider, external account id).
	Connect(ctx context.Context, provider string, details *model.AuthTokenDetails) (*model.Integration, error)
	// Reconnect points an existing integration at another external account, typically the
	// page chosen after connect, and clears InBetweenSteps.
	Reconnect(ctx context.Context, integrationID string, details *model.AuthTokenDetails) (*model.Integration, error)
	// Expire marks the integration as needing re-authentication.
	Expire(ctx context.Context, integrationID string) error
}

// ILocker serializes work on a key across goroutines (and processes, for distributed implementations).
type ILocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// IOAuthStateStore keeps the code verifier of a pending OAuth flow, keyed by state.
type IOAuthStateStore interface {
	SaveState(ctx context.Context, state string, data model.OAuthState, ttl time.Duration) error
	// TakeState returns and deletes the stored state; nil when absent or expired.
	TakeState(ctx context.Context, state string) (*model.OAuthState, error)
}
