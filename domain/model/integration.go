package model

import "time"

// Integration binds one local account to one external platform account.
type Integration struct {
	ID             string     `json:"id"`
	Provider       string     `json:"provider"`
	Name           string     `json:"name"`
	Picture        string     `json:"picture,omitempty"`
	ProfileID      string     `json:"profile_id"` // external account id
	Username       string     `json:"username,omitempty"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	Disabled       bool       `json:"disabled"`
	InBetweenSteps bool       `json:"in_between_steps"`
	RefreshNeeded  bool       `json:"refresh_needed"` // set by Expire, cleared by a new connect
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TokenExpired reports whether the stored access token is past its expiry.
// Integrations without a recorded expiry never expire.
func (i *Integration) TokenExpired(now time.Time) bool {
	if i.TokenExpiresAt == nil {
		return false
	}
	return i.TokenExpiresAt.Before(now)
}

// AuthTokenDetails is what a provider hands back after a code exchange or refresh.
type AuthTokenDetails struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds
	ID           string `json:"id"`
	Name         string `json:"name"`
	Picture      string `json:"picture"`
	Username     string `json:"username"`
	// InBetweenSteps marks a connect that still needs a page chosen before it can publish.
	InBetweenSteps bool `json:"in_between_steps,omitempty"`
}

// ExpiresAt converts ExpiresIn into an absolute timestamp. A zero ExpiresIn means no expiry.
func (d *AuthTokenDetails) ExpiresAt(now time.Time) *time.Time {
	if d.ExpiresIn <= 0 {
		return nil
	}
	t := now.Add(time.Duration(d.ExpiresIn) * time.Second).UTC()
	return &t
}

// AuthURL is the result of starting an OAuth flow.
type AuthURL struct {
	URL          string `json:"url"`
	CodeVerifier string `json:"code_verifier"`
	State        string `json:"state"`
}

// AuthResult carries either token details or a human readable failure.
type AuthResult struct {
	Token   *AuthTokenDetails
	Failure string
}

// Failed reports whether the exchange produced a user-facing failure.
func (r AuthResult) Failed() bool { return r.Token == nil || r.Failure != "" }

// Account is the slice of an Integration a provider needs to make calls.
type Account struct {
	ID          string
	AccessToken string
}

// Page is a publishing target reachable with a connected user token.
type Page struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Picture  string `json:"picture,omitempty"`
	Username string `json:"username,omitempty"`
}

// OAuthState is kept between GenerateAuthURL and the callback.
type OAuthState struct {
	Provider     string `json:"provider"`
	CodeVerifier string `json:"code_verifier"`
}
