package social

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// NewAuthState returns a fresh OAuth state value and PKCE code verifier.
func NewAuthState() (state, codeVerifier string) {
	state = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return state, oauth2.GenerateVerifier()
}

// MissingScopesError lists permissions the user declined on the consent screen.
type MissingScopesError struct {
	Missing []string
}

func (e *MissingScopesError) Error() string {
	return fmt.Sprintf("missing permissions: %s", strings.Join(e.Missing, ", "))
}

// CheckScopes verifies every required scope was granted.
func CheckScopes(required, granted []string) error {
	have := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		have[strings.TrimSpace(g)] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := have[r]; !ok {
			missing = append(missing, r)
		}
	}
	if len(missing) > 0 {
		return &MissingScopesError{Missing: missing}
	}
	return nil
}
