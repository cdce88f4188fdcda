package smart

import (
	"fmt"
	"net/url"

	"github.com/smartvitals/smartvitals/internal/platform/session"
)

// DefaultScopes requests the OpenID identity scopes plus patient-context
// launch and Patient/Observation access.
const DefaultScopes = "openid profile launch patient/Patient.read patient/Observation.read patient/Observation.write"

// ClientIdentity is the OAuth client this application was registered as at
// the EHR. It is supplied entirely by configuration.
type ClientIdentity struct {
	ClientID    string
	RedirectURI string
	Scopes      string
}

// scopes returns the configured scope string or the default set.
func (c ClientIdentity) scopes() string {
	if c.Scopes != "" {
		return c.Scopes
	}
	return DefaultScopes
}

// BuildAuthorizationURL generates the PKCE pair and state token, persists the
// launch context, and returns the authorization URL for the HTTP layer to
// redirect to.
//
// Every value needed to resume after the round trip is written through to the
// store before the URL is returned; the navigation away destroys all
// in-memory state, so a failed write aborts the redirect.
func BuildAuthorizationURL(store session.Store, cfg *Configuration, client ClientIdentity, issuer, launchToken string) (string, error) {
	if client.ClientID == "" {
		return "", NewError(ErrCodeConfig, "client id is not configured")
	}
	if client.RedirectURI == "" {
		return "", NewError(ErrCodeConfig, "redirect uri is not configured")
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return "", fmt.Errorf("generating pkce material: %w", err)
	}
	state, err := GenerateState()
	if err != nil {
		return "", err
	}

	writes := []struct{ key, value string }{
		{session.KeyIssuer, issuer},
		{session.KeyLaunchToken, launchToken},
		{session.KeyCodeVerifier, pkce.Verifier},
		{session.KeyExpectedState, state},
		{session.KeyTokenEndpoint, cfg.TokenEndpoint},
	}
	for _, w := range writes {
		if err := store.Set(w.key, w.value); err != nil {
			return "", fmt.Errorf("persisting launch context: %w", err)
		}
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", client.ClientID)
	q.Set("redirect_uri", client.RedirectURI)
	q.Set("scope", client.scopes())
	q.Set("launch", launchToken)
	q.Set("state", state)
	q.Set("aud", issuer)
	q.Set("code_challenge", pkce.Challenge)
	q.Set("code_challenge_method", "S256")

	return cfg.AuthorizationEndpoint + "?" + q.Encode(), nil
}
