package smart

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/smartvitals/smartvitals/internal/platform/session"
	"github.com/smartvitals/smartvitals/internal/platform/telemetry"
)

// TokenSet is the outcome of a successful token grant. The access token is
// replaced wholesale on refresh, never partially mutated. IDToken is carried
// for display only and is never persisted.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	PatientID    string
	IDToken      string
	Scope        string
}

// Token returns the oauth2 form of the access token, suitable for
// SetAuthHeader on outbound requests.
func (t *TokenSet) Token() *oauth2.Token {
	return &oauth2.Token{AccessToken: t.AccessToken, TokenType: "Bearer"}
}

// tokenResponse is the raw token endpoint response body.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	Patient      string `json:"patient"`
	IDToken      string `json:"id_token"`
}

// Client performs the authorization-code and refresh-token grants against the
// token endpoint recorded in the session store.
type Client struct {
	store   session.Store
	http    *http.Client
	client  ClientIdentity
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewClient wires a token client. httpClient may be nil to use the default.
func NewClient(store session.Store, httpClient *http.Client, client ClientIdentity, logger zerolog.Logger, metrics *telemetry.Metrics) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		store:   store,
		http:    httpClient,
		client:  client,
		logger:  logger,
		metrics: metrics,
	}
}

// Exchange redeems an authorization code for a TokenSet.
//
// The supplied state must equal the persisted expected state; a mismatch is
// the CSRF tripwire and fails before the token endpoint is ever contacted,
// with no retry of any kind. A token response without a patient context is
// fatal: this application only serves patient-context launches.
//
// Exchange does not write the session store; the launch machine owns those
// writes.
func (c *Client) Exchange(ctx context.Context, code, state string) (*TokenSet, error) {
	expected, err := c.store.Get(session.KeyExpectedState)
	if err != nil {
		return nil, NewError(ErrCodeStateMismatch, "no expected state in session")
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(expected)) != 1 {
		return nil, NewError(ErrCodeStateMismatch, "state parameter does not match expected value, possible CSRF")
	}

	verifier, err := c.store.Get(session.KeyCodeVerifier)
	if err != nil {
		return nil, NewError(ErrCodeTokenExchange, "no code verifier in session")
	}
	endpoint, err := c.store.Get(session.KeyTokenEndpoint)
	if err != nil {
		return nil, NewError(ErrCodeTokenExchange, "no token endpoint in session")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.client.RedirectURI)
	form.Set("client_id", c.client.ClientID)
	form.Set("code_verifier", verifier)

	ts, err := c.post(ctx, endpoint, form, ErrCodeTokenExchange)
	if err != nil {
		c.metrics.TokenExchange(telemetry.OutcomeFailure)
		return nil, err
	}

	if ts.PatientID == "" {
		c.metrics.TokenExchange(telemetry.OutcomeFailure)
		return nil, NewError(ErrCodeNoPatientContext, "token response carried no patient context")
	}

	c.metrics.TokenExchange(telemetry.OutcomeSuccess)
	c.logger.Info().Str("patient_id", ts.PatientID).Msg("authorization code exchanged")
	return ts, nil
}

// Refresh redeems the stored refresh token and writes the replacement access
// token (and rotated refresh token, if the server issued one) back to the
// session store. Concurrent refreshes are last-writer-wins.
func (c *Client) Refresh(ctx context.Context) (*TokenSet, error) {
	refreshToken, err := c.store.Get(session.KeyRefreshToken)
	if err != nil {
		return nil, NewError(ErrCodeRefresh, "no refresh token in session")
	}
	endpoint, err := c.store.Get(session.KeyTokenEndpoint)
	if err != nil {
		return nil, NewError(ErrCodeRefresh, "no token endpoint in session")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.client.ClientID)

	ts, err := c.post(ctx, endpoint, form, ErrCodeRefresh)
	if err != nil {
		c.metrics.TokenRefresh(telemetry.OutcomeFailure)
		return nil, err
	}

	if err := c.store.Set(session.KeyAccessToken, ts.AccessToken); err != nil {
		return nil, fmt.Errorf("storing refreshed access token: %w", err)
	}
	if ts.RefreshToken != "" {
		if err := c.store.Set(session.KeyRefreshToken, ts.RefreshToken); err != nil {
			return nil, fmt.Errorf("storing rotated refresh token: %w", err)
		}
	}

	c.metrics.TokenRefresh(telemetry.OutcomeSuccess)
	c.logger.Info().Msg("access token refreshed")
	return ts, nil
}

// post sends a form-encoded grant request and decodes the token response.
// Failures carry errCode plus the upstream status and body for diagnostics.
func (c *Client) post(ctx context.Context, endpoint string, form url.Values, errCode string) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, WrapError(errCode, "building token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, WrapError(errCode, "calling token endpoint", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(errCode, "reading token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &LaunchError{
			Code:        errCode,
			Description: fmt.Sprintf("token endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			Status:      resp.StatusCode,
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, WrapError(errCode, "decoding token response", err)
	}
	if tr.AccessToken == "" {
		return nil, NewError(errCode, "token response missing access_token")
	}

	return &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		PatientID:    tr.Patient,
		IDToken:      tr.IDToken,
		Scope:        tr.Scope,
	}, nil
}
