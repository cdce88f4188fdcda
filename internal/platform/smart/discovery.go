package smart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Configuration is the subset of the SMART well-known configuration document
// the launch flow needs, as published by the authorization server.
type Configuration struct {
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	Capabilities          []string `json:"capabilities"`
	CodeChallengeMethods  []string `json:"code_challenge_methods_supported"`
}

// Discover fetches and parses {issuer}/.well-known/smart-configuration.
// A non-OK response is a discovery error; a document missing either endpoint
// URL is malformed. Discover has no side effects.
func Discover(ctx context.Context, client *http.Client, issuer string) (*Configuration, error) {
	if client == nil {
		client = http.DefaultClient
	}

	issuer = strings.TrimRight(issuer, "/")
	wellKnown := issuer + "/.well-known/smart-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, WrapError(ErrCodeDiscovery, "building discovery request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, WrapError(ErrCodeDiscovery, "fetching smart configuration", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &LaunchError{
			Code:        ErrCodeDiscovery,
			Description: fmt.Sprintf("smart configuration endpoint returned status %d", resp.StatusCode),
			Status:      resp.StatusCode,
		}
	}

	var cfg Configuration
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, WrapError(ErrCodeConfigMalformed, "decoding smart configuration", err)
	}

	if cfg.AuthorizationEndpoint == "" {
		return nil, NewError(ErrCodeConfigMalformed, "smart configuration missing authorization_endpoint")
	}
	if cfg.TokenEndpoint == "" {
		return nil, NewError(ErrCodeConfigMalformed, "smart configuration missing token_endpoint")
	}

	return &cfg, nil
}

// SupportsS256 reports whether the server advertises the S256 code challenge
// method. Servers that omit the list entirely are assumed to accept it.
func (c *Configuration) SupportsS256() bool {
	if len(c.CodeChallengeMethods) == 0 {
		return true
	}
	for _, m := range c.CodeChallengeMethods {
		if m == "S256" {
			return true
		}
	}
	return false
}
