package smart

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims are display-only claims extracted from an id_token.
type IdentityClaims struct {
	Subject           string
	Name              string
	PreferredUsername string
	FHIRUser          string
	Profile           string
}

// ParseIdentity extracts display claims from a raw id_token without verifying
// its signature. The claims decorate the UI with who logged in; authorization
// rests entirely on the access token, so no trust is placed in them.
func ParseIdentity(raw string) (*IdentityClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	unverified, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parsing id token: %w", err)
	}

	claims, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid id token claims")
	}

	str := func(key string) string {
		v, _ := claims[key].(string)
		return v
	}

	return &IdentityClaims{
		Subject:           str("sub"),
		Name:              str("name"),
		PreferredUsername: str("preferred_username"),
		FHIRUser:          str("fhirUser"),
		Profile:           str("profile"),
	}, nil
}

// DisplayName returns the most human-friendly claim available.
func (c *IdentityClaims) DisplayName() string {
	for _, v := range []string{c.Name, c.PreferredUsername, c.FHIRUser, c.Profile, c.Subject} {
		if v != "" {
			return v
		}
	}
	return ""
}
