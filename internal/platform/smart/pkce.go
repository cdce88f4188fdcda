// Package smart implements the client side of the SMART App Launch flow:
// well-known discovery, PKCE material, the authorization redirect URL, and
// the authorization-code and refresh-token grants.
package smart

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// unreserved is the RFC 3986 unreserved character set, the alphabet both the
// code verifier and the state token are drawn from.
const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

const (
	verifierLength = 128
	stateLength    = 32
)

// PKCE is a freshly generated verifier/challenge pair. The verifier stays in
// the session store and goes only to the token endpoint; the challenge goes
// only into the authorization URL. Neither is ever logged.
type PKCE struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE produces a 128-character code verifier and its S256 challenge.
func GeneratePKCE() (*PKCE, error) {
	verifier, err := randomString(verifierLength)
	if err != nil {
		return nil, fmt.Errorf("generating code verifier: %w", err)
	}
	return &PKCE{Verifier: verifier, Challenge: ChallengeFrom(verifier)}, nil
}

// ChallengeFrom derives the S256 code challenge for a verifier: the SHA-256
// digest of the verifier bytes, base64url-encoded without padding. The
// derivation is deterministic.
func ChallengeFrom(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState produces the 32-character anti-CSRF state token.
func GenerateState() (string, error) {
	state, err := randomString(stateLength)
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return state, nil
}

// randomString returns n characters drawn uniformly from the unreserved
// alphabet. Bytes that would bias the modulo are discarded.
func randomString(n int) (string, error) {
	const limit = byte(256 - 256%len(unreserved))

	out := make([]byte, 0, n)
	buf := make([]byte, 2*n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, unreserved[int(b)%len(unreserved)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
