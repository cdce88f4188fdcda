// Package session provides the durable key/value store that carries the
// launch context across the external authorization redirect and across
// process restarts. Everything needed to resume the flow after the browser
// returns lives here; in-memory state does not survive the round trip.
package session

import "errors"

// Keys for every value the store holds. No other keys are read or written.
const (
	KeyIssuer          = "issuer"
	KeyLaunchToken     = "launch"
	KeyCodeVerifier    = "code_verifier"
	KeyExpectedState   = "expected_state"
	KeyTokenEndpoint   = "token_endpoint"
	KeyAccessToken     = "access_token"
	KeyRefreshToken    = "refresh_token"
	KeyPatientID       = "patient_id"
	KeyPatientSnapshot = "patient_snapshot"
)

// AllKeys lists every key the application uses, in declaration order.
var AllKeys = []string{
	KeyIssuer,
	KeyLaunchToken,
	KeyCodeVerifier,
	KeyExpectedState,
	KeyTokenEndpoint,
	KeyAccessToken,
	KeyRefreshToken,
	KeyPatientID,
	KeyPatientSnapshot,
}

var (
	// ErrKeyNotFound is returned by Get when the key has no stored value.
	ErrKeyNotFound = errors.New("session: key not found")

	// ErrEmptyValue is returned by Set when the value is empty. A key is
	// never silently overwritten with nothing; callers that mean to remove
	// a value use Delete.
	ErrEmptyValue = errors.New("session: refusing to store empty value")
)

// Store is a scoped key/value store for the launch context. Implementations
// are safe for concurrent use.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	Clear() error
}
