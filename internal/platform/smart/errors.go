package smart

import (
	"errors"
	"fmt"
)

// Error codes for every failure the launch and token lifecycle can surface.
const (
	ErrCodeMissingLaunchParams = "missing_launch_parameters"
	ErrCodeDiscovery           = "discovery_error"
	ErrCodeConfigMalformed     = "config_malformed"
	ErrCodeConfig              = "config_error"
	ErrCodeStateMismatch       = "state_mismatch"
	ErrCodeTokenExchange       = "token_exchange_error"
	ErrCodeNoPatientContext    = "no_patient_context"
	ErrCodePatientFetch        = "patient_fetch_error"
	ErrCodeObservationFetch    = "observation_fetch_error"
	ErrCodeObservationCreate   = "observation_create_error"
	ErrCodeRefresh             = "refresh_error"
)

// LaunchError represents a failure in the launch or token lifecycle. Status
// carries the upstream HTTP status when one was involved.
type LaunchError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	Status      int    `json:"-"`
	Err         error  `json:"-"`
}

func (e *LaunchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Code, e.Description, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// NewError builds a LaunchError with the given code and description.
func NewError(code, description string) *LaunchError {
	return &LaunchError{Code: code, Description: description}
}

// WrapError builds a LaunchError that wraps an underlying cause.
func WrapError(code, description string, err error) *LaunchError {
	return &LaunchError{Code: code, Description: description, Err: err}
}

// IsCode reports whether err is (or wraps) a LaunchError with the given code.
func IsCode(err error, code string) bool {
	var le *LaunchError
	return errors.As(err, &le) && le.Code == code
}
