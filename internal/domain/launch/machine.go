// Package launch drives the SMART app launch lifecycle: EHR launch request,
// authorization redirect, code exchange, and patient retrieval. The machine
// survives full process restarts by resuming from the session store, because
// the browser leaves this app entirely during the authorization redirect.
package launch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/smartvitals/smartvitals/internal/platform/session"
	"github.com/smartvitals/smartvitals/internal/platform/smart"
	"github.com/smartvitals/smartvitals/internal/platform/telemetry"
	"github.com/smartvitals/smartvitals/pkg/fhirmodels"
)

// State is a point in the launch lifecycle.
type State string

const (
	StateWaiting         State = "waiting"
	StateLaunch          State = "launch"
	StateDiscovering     State = "discovering"
	StateBuildingAuth    State = "building-auth"
	StateRedirecting     State = "redirecting"
	StateExchangingToken State = "exchanging-token"
	StateFetchingPatient State = "fetching-patient"
	StateSuccess         State = "success"
	StateError           State = "error"
)

// ErrSuperseded reports that a newer launch or reset took over while an
// older operation was in flight; the older result is dropped.
var ErrSuperseded = errors.New("launch: superseded by a newer entry")

// TokenExchanger redeems an authorization code. *smart.Client satisfies it.
type TokenExchanger interface {
	Exchange(ctx context.Context, code, state string) (*smart.TokenSet, error)
}

// PatientSource fetches the launch patient with the stored credentials.
// *fhir.Client satisfies it.
type PatientSource interface {
	GetPatient(ctx context.Context) (*fhirmodels.Patient, error)
}

// Machine owns the launch lifecycle. All entry points funnel through it: the
// EHR launch request, the authorization callback, plain loads that resume
// from persisted context, and resets. Every durable value lives in the
// session store; the machine itself holds only the current state and the
// decoded patient.
type Machine struct {
	store    session.Store
	tokens   TokenExchanger
	patients PatientSource
	http     *http.Client
	client   smart.ClientIdentity
	logger   zerolog.Logger
	metrics  *telemetry.Metrics

	mu       sync.Mutex
	state    State
	patient  *fhirmodels.Patient
	identity *smart.IdentityClaims
	lastErr  *smart.LaunchError
	cleared  []func()

	// epoch increments on every launch and reset. An operation that
	// finishes under an older epoch is stale and must not commit.
	epoch uint64
}

// NewMachine wires a launch machine. httpClient may be nil to use the
// default; it is used for the discovery request only.
func NewMachine(store session.Store, tokens TokenExchanger, patients PatientSource, httpClient *http.Client, client smart.ClientIdentity, logger zerolog.Logger, metrics *telemetry.Metrics) *Machine {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Machine{
		store:    store,
		tokens:   tokens,
		patients: patients,
		http:     httpClient,
		client:   client,
		logger:   logger,
		metrics:  metrics,
		state:    StateWaiting,
	}
}

// OnContextCleared registers fn to run after a reset or a fresh launch
// wipes the stored context. Dependent caches hook in here.
func (m *Machine) OnContextCleared(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, fn)
}

func (m *Machine) notifyCleared() {
	m.mu.Lock()
	fns := make([]func(), len(m.cleared))
	copy(fns, m.cleared)
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Resume applies the entry rule for a load that carries no launch or
// callback parameters: a cached patient snapshot restores the success state
// without any network traffic; otherwise the missing-parameters error is
// terminal until a fresh EHR launch arrives.
func (m *Machine) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.store.Get(session.KeyPatientSnapshot)
	if err == nil {
		var patient fhirmodels.Patient
		if uerr := json.Unmarshal([]byte(raw), &patient); uerr == nil {
			m.patient = &patient
			m.lastErr = nil
			m.setStateLocked(StateSuccess)
			m.logger.Info().Str("patient_id", patient.ID).Msg("resumed from cached patient snapshot")
			return
		}
		m.logger.Warn().Msg("discarding unreadable patient snapshot")
		_ = m.store.Delete(session.KeyPatientSnapshot)
	}

	m.failLocked(smart.NewError(smart.ErrCodeMissingLaunchParams, "missing launch parameters"))
}

// HandleLaunch runs the EHR launch leg: discover the authorization server,
// generate and persist the PKCE material, and return the authorization URL
// to redirect the browser to. A launch is accepted from any state; it always
// starts the flow over.
func (m *Machine) HandleLaunch(ctx context.Context, issuer, launchToken string) (string, error) {
	if issuer == "" || launchToken == "" {
		m.Resume()
		return "", smart.NewError(smart.ErrCodeMissingLaunchParams, "missing launch parameters")
	}

	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.patient = nil
	m.identity = nil
	m.lastErr = nil
	if err := m.store.Clear(); err != nil {
		werr := toLaunchError(fmt.Errorf("clearing previous session: %w", err), smart.ErrCodeConfig)
		m.failLocked(werr)
		m.mu.Unlock()
		return "", werr
	}
	m.setStateLocked(StateLaunch)
	m.metrics.LaunchStarted()
	m.logger.Info().Str("issuer", issuer).Msg("ehr launch received")
	m.setStateLocked(StateDiscovering)
	m.mu.Unlock()
	m.notifyCleared()

	cfg, err := smart.Discover(ctx, m.http, issuer)
	if err != nil {
		return "", m.fail(epoch, toLaunchError(err, smart.ErrCodeDiscovery))
	}
	if !cfg.SupportsS256() {
		return "", m.fail(epoch, smart.NewError(smart.ErrCodeConfig, "authorization server does not support the S256 code challenge method"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return "", ErrSuperseded
	}
	m.setStateLocked(StateBuildingAuth)

	authURL, err := smart.BuildAuthorizationURL(m.store, cfg, m.client, issuer, launchToken)
	if err != nil {
		werr := toLaunchError(err, smart.ErrCodeConfig)
		m.failLocked(werr)
		return "", werr
	}

	m.setStateLocked(StateRedirecting)
	return authURL, nil
}

// HandleCallback runs the authorization callback leg: exchange the code,
// persist the token set and patient context, fetch the patient, and cache
// its snapshot for restart-free resumes. A state mismatch fails before any
// network call and is never retried.
func (m *Machine) HandleCallback(ctx context.Context, code, state string) error {
	if code == "" || state == "" {
		m.Resume()
		return smart.NewError(smart.ErrCodeMissingLaunchParams, "missing launch parameters")
	}

	m.mu.Lock()
	epoch := m.epoch
	m.setStateLocked(StateExchangingToken)
	m.mu.Unlock()

	ts, err := m.tokens.Exchange(ctx, code, state)
	if err != nil {
		return m.fail(epoch, toLaunchError(err, smart.ErrCodeTokenExchange))
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return ErrSuperseded
	}
	if err := m.persistTokensLocked(ts); err != nil {
		werr := toLaunchError(err, smart.ErrCodeTokenExchange)
		m.failLocked(werr)
		m.mu.Unlock()
		return werr
	}
	if ts.IDToken != "" {
		if claims, perr := smart.ParseIdentity(ts.IDToken); perr == nil {
			m.identity = claims
		} else {
			m.logger.Debug().Msg("id token could not be parsed, skipping display identity")
		}
	}
	m.setStateLocked(StateFetchingPatient)
	m.mu.Unlock()

	patient, err := m.patients.GetPatient(ctx)
	if err != nil {
		return m.fail(epoch, toLaunchError(err, smart.ErrCodePatientFetch))
	}
	snapshot, err := json.Marshal(patient)
	if err != nil {
		return m.fail(epoch, toLaunchError(err, smart.ErrCodePatientFetch))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return ErrSuperseded
	}
	if err := m.store.Set(session.KeyPatientSnapshot, string(snapshot)); err != nil {
		werr := toLaunchError(fmt.Errorf("persisting patient snapshot: %w", err), smart.ErrCodePatientFetch)
		m.failLocked(werr)
		return werr
	}
	m.patient = patient
	m.setStateLocked(StateSuccess)
	m.logger.Info().Str("patient_id", patient.ID).Msg("launch complete")
	return nil
}

// FailAuthorization records a denial the authorization server relayed on the
// callback instead of a code.
func (m *Machine) FailAuthorization(oauthError, description string) error {
	desc := fmt.Sprintf("authorization server returned %s", oauthError)
	if description != "" {
		desc += ": " + description
	}
	err := smart.NewError(smart.ErrCodeTokenExchange, desc)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLocked(err)
	return err
}

// Reset clears the launch context and returns the machine to its waiting
// state. The next entry must be a fresh EHR launch.
func (m *Machine) Reset() error {
	m.mu.Lock()

	m.epoch++
	m.patient = nil
	m.identity = nil
	m.lastErr = nil
	if err := m.store.Clear(); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("clearing session: %w", err)
	}
	m.setStateLocked(StateWaiting)
	m.logger.Info().Msg("session reset")
	m.mu.Unlock()

	m.notifyCleared()
	return nil
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Patient returns the launch patient once the machine has reached success.
func (m *Machine) Patient() (*fhirmodels.Patient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.patient == nil {
		return nil, false
	}
	p := *m.patient
	return &p, true
}

// PatientSummary is the denormalized patient view for the status surface.
type PatientSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Gender    string `json:"gender,omitempty"`
	BirthDate string `json:"birth_date,omitempty"`
}

// Status is the externally visible machine state.
type Status struct {
	State   State              `json:"state"`
	Patient *PatientSummary    `json:"patient,omitempty"`
	User    string             `json:"user,omitempty"`
	Error   *smart.LaunchError `json:"error,omitempty"`
}

// Status reports the current state, the patient and user once known, and the
// last error while in the error state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: m.state}
	if m.patient != nil {
		st.Patient = &PatientSummary{
			ID:        m.patient.ID,
			Name:      m.patient.DisplayName(),
			Gender:    m.patient.Gender,
			BirthDate: m.patient.BirthDate,
		}
	}
	if m.identity != nil {
		st.User = m.identity.DisplayName()
	}
	if m.state == StateError && m.lastErr != nil {
		st.Error = m.lastErr
	}
	return st
}

// fail commits err as the terminal error unless a newer entry has taken
// over. It returns err either way so callers can propagate it.
func (m *Machine) fail(epoch uint64, err *smart.LaunchError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return ErrSuperseded
	}
	m.failLocked(err)
	return err
}

func (m *Machine) failLocked(err *smart.LaunchError) {
	m.lastErr = err
	m.setStateLocked(StateError)
	m.logger.Error().Str("code", err.Code).Msg(err.Description)
}

func (m *Machine) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	m.metrics.StateTransition(string(s))
	m.logger.Debug().Str("state", string(s)).Msg("state transition")
}

func (m *Machine) persistTokensLocked(ts *smart.TokenSet) error {
	if err := m.store.Set(session.KeyAccessToken, ts.AccessToken); err != nil {
		return fmt.Errorf("persisting access token: %w", err)
	}
	if ts.RefreshToken != "" {
		if err := m.store.Set(session.KeyRefreshToken, ts.RefreshToken); err != nil {
			return fmt.Errorf("persisting refresh token: %w", err)
		}
	}
	if err := m.store.Set(session.KeyPatientID, ts.PatientID); err != nil {
		return fmt.Errorf("persisting patient id: %w", err)
	}
	return nil
}

// toLaunchError keeps an existing lifecycle error intact and wraps anything
// else under the phase's code.
func toLaunchError(err error, fallbackCode string) *smart.LaunchError {
	var le *smart.LaunchError
	if errors.As(err, &le) {
		return le
	}
	return &smart.LaunchError{Code: fallbackCode, Description: err.Error(), Err: err}
}
