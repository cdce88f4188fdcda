// Package fhir is the outbound REST client for the EHR's FHIR R4 API. It
// reads the issuer, patient context, and access token from the session store
// on every call, so a freshly restarted process resumes against the same
// server without re-authorizing.
package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartvitals/smartvitals/internal/platform/session"
	"github.com/smartvitals/smartvitals/internal/platform/smart"
	"github.com/smartvitals/smartvitals/internal/platform/telemetry"
	"github.com/smartvitals/smartvitals/pkg/fhirmodels"
)

const (
	mimeFHIRJSON = "application/fhir+json"

	// Vital-signs searches always request one server page of the most
	// recent results; paging through them is a local concern.
	vitalSignsCategory  = "vital-signs"
	observationPageSize = 100
)

// StatusError is a non-2xx response from the FHIR server.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("fhir server returned status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("fhir server returned status %d", e.Status)
}

// TokenRefresher renews the persisted access token after the server rejects
// the current one. *smart.Client satisfies it.
type TokenRefresher interface {
	Refresh(ctx context.Context) (*smart.TokenSet, error)
}

// Client issues authorized requests against the FHIR server recorded in the
// session store.
type Client struct {
	store     session.Store
	http      *http.Client
	refresher TokenRefresher
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
}

// NewClient wires a FHIR client. httpClient may be nil to use the default;
// refresher may be nil to disable the expired-token recovery path.
func NewClient(store session.Store, httpClient *http.Client, refresher TokenRefresher, logger zerolog.Logger, metrics *telemetry.Metrics) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		store:     store,
		http:      httpClient,
		refresher: refresher,
		logger:    logger,
		metrics:   metrics,
	}
}

// GetPatient reads the launch patient from the server.
func (c *Client) GetPatient(ctx context.Context) (*fhirmodels.Patient, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, classify(smart.ErrCodePatientFetch, "resolving fhir base url", err)
	}
	patientID, err := c.store.Get(session.KeyPatientID)
	if err != nil {
		return nil, smart.NewError(smart.ErrCodeNoPatientContext, "no patient id in session")
	}

	body, err := c.send(ctx, http.MethodGet, base+"/Patient/"+url.PathEscape(patientID), nil, "Patient")
	if err != nil {
		return nil, classify(smart.ErrCodePatientFetch, "fetching patient", err)
	}

	var patient fhirmodels.Patient
	if err := json.Unmarshal(body, &patient); err != nil {
		return nil, smart.WrapError(smart.ErrCodePatientFetch, "decoding patient resource", err)
	}
	return &patient, nil
}

// SearchObservations fetches the patient's vital-signs observations, newest
// first as the server orders them.
func (c *Client) SearchObservations(ctx context.Context) (*fhirmodels.Bundle, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, classify(smart.ErrCodeObservationFetch, "resolving fhir base url", err)
	}
	patientID, err := c.store.Get(session.KeyPatientID)
	if err != nil {
		return nil, smart.NewError(smart.ErrCodeNoPatientContext, "no patient id in session")
	}

	q := url.Values{}
	q.Set("patient", patientID)
	q.Set("category", vitalSignsCategory)
	q.Set("_count", strconv.Itoa(observationPageSize))
	q.Set("_sort", "-date")

	body, err := c.send(ctx, http.MethodGet, base+"/Observation?"+q.Encode(), nil, "Observation")
	if err != nil {
		return nil, classify(smart.ErrCodeObservationFetch, "searching observations", err)
	}

	var bundle fhirmodels.Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, smart.WrapError(smart.ErrCodeObservationFetch, "decoding observation bundle", err)
	}
	return &bundle, nil
}

// CreateObservation posts a new observation. Servers differ on the response:
// some echo the created resource, some return an empty body. Both are
// success; the result is nil when the server sent nothing back.
func (c *Client) CreateObservation(ctx context.Context, obs *fhirmodels.Observation) (*fhirmodels.Observation, error) {
	base, err := c.baseURL()
	if err != nil {
		return nil, classify(smart.ErrCodeObservationCreate, "resolving fhir base url", err)
	}

	payload, err := json.Marshal(obs)
	if err != nil {
		return nil, smart.WrapError(smart.ErrCodeObservationCreate, "encoding observation", err)
	}

	body, err := c.send(ctx, http.MethodPost, base+"/Observation", payload, "Observation")
	if err != nil {
		return nil, classify(smart.ErrCodeObservationCreate, "creating observation", err)
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var created fhirmodels.Observation
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, smart.WrapError(smart.ErrCodeObservationCreate, "decoding created observation", err)
	}
	return &created, nil
}

func (c *Client) baseURL() (string, error) {
	issuer, err := c.store.Get(session.KeyIssuer)
	if err != nil {
		return "", fmt.Errorf("no issuer in session: %w", err)
	}
	return strings.TrimRight(issuer, "/"), nil
}

// send performs one authorized request with the expired-token recovery
// policy: a 401 triggers exactly one refresh and exactly one retry. A failed
// refresh surfaces the refresh error; a failed retry surfaces the retry's
// status, with no further refresh attempts.
func (c *Client) send(ctx context.Context, method, rawURL string, body []byte, resource string) ([]byte, error) {
	respBody, status, err := c.roundTrip(ctx, method, rawURL, body, resource)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && c.refresher != nil {
		c.logger.Debug().Str("resource", resource).Msg("access token rejected, refreshing")
		if _, err := c.refresher.Refresh(ctx); err != nil {
			return nil, err
		}
		respBody, status, err = c.roundTrip(ctx, method, rawURL, body, resource)
		if err != nil {
			return nil, err
		}
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, &StatusError{Status: status, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

// roundTrip builds and executes a single request. The access token is read
// from the store per attempt so a retry picks up the refreshed value.
func (c *Client) roundTrip(ctx context.Context, method, rawURL string, body []byte, resource string) ([]byte, int, error) {
	token, err := c.store.Get(session.KeyAccessToken)
	if err != nil {
		return nil, 0, fmt.Errorf("no access token in session: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building fhir request: %w", err)
	}
	req.Header.Set("Accept", mimeFHIRJSON)
	if body != nil {
		req.Header.Set("Content-Type", mimeFHIRJSON)
	}
	(&smart.TokenSet{AccessToken: token}).Token().SetAuthHeader(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling fhir server: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading fhir response: %w", err)
	}

	c.metrics.FHIRRequest(resource, method, resp.StatusCode, time.Since(start))
	return respBody, resp.StatusCode, nil
}

// classify wraps transport and status failures in the operation's error code.
// Errors that already carry a lifecycle code, such as a failed refresh, pass
// through untouched.
func classify(code, description string, err error) error {
	var le *smart.LaunchError
	if errors.As(err, &le) {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) {
		return &smart.LaunchError{
			Code:        code,
			Description: fmt.Sprintf("%s: fhir server returned status %d", description, se.Status),
			Status:      se.Status,
			Err:         err,
		}
	}
	return smart.WrapError(code, description, err)
}
