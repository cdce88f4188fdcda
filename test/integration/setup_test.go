// Package integration exercises the whole app over HTTP against a scripted
// EHR double: discovery, authorization code exchange, patient read, and
// observation search and create all hit a local httptest server.
package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/smartvitals/smartvitals/internal/domain/launch"
	"github.com/smartvitals/smartvitals/internal/domain/vitals"
	"github.com/smartvitals/smartvitals/internal/platform/fhir"
	"github.com/smartvitals/smartvitals/internal/platform/session"
	"github.com/smartvitals/smartvitals/internal/platform/smart"
	"github.com/smartvitals/smartvitals/pkg/fhirmodels"
)

// fakeEHR is the authorization server and FHIR server rolled into one. Token
// generations model expiry: expireAccess invalidates every token issued so
// far, and only the refresh grant hands out the current generation.
type fakeEHR struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	generation   int
	exchangeHits int
	refreshHits  int
	patientHits  int
	searchHits   int
	createHits   int
	observations []fhirmodels.Observation
}

func newFakeEHR(t *testing.T) *fakeEHR {
	t.Helper()
	e := &fakeEHR{t: t, generation: 1}

	mux := http.NewServeMux()
	mux.HandleFunc("/fhir/.well-known/smart-configuration", e.handleDiscovery)
	mux.HandleFunc("/auth/token", e.handleToken)
	mux.HandleFunc("/fhir/Patient/patient-42", e.handlePatient)
	mux.HandleFunc("/fhir/Observation", e.handleObservations)

	e.srv = httptest.NewServer(mux)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *fakeEHR) issuer() string { return e.srv.URL + "/fhir" }

func (e *fakeEHR) accessToken(gen int) string {
	return fmt.Sprintf("access-token-%d", gen)
}

// expireAccess invalidates the outstanding access token. The next refresh
// grant issues the new generation.
func (e *fakeEHR) expireAccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.generation++
}

// seedObservations replaces the server's observation set. Callers keep them
// newest first, matching the _sort=-date contract.
func (e *fakeEHR) seedObservations(obs ...fhirmodels.Observation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observations = obs
}

func (e *fakeEHR) counts() (exchange, refresh, patient, search, create int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exchangeHits, e.refreshHits, e.patientHits, e.searchHits, e.createHits
}

func (e *fakeEHR) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authorization_endpoint":           e.srv.URL + "/auth/authorize",
		"token_endpoint":                   e.srv.URL + "/auth/token",
		"code_challenge_methods_supported": []string{"S256"},
		"capabilities":                     []string{"launch-ehr", "permission-patient", "context-ehr-patient"},
	})
}

func (e *fakeEHR) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		e.exchangeHits++
		if r.PostForm.Get("code_verifier") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  e.accessToken(e.generation),
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-token-1",
			"scope":         smart.DefaultScopes,
			"patient":       "patient-42",
			"id_token":      signedIDToken(e.t),
		})
	case "refresh_token":
		e.refreshHits++
		if r.PostForm.Get("refresh_token") != "refresh-token-1" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": e.accessToken(e.generation),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (e *fakeEHR) authorized(r *http.Request) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+e.accessToken(e.generation)
}

func (e *fakeEHR) handlePatient(w http.ResponseWriter, r *http.Request) {
	if !e.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"resourceType": "OperationOutcome"})
		return
	}
	e.mu.Lock()
	e.patientHits++
	e.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resourceType": "Patient",
		"id":           "patient-42",
		"name": []map[string]interface{}{
			{"given": []string{"Ada"}, "family": "Lovelace"},
		},
		"gender":    "female",
		"birthDate": "1815-12-10",
	})
}

func (e *fakeEHR) handleObservations(w http.ResponseWriter, r *http.Request) {
	if !e.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"resourceType": "OperationOutcome"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		if got := r.URL.Query().Get("category"); got != "vital-signs" {
			e.t.Errorf("observation search category = %q, want vital-signs", got)
		}
		if got := r.URL.Query().Get("patient"); got != "patient-42" {
			e.t.Errorf("observation search patient = %q, want patient-42", got)
		}

		e.mu.Lock()
		e.searchHits++
		entries := make([]map[string]interface{}, 0, len(e.observations))
		for _, obs := range e.observations {
			raw, err := json.Marshal(obs)
			if err != nil {
				e.mu.Unlock()
				e.t.Fatalf("marshal observation: %v", err)
			}
			entries = append(entries, map[string]interface{}{"resource": json.RawMessage(raw)})
		}
		e.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"resourceType": "Bundle",
			"type":         "searchset",
			"total":        len(entries),
			"entry":        entries,
		})
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		var obs fhirmodels.Observation
		if err := json.Unmarshal(body, &obs); err != nil {
			http.Error(w, "bad resource", http.StatusBadRequest)
			return
		}

		e.mu.Lock()
		e.createHits++
		obs.ID = fmt.Sprintf("srv-obs-%d", e.createHits)
		e.observations = append([]fhirmodels.Observation{obs}, e.observations...)
		e.mu.Unlock()

		raw, _ := json.Marshal(obs)
		w.Header().Set("Content-Type", "application/fhir+json")
		w.WriteHeader(http.StatusCreated)
		w.Write(raw)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func signedIDToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "practitioner-7",
		"name": "Dr. Grace Hopper",
		"iss":  "https://ehr.example.com",
	})
	signed, err := token.SignedString([]byte("integration-secret"))
	if err != nil {
		t.Fatalf("signing id token: %v", err)
	}
	return signed
}

// appEnv is the app under test: real stores, clients, machine, and handlers
// behind a real listener. restart tears the process state down and rebuilds
// it on the same session file, the way a relaunched binary would.
type appEnv struct {
	t           *testing.T
	ehr         *fakeEHR
	sessionPath string

	store     session.Store
	machine   *launch.Machine
	vitalsSvc *vitals.Service
	app       *httptest.Server
	client    *http.Client
}

func newAppEnv(t *testing.T) *appEnv {
	t.Helper()
	env := &appEnv{
		t:           t,
		ehr:         newFakeEHR(t),
		sessionPath: filepath.Join(t.TempDir(), "session.json"),
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	env.start()
	return env
}

func (env *appEnv) start() {
	env.t.Helper()

	store, err := session.NewFileStore(env.sessionPath)
	if err != nil {
		env.t.Fatalf("opening session store: %v", err)
	}
	env.store = store

	logger := zerolog.Nop()
	httpClient := env.ehr.srv.Client()
	identity := smart.ClientIdentity{
		ClientID:    "smartvitals-client",
		RedirectURI: "http://localhost:8844/callback",
	}
	tokens := smart.NewClient(store, httpClient, identity, logger, nil)
	fhirClient := fhir.NewClient(store, httpClient, tokens, logger, nil)

	env.machine = launch.NewMachine(store, tokens, fhirClient, httpClient, identity, logger, nil)
	env.vitalsSvc = vitals.NewService(fhirClient, store, logger)
	env.machine.OnContextCleared(env.vitalsSvc.Invalidate)
	env.machine.Resume()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	launch.NewHandler(env.machine).RegisterRoutes(e)
	vitals.NewHandler(env.vitalsSvc).RegisterRoutes(e.Group("/api"))

	env.app = httptest.NewServer(e)
	env.t.Cleanup(env.app.Close)
}

// restart simulates a process restart: the server and all in-memory state go
// away, the session file stays.
func (env *appEnv) restart() {
	env.t.Helper()
	env.app.Close()
	env.start()
}

func (env *appEnv) get(path string) *http.Response {
	env.t.Helper()
	resp, err := env.client.Get(env.app.URL + path)
	if err != nil {
		env.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (env *appEnv) postJSON(path string, payload interface{}) *http.Response {
	env.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			env.t.Fatalf("marshal payload: %v", err)
		}
		body = strings.NewReader(string(raw))
	}
	req, err := http.NewRequest(http.MethodPost, env.app.URL+path, body)
	if err != nil {
		env.t.Fatalf("POST %s: %v", path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := env.client.Do(req)
	if err != nil {
		env.t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return out
}

// beginLaunch drives the launch leg and returns the state parameter from the
// authorization redirect, standing in for the browser hop to the EHR.
func (env *appEnv) beginLaunch() string {
	env.t.Helper()

	resp := env.get("/launch?iss=" + url.QueryEscape(env.ehr.issuer()) + "&launch=ehr-launch-1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		env.t.Fatalf("launch status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	authURL, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		env.t.Fatalf("parsing authorization redirect: %v", err)
	}
	state := authURL.Query().Get("state")
	if state == "" {
		env.t.Fatal("authorization redirect carries no state")
	}
	return state
}

// completeLaunch runs launch and callback to the success state.
func (env *appEnv) completeLaunch() {
	env.t.Helper()

	state := env.beginLaunch()
	resp := env.get("/callback?code=integration-code&state=" + url.QueryEscape(state))
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		env.t.Fatalf("callback status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	if got := env.machine.State(); got != launch.StateSuccess {
		env.t.Fatalf("state after callback = %q, want %q", got, launch.StateSuccess)
	}
}

// -- Observation fixtures --

var obsBase = time.Date(2024, 5, 14, 9, 30, 0, 0, time.UTC)

func fixedTime(minutesAgo int) time.Time {
	return obsBase.Add(-time.Duration(minutesAgo) * time.Minute)
}

func f64(v float64) *float64 { return &v }

func quantityObs(id, display, code string, value float64, unit string, effective time.Time) fhirmodels.Observation {
	t := effective
	return fhirmodels.Observation{
		ResourceType: "Observation",
		ID:           id,
		Status:       fhirmodels.ObsStatusFinal,
		Code: fhirmodels.CodeableConcept{
			Coding: []fhirmodels.Coding{{System: fhirmodels.SystemLOINC, Code: code, Display: display}},
		},
		EffectiveDateTime: &t,
		ValueQuantity:     &fhirmodels.Quantity{Value: f64(value), Unit: unit},
	}
}

func bloodPressureObs(id string, systolic, diastolic float64, effective time.Time) fhirmodels.Observation {
	t := effective
	return fhirmodels.Observation{
		ResourceType: "Observation",
		ID:           id,
		Status:       fhirmodels.ObsStatusFinal,
		Code: fhirmodels.CodeableConcept{
			Coding: []fhirmodels.Coding{{System: fhirmodels.SystemLOINC, Code: "85354-9", Display: "Blood pressure"}},
		},
		EffectiveDateTime: &t,
		Component: []fhirmodels.ObservationComponent{
			{
				Code:          fhirmodels.CodeableConcept{Coding: []fhirmodels.Coding{{Code: "8480-6", Display: "Systolic"}}},
				ValueQuantity: &fhirmodels.Quantity{Value: f64(systolic), Unit: "mmHg"},
			},
			{
				Code:          fhirmodels.CodeableConcept{Coding: []fhirmodels.Coding{{Code: "8462-4", Display: "Diastolic"}}},
				ValueQuantity: &fhirmodels.Quantity{Value: f64(diastolic), Unit: "mmHg"},
			},
		},
	}
}
