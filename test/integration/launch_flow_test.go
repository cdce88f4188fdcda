package integration

import (
	"net/url"
	"os"
	"testing"

	"github.com/smartvitals/smartvitals/internal/domain/launch"
	"github.com/smartvitals/smartvitals/internal/platform/smart"
)

func TestLaunchFlow_EndToEnd(t *testing.T) {
	env := newAppEnv(t)

	resp := env.get("/launch?iss=" + url.QueryEscape(env.ehr.issuer()) + "&launch=ehr-launch-1")
	resp.Body.Close()
	if resp.StatusCode != 302 {
		t.Fatalf("launch status = %d, want 302", resp.StatusCode)
	}
	authURL, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parsing authorization redirect: %v", err)
	}
	if authURL.Path != "/auth/authorize" {
		t.Fatalf("redirect path = %q, want /auth/authorize", authURL.Path)
	}
	q := authURL.Query()
	if got := q.Get("response_type"); got != "code" {
		t.Errorf("response_type = %q, want code", got)
	}
	if got := q.Get("client_id"); got != "smartvitals-client" {
		t.Errorf("client_id = %q", got)
	}
	if got := q.Get("aud"); got != env.ehr.issuer() {
		t.Errorf("aud = %q, want issuer %q", got, env.ehr.issuer())
	}
	if got := q.Get("launch"); got != "ehr-launch-1" {
		t.Errorf("launch = %q, want ehr-launch-1", got)
	}
	if got := q.Get("code_challenge_method"); got != "S256" {
		t.Errorf("code_challenge_method = %q, want S256", got)
	}
	if q.Get("code_challenge") == "" {
		t.Error("authorization URL carries no code_challenge")
	}
	state := q.Get("state")
	if len(state) != 32 {
		t.Errorf("state length = %d, want 32", len(state))
	}

	resp = env.get("/callback?code=integration-code&state=" + url.QueryEscape(state))
	resp.Body.Close()
	if resp.StatusCode != 303 {
		t.Fatalf("callback status = %d, want 303", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "/" {
		t.Fatalf("callback redirect = %q, want /", got)
	}

	home := decodeBody(t, env.get("/"))
	if home["state"] != string(launch.StateSuccess) {
		t.Fatalf("home state = %v, want %q", home["state"], launch.StateSuccess)
	}
	patient, ok := home["patient"].(map[string]interface{})
	if !ok {
		t.Fatalf("home carries no patient: %v", home)
	}
	if patient["name"] != "Ada Lovelace" {
		t.Errorf("patient name = %v, want Ada Lovelace", patient["name"])
	}
	if home["user"] != "Dr. Grace Hopper" {
		t.Errorf("user = %v, want Dr. Grace Hopper", home["user"])
	}

	full := decodeBody(t, env.get("/api/patient"))
	if full["id"] != "patient-42" {
		t.Errorf("patient id = %v, want patient-42", full["id"])
	}

	exchange, _, patientHits, _, _ := env.ehr.counts()
	if exchange != 1 {
		t.Errorf("token exchanges = %d, want 1", exchange)
	}
	if patientHits != 1 {
		t.Errorf("patient reads = %d, want 1", patientHits)
	}
}

func TestLaunchFlow_SurvivesRestart(t *testing.T) {
	env := newAppEnv(t)
	env.completeLaunch()

	env.restart()

	home := decodeBody(t, env.get("/"))
	if home["state"] != string(launch.StateSuccess) {
		t.Fatalf("state after restart = %v, want %q", home["state"], launch.StateSuccess)
	}
	patient, ok := home["patient"].(map[string]interface{})
	if !ok || patient["id"] != "patient-42" {
		t.Fatalf("patient after restart = %v, want patient-42", home["patient"])
	}

	// The snapshot serves the patient; the restart makes no network calls.
	exchange, _, patientHits, _, _ := env.ehr.counts()
	if exchange != 1 || patientHits != 1 {
		t.Errorf("counts after restart = %d exchanges, %d patient reads, want 1 and 1", exchange, patientHits)
	}
}

func TestLaunchFlow_Reset(t *testing.T) {
	env := newAppEnv(t)
	env.ehr.seedObservations(quantityObs("hr-1", "Heart rate", "8867-4", 72, "bpm", fixedTime(0)))
	env.completeLaunch()

	resp := env.postJSON("/api/vitals/fetch", nil)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("fetch status = %d, want 200", resp.StatusCode)
	}

	status := decodeBody(t, env.postJSON("/reset", nil))
	if status["state"] != string(launch.StateWaiting) {
		t.Fatalf("state after reset = %v, want %q", status["state"], launch.StateWaiting)
	}
	if _, err := os.Stat(env.sessionPath); !os.IsNotExist(err) {
		t.Errorf("session file survived reset: stat err = %v", err)
	}

	// The reset also invalidates the loaded vitals.
	resp = env.get("/api/vitals")
	resp.Body.Close()
	if resp.StatusCode != 409 {
		t.Errorf("vitals after reset = %d, want 409", resp.StatusCode)
	}
	resp = env.get("/api/patient")
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("patient after reset = %d, want 404", resp.StatusCode)
	}
}

func TestLaunchFlow_MissingParams(t *testing.T) {
	env := newAppEnv(t)

	resp := env.get("/launch")
	resp.Body.Close()
	if resp.StatusCode != 303 {
		t.Fatalf("launch without params = %d, want 303", resp.StatusCode)
	}

	home := decodeBody(t, env.get("/"))
	if home["state"] != string(launch.StateError) {
		t.Fatalf("state = %v, want %q", home["state"], launch.StateError)
	}
	launchErr, ok := home["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("home carries no error: %v", home)
	}
	if launchErr["error"] != smart.ErrCodeMissingLaunchParams {
		t.Errorf("error code = %v, want %q", launchErr["error"], smart.ErrCodeMissingLaunchParams)
	}
}

func TestLaunchFlow_CallbackStateMismatch(t *testing.T) {
	env := newAppEnv(t)
	env.beginLaunch()

	resp := env.get("/callback?code=integration-code&state=forged-state-value")
	resp.Body.Close()
	if resp.StatusCode != 303 {
		t.Fatalf("callback status = %d, want 303", resp.StatusCode)
	}

	home := decodeBody(t, env.get("/"))
	if home["state"] != string(launch.StateError) {
		t.Fatalf("state = %v, want %q", home["state"], launch.StateError)
	}
	launchErr, ok := home["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("home carries no error: %v", home)
	}
	if launchErr["error"] != smart.ErrCodeStateMismatch {
		t.Errorf("error code = %v, want %q", launchErr["error"], smart.ErrCodeStateMismatch)
	}

	// The forged state never reaches the token endpoint.
	exchange, _, _, _, _ := env.ehr.counts()
	if exchange != 0 {
		t.Errorf("token exchanges = %d, want 0", exchange)
	}
}

func TestLaunchFlow_AuthorizationDenied(t *testing.T) {
	env := newAppEnv(t)
	env.beginLaunch()

	resp := env.get("/callback?error=access_denied&error_description=user+declined")
	resp.Body.Close()
	if resp.StatusCode != 303 {
		t.Fatalf("callback status = %d, want 303", resp.StatusCode)
	}

	home := decodeBody(t, env.get("/"))
	if home["state"] != string(launch.StateError) {
		t.Fatalf("state = %v, want %q", home["state"], launch.StateError)
	}
	launchErr, ok := home["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("home carries no error: %v", home)
	}
	if launchErr["error_description"] != "authorization server returned access_denied: user declined" {
		t.Errorf("error description = %v", launchErr["error_description"])
	}
}
