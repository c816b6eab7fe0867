package nfc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arcanaday/arcana-session/internal/backend"
	"github.com/arcanaday/arcana-session/internal/liveness"
)

func newFlowFixture(t *testing.T, handler http.Handler) (*Flow, *liveness.Scope) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := backend.ClientConfig{
		BaseURL:       srv.URL,
		Policy:        backend.Policy{Retries: 1, Backoff: time.Millisecond},
		ReadingPolicy: backend.Policy{Retries: 1, Backoff: time.Millisecond},
	}
	client := backend.NewClient(cfg, nil)
	return NewFlow(client, nil), liveness.NewScope(context.Background())
}

func fillForm(f *Flow) {
	f.SetIdentity("Mira", "1995-07-10", "female")
	f.SetPreferences("violet", "en", [3]int{7, 13, 42})
	f.SetAspirations("I want to find clarity and direction in my creative work.", []string{"astrology"})
}

func kindOf(t *testing.T, err error) ErrorKind {
	t.Helper()
	var flowErr *FlowError
	if !errors.As(err, &flowErr) {
		t.Fatalf("Expected FlowError, got %v", err)
	}
	return flowErr.Kind
}

func TestVerifyEmptyCode(t *testing.T) {
	t.Parallel()

	flow, scope := newFlowFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("No request should be issued for an empty code")
	}))

	_, err := flow.VerifyCode(scope, "   ")
	if kindOf(t, err) != MissingCredential {
		t.Errorf("Expected MissingCredential, got %v", err)
	}
	if flow.State() != StateAwaitingCode {
		t.Errorf("State = %v, want awaiting_code", flow.State())
	}
}

func TestVerifyRejectedCode(t *testing.T) {
	t.Parallel()

	flow, scope := newFlowFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid poster code"})
	}))

	_, err := flow.VerifyCode(scope, "BADCODE")
	if kindOf(t, err) != VerificationRejected {
		t.Errorf("Expected VerificationRejected, got %v", err)
	}
	if flow.State() != StateAwaitingCode {
		t.Errorf("Rejected verify must return to awaiting_code, got %v", flow.State())
	}
	if flow.LastError() != "invalid poster code" {
		t.Errorf("LastError = %q", flow.LastError())
	}
}

func TestVerifyNewUserEntersForm(t *testing.T) {
	t.Parallel()

	flow, scope := newFlowFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"existingUser": false})
	}))

	outcome, err := flow.VerifyCode(scope, "POSTER42")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if outcome.ExistingUser {
		t.Error("Expected a fresh registration")
	}
	if flow.State() != StateForm || flow.Step() != FirstFormStep {
		t.Errorf("Expected form step 1, got %v step %d", flow.State(), flow.Step())
	}
	if flow.CanContinue() {
		t.Error("Empty form must not pass step 1")
	}
}

func TestVerifyExistingUserShortCircuits(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/nfc/verify-poster", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"existingUser": true, "nfcId": "abc"})
	})
	mux.HandleFunc("/api/nfc/user", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"user_data": map[string]any{"nfc_id": "abc", "name": "Mira", "zodiac_sign": "Cancer", "language": "en"},
		})
	})
	flow, scope := newFlowFixture(t, mux)

	outcome, err := flow.VerifyCode(scope, "POSTER42")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if !outcome.ExistingUser || outcome.Identity == nil {
		t.Fatal("Expected a resolved existing identity")
	}
	if outcome.Identity.Profile.Name != "Mira" {
		t.Errorf("Profile not refreshed from lookup: %+v", outcome.Identity.Profile)
	}
	if flow.State() != StateSuccess {
		t.Errorf("State = %v, want success", flow.State())
	}
}

func TestVerifyIsRepeatable(t *testing.T) {
	t.Parallel()

	var calls int
	flow, scope := newFlowFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{"existingUser": false})
	}))

	for i := 0; i < 2; i++ {
		if _, err := flow.VerifyCode(scope, "POSTER42"); err != nil {
			t.Fatalf("VerifyCode #%d: %v", i+1, err)
		}
		if flow.State() != StateForm || flow.Step() != FirstFormStep {
			t.Fatalf("Verify #%d should land on form step 1, got %v step %d", i+1, flow.State(), flow.Step())
		}
	}
	if calls != 2 {
		t.Errorf("Expected one request per verify, got %d", calls)
	}
}

func TestFormStepGating(t *testing.T) {
	t.Parallel()

	flow, scope := newFlowFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"existingUser": false})
	}))
	if _, err := flow.VerifyCode(scope, "POSTER42"); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}

	// Step 1: unparseable date keeps the step incomplete.
	flow.SetIdentity("Mira", "July 10", "female")
	if flow.CanContinue() {
		t.Error("Bad date of birth must not pass step 1")
	}
	if flow.Next() {
		t.Error("Next must refuse while the step is incomplete")
	}
	flow.SetIdentity("Mira", "1995-07-10", "female")
	if !flow.Next() {
		t.Fatal("Complete step 1 should advance")
	}

	// Step 2: numbers outside [0, 99] are invalid.
	flow.SetPreferences("violet", "en", [3]int{7, 113, 42})
	if flow.CanContinue() {
		t.Error("Out-of-range number must not pass step 2")
	}
	flow.SetPreferences("violet", "en", [3]int{7, 13, 42})
	if !flow.Next() {
		t.Fatal("Complete step 2 should advance")
	}

	// Step 3: aspirations below the minimum length are invalid.
	flow.SetAspirations("too short", []string{"astrology"})
	if flow.CanContinue() {
		t.Error("Short aspirations must not pass step 3")
	}
	flow.SetAspirations("I want to find clarity and direction in my creative work.", nil)
	if flow.CanContinue() {
		t.Error("At least one interest is required")
	}
	flow.SetAspirations("I want to find clarity and direction in my creative work.", []string{"astrology"})
	if !flow.CanContinue() {
		t.Error("Complete step 3 should pass")
	}

	// Going back never loses data.
	if !flow.Back() || flow.Step() != 2 {
		t.Fatalf("Back should land on step 2, got %d", flow.Step())
	}
	form := flow.FormSnapshot()
	if form.Name != "Mira" || form.Color != "violet" || form.Aspirations == "" {
		t.Errorf("Back lost form data: %+v", form)
	}
	if !flow.Next() {
		t.Error("Step 2 data survived, Next should pass again")
	}
}

func TestSubmitSuccess(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/nfc/verify-poster", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"existingUser": false})
	})
	mux.HandleFunc("/api/nfc/register", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("Decode register payload: %v", err)
		}
		if payload["zodiacSign"] != "Cancer" {
			t.Errorf("Expected locally derived zodiacSign=Cancer, got %v", payload["zodiacSign"])
		}
		if payload["code"] != "POSTER42" {
			t.Errorf("Expected verified code in payload, got %v", payload["code"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"user_data": map[string]any{"nfc_id": "abc", "name": "Mira", "zodiac_sign": "Cancer", "language": "en"},
		})
	})
	flow, scope := newFlowFixture(t, mux)

	if _, err := flow.VerifyCode(scope, "POSTER42"); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	fillForm(flow)
	flow.Next()
	flow.Next()

	identity, err := flow.Submit(scope)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if identity.TagID != "nfc_abc" {
		t.Errorf("TagID = %q", identity.TagID)
	}
	if flow.State() != StateSuccess {
		t.Errorf("State = %v, want success", flow.State())
	}
}

func TestSubmitWithoutVerifiedCode(t *testing.T) {
	t.Parallel()

	flow, scope := newFlowFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("No request should be issued without a verified code")
	}))

	_, err := flow.Submit(scope)
	if kindOf(t, err) != SubmissionRejected {
		t.Errorf("Expected SubmissionRejected outside the form, got %v", err)
	}
}

func TestSubmitConflictRecoversToCodeEntry(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/nfc/verify-poster", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"existingUser": false})
	})
	mux.HandleFunc("/api/nfc/register", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "code already registered"})
	})
	flow, scope := newFlowFixture(t, mux)

	if _, err := flow.VerifyCode(scope, "POSTER42"); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	fillForm(flow)
	flow.Next()
	flow.Next()

	_, err := flow.Submit(scope)
	if kindOf(t, err) != VerificationRejected {
		t.Errorf("Conflict should surface as VerificationRejected, got %v", err)
	}
	if flow.State() != StateAwaitingCode {
		t.Errorf("Conflict must recover to awaiting_code, got %v", flow.State())
	}
	form := flow.FormSnapshot()
	if form.Name != "Mira" {
		t.Error("Recovery must keep entered form data")
	}
}

func TestSubmitTransportFailureHoldsStep(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/nfc/verify-poster", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"existingUser": false})
	})
	var srv *httptest.Server
	mux.HandleFunc("/api/nfc/register", func(w http.ResponseWriter, r *http.Request) {
		// Drop the connection mid-request.
		srv.CloseClientConnections()
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := backend.ClientConfig{
		BaseURL: srv.URL,
		Policy:  backend.Policy{Retries: 0, Backoff: time.Millisecond},
	}
	flow := NewFlow(backend.NewClient(cfg, nil), nil)
	scope := liveness.NewScope(context.Background())

	if _, err := flow.VerifyCode(scope, "POSTER42"); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	fillForm(flow)
	flow.Next()
	flow.Next()

	_, err := flow.Submit(scope)
	if kindOf(t, err) != TransportFailure {
		t.Errorf("Expected TransportFailure, got %v", err)
	}
	if flow.State() != StateForm || flow.Step() != LastFormStep {
		t.Errorf("Transport failure must hold the final form step, got %v step %d", flow.State(), flow.Step())
	}
}
