package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arcanaday/arcana-session/internal/backend"
	"github.com/arcanaday/arcana-session/internal/identity"
	"github.com/arcanaday/arcana-session/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/submit-user", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"zodiac_sign": "Cancer"})
	})
	mux.HandleFunc("/api/reading", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"cardName": "The Star", "interpretation": "hope"})
	})
	mux.HandleFunc("/api/nfc/verify-poster", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"existingUser": false})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := backend.ClientConfig{
		BaseURL: srv.URL,
		Policy:  backend.Policy{Retries: 0, Backoff: time.Millisecond},
	}
	registry := session.NewRegistry(backend.NewClient(cfg, nil), nil, session.Options{}, time.Hour, nil)

	base := NewHandler(registry)
	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewSessionHandler(base).RegisterRoutes(r)
	NewNFCHandler(base).RegisterRoutes(r)
	NewChatHandler(base, "", true).RegisterRoutes(r)
	return r
}

// do issues a request carrying a stable visitor cookie, so consecutive calls
// land on the same controller.
func do(t *testing.T, router http.Handler, visitorID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: visitorID})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Decode response: %v", err)
	}
	return got
}

func TestSessionFlowOverHTTP(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	visitor := uuid.NewString()

	w := do(t, router, visitor, http.MethodGet, "/api/session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET snapshot: %d", w.Code)
	}
	if got := decodeBody(t, w); got["step"] != "landing" {
		t.Errorf("Fresh session step = %v, want landing", got["step"])
	}

	w = do(t, router, visitor, http.MethodPost, "/api/session/entry", map[string]string{"tier": "trial"})
	if w.Code != http.StatusOK {
		t.Fatalf("entry: %d %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w); got["step"] != "onboarding" {
		t.Errorf("step = %v, want onboarding", got["step"])
	}

	w = do(t, router, visitor, http.MethodPost, "/api/session/onboarding", map[string]string{
		"name": "Mira", "date_of_birth": "1995-07-10",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("onboarding: %d %s", w.Code, w.Body.String())
	}
	got := decodeBody(t, w)
	if got["step"] != "reveal" {
		t.Errorf("step = %v, want reveal", got["step"])
	}
	profile, _ := got["profile"].(map[string]any)
	if profile["zodiac_sign"] != "Cancer" {
		t.Errorf("zodiac_sign = %v", profile["zodiac_sign"])
	}
}

func TestWrongStepReturnsConflict(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	visitor := uuid.NewString()

	w := do(t, router, visitor, http.MethodPost, "/api/session/onboarding", map[string]string{
		"name": "Mira", "date_of_birth": "1995-07-10",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("Submit at landing should be 409, got %d", w.Code)
	}
}

func TestUnknownTierReturnsBadRequest(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	w := do(t, router, uuid.NewString(), http.MethodPost, "/api/session/entry", map[string]string{"tier": "gold"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Unknown tier should be 400, got %d", w.Code)
	}
}

func TestAdminQueryParamActivatesOverlay(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	visitor := uuid.NewString()

	w := do(t, router, visitor, http.MethodGet, "/api/session?admin=true", nil)
	if got := decodeBody(t, w); got["admin_overlay"] != true {
		t.Errorf("admin_overlay = %v, want true", got["admin_overlay"])
	}

	// Entry is short-circuited while the overlay is up.
	w = do(t, router, visitor, http.MethodPost, "/api/session/entry", map[string]string{"tier": "trial"})
	if w.Code != http.StatusConflict {
		t.Errorf("Entry under admin should be 409, got %d", w.Code)
	}

	w = do(t, router, visitor, http.MethodPost, "/api/session/admin/exit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("admin exit: %d", w.Code)
	}
	if got := decodeBody(t, w); got["admin_overlay"] != false {
		t.Errorf("admin_overlay = %v, want false", got["admin_overlay"])
	}
}

func TestVerifyRequiresCode(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	w := do(t, router, uuid.NewString(), http.MethodPost, "/api/nfc/verify", map[string]string{"code": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Empty code should be 400, got %d", w.Code)
	}
}

func TestChatStartOutsideInterpretation(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	w := do(t, router, uuid.NewString(), http.MethodPost, "/api/chat/start", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Chat start at landing should be 409, got %d", w.Code)
	}
}
