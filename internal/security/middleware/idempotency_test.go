package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/idempotency"
)

func newGuardedHandler(calls *int, status int) http.Handler {
	return newGuardedHandlerTTL(calls, status, 0)
}

func newGuardedHandlerTTL(calls *int, status int, ttl time.Duration) http.Handler {
	store := idempotency.NewMemoryStore(0)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	return IdempotencyGuard(store, ttl, testLogger())(next)
}

func postWithKey(handler http.Handler, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestIdempotencyGuardRequiresKeyOnMutations(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(&calls, http.StatusCreated)

	w := postWithKey(handler, "/api/superadmin/firms", "", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != domain.CodeIdempotencyKeyRequired {
		t.Errorf("code = %q", body.Code)
	}
	if calls != 0 {
		t.Error("handler invoked without a key")
	}
}

func TestIdempotencyGuardIgnoresReads(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(&calls, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/api/superadmin/audit", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK || calls != 1 {
		t.Errorf("status = %d, calls = %d", w.Code, calls)
	}
}

func TestIdempotencyGuardExemptsAuthEndpoints(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(&calls, http.StatusOK)

	if w := postWithKey(handler, "/api/auth/login", "", `{}`); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestIdempotencyGuardReplaysFirstOutcome(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(&calls, http.StatusCreated)

	first := postWithKey(handler, "/api/superadmin/firms", "key-1", `{"name":"Acme"}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}

	second := postWithKey(handler, "/api/superadmin/firms", "key-1", `{"name":"Acme"}`)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d", second.Code)
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Error("replay not marked")
	}
	if second.Body.String() != first.Body.String() {
		t.Error("replayed body differs from the original")
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}

func TestIdempotencyGuardRejectsKeyReuseWithDifferentBody(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(&calls, http.StatusCreated)

	if w := postWithKey(handler, "/api/superadmin/firms", "key-1", `{"name":"Acme"}`); w.Code != http.StatusCreated {
		t.Fatalf("first status = %d", w.Code)
	}
	w := postWithKey(handler, "/api/superadmin/firms", "key-1", `{"name":"Globex"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != domain.CodeIdempotencyKeyConflict {
		t.Errorf("code = %q", body.Code)
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}

func TestIdempotencyGuardDoesNotCacheServerErrors(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(&calls, http.StatusInternalServerError)

	postWithKey(handler, "/api/superadmin/firms", "key-1", `{}`)
	postWithKey(handler, "/api/superadmin/firms", "key-1", `{}`)
	// A transient failure must be retryable, not replayed for a day.
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}

func TestIdempotencyGuardHonorsConfiguredTTL(t *testing.T) {
	calls := 0
	handler := newGuardedHandlerTTL(&calls, http.StatusCreated, 5*time.Millisecond)

	postWithKey(handler, "/api/superadmin/firms", "key-1", `{}`)
	time.Sleep(15 * time.Millisecond)
	// The record has expired, so the same key executes again.
	if w := postWithKey(handler, "/api/superadmin/firms", "key-1", `{}`); w.Header().Get("Idempotency-Replayed") == "true" {
		t.Error("expired record was replayed")
	}
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}

func TestIdempotencyGuardScopesFingerprintToCaller(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(&calls, http.StatusCreated)

	asUser := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/cases", strings.NewReader(`{}`))
		req.Header.Set(IdempotencyKeyHeader, "shared-key")
		principal := &Principal{User: &domain.User{ID: userID, FirmID: "firm-1", Role: domain.RoleEmployee}}
		req = req.WithContext(ContextWithPrincipal(req.Context(), principal))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	if w := asUser("user-1"); w.Code != http.StatusCreated {
		t.Fatalf("first caller status = %d", w.Code)
	}
	// The same key from a different caller is a conflict, not a replay.
	if w := asUser("user-2"); w.Code != http.StatusConflict {
		t.Errorf("second caller status = %d, want conflict", w.Code)
	}
}
