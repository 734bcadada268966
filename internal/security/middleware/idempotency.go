package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/idempotency"
	"github.com/firmdesk/firmdesk/internal/observability/metrics"
)

// IdempotencyKeyHeader is the client-supplied deduplication key.
const IdempotencyKeyHeader = "Idempotency-Key"

// DefaultRecordTTL is how long a cached response stays replayable when no TTL
// is configured.
const DefaultRecordTTL = 24 * time.Hour

// Auth endpoints manage their own retry semantics (credentials and tokens are
// not business writes), so the key requirement starts past this prefix.
const authPathPrefix = "/api/auth/"

// IdempotencyGuard deduplicates mutating requests. The first request with a
// key executes and caches its response; a repeat with the same key and
// fingerprint replays the cached response without re-invoking the handler; a
// repeat with a different fingerprint is a conflict. A mutating request
// without a key is rejected outright.
func IdempotencyGuard(store idempotency.Store, ttl time.Duration, log *slog.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !mutating(r.Method) || strings.HasPrefix(r.URL.Path, authPathPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if key == "" {
				writeError(w, http.StatusBadRequest,
					"Idempotency-Key header is required for mutating requests",
					domain.CodeIdempotencyKeyRequired)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read request body", domain.CodeValidationError)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := requestFingerprint(r, body)

			if rec, err := store.Get(r.Context(), key); err == nil {
				if rec.Fingerprint != fingerprint {
					writeError(w, http.StatusConflict,
						"Idempotency-Key was already used with a different request",
						domain.CodeIdempotencyKeyConflict)
					return
				}
				metrics.ObserveIdempotencyReplay(r.URL.Path)
				replay(w, rec)
				return
			} else if !errors.Is(err, idempotency.ErrNotFound) {
				log.Error("idempotency store lookup failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable", "")
				return
			}

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// 5xx outcomes stay uncached so a transient failure does not get
			// replayed for the full TTL.
			if rec.status < 500 {
				stored := &idempotency.Record{
					Fingerprint: fingerprint,
					Status:      rec.status,
					Header:      map[string][]string{"Content-Type": {rec.contentType()}},
					Body:        rec.body.Bytes(),
					CreatedAt:   time.Now().UTC(),
				}
				if err := store.Set(r.Context(), key, stored, ttl); err != nil {
					log.Error("failed to store idempotency record",
						slog.String("key", key),
						slog.String("error", err.Error()),
					)
				}
			}
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// requestFingerprint hashes method, route, tenant, identity and body so a key
// reuse with different content is detectable.
func requestFingerprint(r *http.Request, body []byte) string {
	var firmID, userID string
	if principal, ok := PrincipalFromContext(r.Context()); ok {
		id := principal.PolicyIdentity()
		firmID, userID = id.FirmID, id.UserID
	}
	h := sha256.New()
	for _, part := range []string{r.Method, r.URL.Path, firmID, userID} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(w http.ResponseWriter, rec *idempotency.Record) {
	for name, values := range rec.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Idempotency-Replayed", "true")
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.body.Write(p)
	return w.ResponseWriter.Write(p)
}

func (w *recordingWriter) contentType() string {
	if ct := w.ResponseWriter.Header().Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/json"
}
