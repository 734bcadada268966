package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPMetricsMiddleware records count and latency per method, route and
// status. Identifier path segments are collapsed so cardinality stays bounded
// per route rather than per firm or user.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		ObserveHTTPRequest(r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.status), time.Since(started))
	})
}

// routeLabel replaces identifier segments (FIRM003, C000001, X000001, UUIDs)
// with a placeholder.
func routeLabel(path string) string {
	segments := strings.Split(path, "/")
	rewritten := false
	for i, s := range segments {
		if looksLikeIdentifier(s) {
			segments[i] = ":id"
			rewritten = true
		}
	}
	if !rewritten {
		return path
	}
	return strings.Join(segments, "/")
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) == 36 && strings.Count(segment, "-") == 4 {
		return true
	}
	for _, prefix := range []string{"FIRM", "C", "X"} {
		if rest, ok := strings.CutPrefix(segment, prefix); ok && rest != "" && allDigits(rest) {
			return true
		}
	}
	return false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Hijack on the underlying writer,
// which the audit websocket upgrade needs.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
