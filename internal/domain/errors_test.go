package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/firmdesk/firmdesk/pkg/database"
)

func TestHTTPStatusByKind(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{E(KindValidation, CodeValidationError, "bad"), http.StatusBadRequest},
		{E(KindAuthentication, CodeAuthRequired, "no"), http.StatusUnauthorized},
		{E(KindAuthorization, CodeForbidden, "no"), http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{E(KindConflict, CodeIdempotencyKeyConflict, "dup"), http.StatusConflict},
		{ErrTransactionUnavailable, http.StatusServiceUnavailable},
		{errors.New("opaque"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestWrappedSentinelStillMatches(t *testing.T) {
	wrapped := ErrTransactionUnavailable.Wrap(errors.New("pool exhausted"))
	if !errors.Is(wrapped, ErrTransactionUnavailable) {
		t.Error("wrapped clone no longer matches its sentinel")
	}
	double := fmt.Errorf("outer: %w", wrapped)
	if !errors.Is(double, ErrTransactionUnavailable) {
		t.Error("fmt-wrapped clone no longer matches its sentinel")
	}
}

func TestNormalizeMapsSessionFailureTo503(t *testing.T) {
	infra := fmt.Errorf("%w: pool exhausted", database.ErrUnavailable)
	err := Normalize(infra)
	if !errors.Is(err, ErrTransactionUnavailable) {
		t.Fatalf("expected ErrTransactionUnavailable, got %v", err)
	}
	if got := HTTPStatus(err); got != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus = %d, want 503", got)
	}
	if got := CodeOf(err); got != CodeTransactionUnavailable {
		t.Errorf("CodeOf = %q, want %q", got, CodeTransactionUnavailable)
	}
	if !errors.Is(err, database.ErrUnavailable) {
		t.Error("normalization dropped the underlying cause")
	}
}

func TestNormalizeLeavesDomainErrorsAlone(t *testing.T) {
	if err := Normalize(nil); err != nil {
		t.Errorf("Normalize(nil) = %v", err)
	}
	conflict := E(KindConflict, CodeIdempotencyKeyConflict, "dup")
	if got := Normalize(conflict); got != conflict {
		t.Errorf("Normalize rewrote a domain error: %v", got)
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(E(KindConflict, CodeIdempotencyKeyConflict, "dup")); got != CodeIdempotencyKeyConflict {
		t.Errorf("CodeOf = %q", got)
	}
	if got := CodeOf(errors.New("opaque")); got != "" {
		t.Errorf("CodeOf(opaque) = %q, want empty", got)
	}
}

func TestWithFieldDoesNotMutateSentinel(t *testing.T) {
	base := E(KindValidation, CodeValidationError, "bad input")
	derived := base.WithField("email")
	if base.Field != "" {
		t.Error("WithField mutated the receiver")
	}
	if derived.Field != "email" {
		t.Errorf("derived field = %q", derived.Field)
	}
}
