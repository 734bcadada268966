package middleware

import (
	"net/http"

	"github.com/firmdesk/firmdesk/internal/domain"
	"github.com/firmdesk/firmdesk/internal/security/policy"
)

// ResourceExtractor derives the resource descriptor a policy is evaluated
// against from the incoming request.
type ResourceExtractor func(*http.Request) policy.Resource

// RequirePolicy evaluates a declarative policy against the resolved principal
// and rejects with 403 FORBIDDEN when it denies. Routes without a resource of
// their own may pass a nil extractor.
func RequirePolicy(pol policy.Policy, extract ResourceExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication required", domain.CodeAuthRequired)
				return
			}
			var res policy.Resource
			if extract != nil {
				res = extract(r)
			}
			if d := pol(principal.PolicyIdentity(), res); !d.Allowed {
				writeError(w, http.StatusForbidden, "forbidden: "+d.Reason, domain.CodeForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
