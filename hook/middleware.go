// Package hook adapts the evaluator to host extension points as plain
// HTTP middleware. The host supplies extractors describing how to
// recover the target resource and the acting principal from a request;
// the middleware decorates a handler instead of overriding host
// internals.
package hook

import (
	"encoding/json"
	"net/http"

	"github.com/GoCodeAlone/pagelock/access"
	"github.com/GoCodeAlone/pagelock/capability"
	"github.com/GoCodeAlone/pagelock/resource"
)

// Target is the evaluation target recovered from a request: the
// resource plus any revision context. HostSuppressed marks a revision
// the host's own visibility system already governs.
type Target struct {
	Resource          resource.Resource
	RevisionID        int64
	CurrentRevisionID int64
	HostSuppressed    bool
}

// ResourceExtractor recovers the evaluation target from the request.
type ResourceExtractor func(r *http.Request) (Target, error)

// PrincipalExtractor recovers the acting principal from the request.
type PrincipalExtractor func(r *http.Request) (capability.Principal, error)

// DenialResponse is the JSON body returned on a 403.
type DenialResponse struct {
	Reason       access.Reason `json:"reason"`
	BypassGroups []string      `json:"bypass_groups,omitempty"`
}

// Middleware returns HTTP middleware enforcing the lock engine for the
// given operation. Evaluator errors fail closed with a 500; policy
// denials return a 403 with a structured body.
func Middleware(ev *access.Evaluator, op resource.Operation, resources ResourceExtractor, principals PrincipalExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			target, err := resources(r)
			if err != nil {
				http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
				return
			}
			principal, err := principals(r)
			if err != nil {
				http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}

			result, err := ev.Evaluate(r.Context(), access.Request{
				Resource:          target.Resource,
				Principal:         principal,
				Operation:         op,
				RevisionID:        target.RevisionID,
				CurrentRevisionID: target.CurrentRevisionID,
				HostSuppressed:    target.HostSuppressed,
			})
			if err != nil {
				http.Error(w, "access evaluation failed", http.StatusInternalServerError)
				return
			}
			if !result.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(DenialResponse{
					Reason:       result.Reason,
					BypassGroups: result.BypassGroups,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
