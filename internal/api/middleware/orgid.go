package middleware

import "net/http"

type contextKey string

// OrgIDHeader carries the caller's organization scope. Authentication is
// delegated to the gateway in front of this service.
const OrgIDHeader = "X-Org-ID"

// OrgIDFromRequest returns the organization ID claimed by the request.
func OrgIDFromRequest(r *http.Request) string {
	return r.Header.Get(OrgIDHeader)
}
