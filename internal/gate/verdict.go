// Package gate decides, per request, whether a client may reach the
// content. Decisions are plain values; every decision except a token-exempt
// pass-through is written to the ledger exactly once.
package gate

import (
	"time"

	"unitygate/internal/ledger"
)

type Verdict int

const (
	Allow Verdict = iota
	DenyForbidden
	DenyUnauthorized
	RedirectToDeniedPage
	ServiceUnavailable
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case DenyForbidden:
		return "deny_forbidden"
	case DenyUnauthorized:
		return "deny_unauthorized"
	case RedirectToDeniedPage:
		return "redirect"
	case ServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

const (
	ReasonBanned        = "IP banned"
	ReasonNotAllowed    = "not in allow-list"
	ReasonWindowExpired = "service window expired"
	ReasonBadToken      = "invalid access token"
	ReasonTraversal     = "path traversal attempt"
	ReasonAdminToken    = "admin token required"
	ReasonGranted       = "access granted"
	ReasonExempt        = "token-exempt path"
)

type Decision struct {
	Verdict Verdict
	Reason  string
	Outcome ledger.Outcome
	// Exempt marks an Allow for the health path or the API prefix. Such
	// requests leave no ledger entry and are not counted as visits.
	Exempt bool
}

// Request is what the transport layer extracts from an inbound request.
type Request struct {
	ClientAddr string
	Path       string
	Token      string // empty when the query parameter is absent
	Now        time.Time
}

func allow(reason string) Decision {
	return Decision{Verdict: Allow, Reason: reason, Outcome: ledger.OutcomeAllowed}
}
