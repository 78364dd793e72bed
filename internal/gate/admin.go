package gate

import (
	"time"

	"unitygate/internal/ledger"
	"unitygate/internal/metrics"
	"unitygate/internal/state"
	"unitygate/internal/token"
)

type AdminRequest struct {
	ClientAddr string
	Path       string
	AdminToken string
	Now        time.Time
}

// AdminGuard protects the reporting endpoints with the admin secret. It
// never touches failure counters or bans.
type AdminGuard struct {
	store  *state.Store
	ledger ledger.Appender
}

func NewAdminGuard(store *state.Store, led ledger.Appender) *AdminGuard {
	return &AdminGuard{store: store, ledger: led}
}

// Check allows silently and records a ledger entry on denial.
func (g *AdminGuard) Check(req AdminRequest) Decision {
	if token.Equal(req.AdminToken, g.store.AdminToken()) {
		return allow(ReasonGranted)
	}
	d := Decision{Verdict: DenyUnauthorized, Reason: ReasonAdminToken, Outcome: ledger.OutcomeDenied}
	g.ledger.Append(ledger.NewEntry(req.Now, req.ClientAddr, req.Path, d.Outcome, d.Reason))
	metrics.AdminDenied.Inc()
	return d
}
