package gate

import (
	"strings"
	"time"

	"unitygate/internal/allowlist"
	"unitygate/internal/ledger"
	"unitygate/internal/metrics"
	"unitygate/internal/state"
	"unitygate/internal/token"

	"github.com/rs/zerolog"
)

// Options carries the policy knobs. Layers are additive by Level.
type Options struct {
	Level             int
	AllowList         *allowlist.List
	MaxFailedAttempts int
	TimeLimit         time.Duration
	StartTime         time.Time
	HealthPath        string
	APIPrefix         string
}

// Step inspects a request and reports whether it reached a verdict.
// Steps run in order and evaluation stops at the first decisive one.
type Step struct {
	Name string
	Run  func(Request) (Decision, bool)
}

type Pipeline struct {
	opts   Options
	store  *state.Store
	ledger ledger.Appender
	logger zerolog.Logger
	steps  []Step
}

func NewPipeline(opts Options, store *state.Store, led ledger.Appender, logger zerolog.Logger) *Pipeline {
	if opts.MaxFailedAttempts <= 0 {
		opts.MaxFailedAttempts = 1
	}
	p := &Pipeline{
		opts:   opts,
		store:  store,
		ledger: led,
		logger: logger.With().Str("component", "gate").Logger(),
	}
	p.steps = append(p.steps, Step{"ban", p.checkBan})
	if opts.Level >= 2 {
		p.steps = append(p.steps, Step{"allowlist", p.checkAllowList})
	}
	if opts.Level >= 3 {
		p.steps = append(p.steps, Step{"time_window", p.checkTimeWindow})
	}
	p.steps = append(p.steps,
		Step{"exempt", p.checkExempt},
		Step{"token", p.checkToken},
		Step{"traversal", p.checkTraversal},
	)
	return p
}

// Steps lists the active step names in evaluation order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// Evaluate runs the steps, appends one ledger entry and, on Allow, records
// the visit. Exempt paths skip both.
func (p *Pipeline) Evaluate(req Request) Decision {
	start := time.Now()
	defer func() {
		metrics.DecisionDuration.Observe(time.Since(start).Seconds())
	}()

	d := allow(ReasonGranted)
	for _, s := range p.steps {
		if got, done := s.Run(req); done {
			d = got
			break
		}
	}

	metrics.DecisionTotal.WithLabelValues(d.Verdict.String()).Inc()
	if d.Exempt {
		return d
	}
	p.ledger.Append(ledger.NewEntry(req.Now, req.ClientAddr, req.Path, d.Outcome, d.Reason))
	if d.Verdict == Allow {
		p.store.RecordVisit(req.ClientAddr, req.Path, req.Now)
	}
	return d
}

func (p *Pipeline) checkBan(req Request) (Decision, bool) {
	if p.store.IsBanned(req.ClientAddr, req.Now) {
		return Decision{Verdict: DenyForbidden, Reason: ReasonBanned, Outcome: ledger.OutcomeBanned}, true
	}
	return Decision{}, false
}

func (p *Pipeline) checkAllowList(req Request) (Decision, bool) {
	if p.opts.AllowList.Len() == 0 || p.opts.AllowList.Contains(req.ClientAddr) {
		return Decision{}, false
	}
	p.fail(req)
	return Decision{Verdict: DenyForbidden, Reason: ReasonNotAllowed, Outcome: ledger.OutcomeBlocked}, true
}

func (p *Pipeline) checkTimeWindow(req Request) (Decision, bool) {
	if req.Now.Sub(p.opts.StartTime) > p.opts.TimeLimit {
		return Decision{Verdict: ServiceUnavailable, Reason: ReasonWindowExpired, Outcome: ledger.OutcomeBlocked}, true
	}
	return Decision{}, false
}

// checkExempt lets the health path and the API prefix through without the
// access token; the API has its own admin guard.
func (p *Pipeline) checkExempt(req Request) (Decision, bool) {
	if p.isExempt(req.Path) {
		d := allow(ReasonExempt)
		d.Exempt = true
		return d, true
	}
	return Decision{}, false
}

func (p *Pipeline) isExempt(path string) bool {
	if p.opts.HealthPath != "" && path == p.opts.HealthPath {
		return true
	}
	return p.opts.APIPrefix != "" && strings.HasPrefix(path, p.opts.APIPrefix)
}

func (p *Pipeline) checkToken(req Request) (Decision, bool) {
	if token.Equal(req.Token, p.store.AccessToken()) {
		return Decision{}, false
	}
	p.fail(req)
	if p.opts.APIPrefix != "" && strings.HasPrefix(req.Path, p.opts.APIPrefix) {
		return Decision{Verdict: DenyUnauthorized, Reason: ReasonBadToken, Outcome: ledger.OutcomeDenied}, true
	}
	return Decision{Verdict: RedirectToDeniedPage, Reason: ReasonBadToken, Outcome: ledger.OutcomeDenied}, true
}

func (p *Pipeline) checkTraversal(req Request) (Decision, bool) {
	if strings.Contains(req.Path, "..") || strings.Contains(req.Path, "~") {
		return Decision{Verdict: DenyForbidden, Reason: ReasonTraversal, Outcome: ledger.OutcomeBlocked}, true
	}
	return Decision{}, false
}

// fail counts a failure against the client and bans it at the threshold.
// Allow-list and token rejections share this counter.
func (p *Pipeline) fail(req Request) {
	n, banned := p.store.Fail(req.ClientAddr, req.Now, p.opts.MaxFailedAttempts)
	if banned {
		metrics.BansTotal.Inc()
		p.logger.Warn().
			Str("client", req.ClientAddr).
			Int("failures", n).
			Msg("client banned")
	}
}
