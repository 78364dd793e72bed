// Package stats projects the security state into the JSON documents served
// by the reporting endpoints. Nothing here mutates state.
package stats

import (
	"math"
	"time"

	"unitygate/internal/ledger"
	"unitygate/internal/state"
)

type Visits struct {
	Total  int `json:"total"`
	Unique int `json:"unique"`
}

type TimeLimit struct {
	LimitMinutes     int     `json:"limit_minutes"`
	ElapsedMinutes   float64 `json:"elapsed_minutes"`
	RemainingMinutes float64 `json:"remaining_minutes"`
}

type Security struct {
	Level     int        `json:"level"`
	BannedIPs int        `json:"banned_ips"`
	TimeLimit *TimeLimit `json:"time_limit"` // null below level 3
}

type ServerInfo struct {
	UptimeMinutes float64 `json:"uptime_minutes"`
	ContentDir    string  `json:"content_dir"`
}

type Snapshot struct {
	Visits   Visits         `json:"visits"`
	Paths    map[string]int `json:"paths"`
	Hourly   map[string]int `json:"hourly"`
	Security Security       `json:"security"`
	Server   ServerInfo     `json:"server"`
}

type StatusServer struct {
	Hostname   string `json:"hostname"`
	Time       string `json:"time"`
	ContentDir string `json:"content_dir"`
}

// Status is the raw counts view.
type Status struct {
	Status        string             `json:"status"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	UptimeMinutes float64            `json:"uptime_minutes"`
	SecurityLevel int                `json:"security_level"`
	Visitors      Visits             `json:"visitors"`
	Decisions     map[string]float64 `json:"decisions,omitempty"`
	Server        StatusServer       `json:"server"`
}

type Health struct {
	Status        string `json:"status"`
	Uptime        int64  `json:"uptime"`
	SecurityLevel int    `json:"security_level"`
}

type Options struct {
	Level      int
	StartTime  time.Time
	TimeLimit  time.Duration
	ContentDir string
	Hostname   string
}

type Reporter struct {
	store *state.Store
	opts  Options
}

func NewReporter(store *state.Store, opts Options) *Reporter {
	return &Reporter{store: store, opts: opts}
}

func (r *Reporter) Snapshot(now time.Time) Snapshot {
	snap := r.store.Snapshot(now)
	elapsed := now.Sub(r.opts.StartTime).Minutes()
	out := Snapshot{
		Visits: Visits{Total: snap.Visits, Unique: snap.UniqueVisitors},
		Paths:  snap.Paths,
		Hourly: snap.Hourly,
		Security: Security{
			Level:     r.opts.Level,
			BannedIPs: snap.ActiveBans,
		},
		Server: ServerInfo{
			UptimeMinutes: round2(elapsed),
			ContentDir:    r.opts.ContentDir,
		},
	}
	if r.opts.Level >= 3 {
		limit := r.opts.TimeLimit.Minutes()
		out.Security.TimeLimit = &TimeLimit{
			LimitMinutes:     int(limit),
			ElapsedMinutes:   round2(elapsed),
			RemainingMinutes: round2(math.Max(0, limit-elapsed)),
		}
	}
	return out
}

func (r *Reporter) Status(now time.Time) Status {
	c := r.store.Counts()
	uptime := now.Sub(r.opts.StartTime)
	return Status{
		Status:        "running",
		UptimeSeconds: int64(uptime.Seconds()),
		UptimeMinutes: round2(uptime.Minutes()),
		SecurityLevel: r.opts.Level,
		Visitors:      Visits{Total: c.Visits, Unique: c.UniqueVisitors},
		Decisions:     DecisionBreakdown(),
		Server: StatusServer{
			Hostname:   r.opts.Hostname,
			Time:       now.Format(ledger.TimeFormat),
			ContentDir: r.opts.ContentDir,
		},
	}
}

// Health is served without authentication.
func (r *Reporter) Health(now time.Time) Health {
	return Health{
		Status:        "running",
		Uptime:        int64(now.Sub(r.opts.StartTime).Seconds()),
		SecurityLevel: r.opts.Level,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
