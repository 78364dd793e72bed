package stats

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"unitygate/internal/metrics"
	"unitygate/internal/state"
	"unitygate/internal/token"
)

var t0 = time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

func newReporter(level int) (*Reporter, *state.Store) {
	store := state.New(token.Pair{Access: "a", Admin: "b"}, 30*time.Minute)
	return NewReporter(store, Options{
		Level:      level,
		StartTime:  t0,
		TimeLimit:  60 * time.Minute,
		ContentDir: "./build",
		Hostname:   "test-host",
	}), store
}

func TestSnapshot(t *testing.T) {
	r, store := newReporter(1)
	store.RecordVisit("1.1.1.1", "/", t0.Add(time.Minute))
	store.RecordVisit("1.1.1.1", "/Build/game.data", t0.Add(time.Minute))
	store.RecordVisit("2.2.2.2", "/", t0.Add(2*time.Hour))
	store.Ban("6.6.6.6", t0)

	now := t0.Add(10*time.Minute + 20*time.Second)
	snap := r.Snapshot(now)
	if snap.Visits.Total != 3 || snap.Visits.Unique != 2 {
		t.Errorf("unexpected visits %+v", snap.Visits)
	}
	if snap.Paths["/"] != 2 || snap.Paths["/Build/game.data"] != 1 {
		t.Errorf("unexpected paths %v", snap.Paths)
	}
	if snap.Hourly["2026-10-17 08"] != 2 || snap.Hourly["2026-10-17 10"] != 1 {
		t.Errorf("unexpected hourly %v", snap.Hourly)
	}
	if snap.Security.BannedIPs != 1 || snap.Security.Level != 1 {
		t.Errorf("unexpected security %+v", snap.Security)
	}
	if snap.Security.TimeLimit != nil {
		t.Error("time limit block must be absent below level 3")
	}
	if snap.Server.UptimeMinutes != 10.33 {
		t.Errorf("expected 10.33 minutes, got %v", snap.Server.UptimeMinutes)
	}
}

func TestSnapshot_TimeLimitAtLevel3(t *testing.T) {
	r, _ := newReporter(3)
	snap := r.Snapshot(t0.Add(15 * time.Minute))
	tl := snap.Security.TimeLimit
	if tl == nil {
		t.Fatal("expected time limit block at level 3")
	}
	if tl.LimitMinutes != 60 || tl.ElapsedMinutes != 15 || tl.RemainingMinutes != 45 {
		t.Errorf("unexpected time limit %+v", tl)
	}
	// remaining never goes negative
	if got := r.Snapshot(t0.Add(3 * time.Hour)).Security.TimeLimit.RemainingMinutes; got != 0 {
		t.Errorf("expected 0 remaining, got %v", got)
	}
}

func TestSnapshot_Idempotent(t *testing.T) {
	r, store := newReporter(3)
	store.RecordVisit("1.1.1.1", "/", t0)
	now := t0.Add(5 * time.Minute)
	if !reflect.DeepEqual(r.Snapshot(now), r.Snapshot(now)) {
		t.Error("expected identical snapshots without intervening visits")
	}
}

func TestSnapshot_JSONShape(t *testing.T) {
	r, _ := newReporter(2)
	b, err := json.Marshal(r.Snapshot(t0))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"visits"`, `"paths"`, `"hourly"`, `"banned_ips"`, `"time_limit":null`, `"uptime_minutes"`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("expected %s in %s", key, b)
		}
	}
}

func TestStatus(t *testing.T) {
	r, store := newReporter(2)
	store.RecordVisit("1.1.1.1", "/", t0)
	metrics.DecisionTotal.WithLabelValues("allow").Inc()

	st := r.Status(t0.Add(90 * time.Second))
	if st.Status != "running" || st.UptimeSeconds != 90 || st.UptimeMinutes != 1.5 {
		t.Errorf("unexpected uptime %+v", st)
	}
	if st.Visitors.Total != 1 || st.Visitors.Unique != 1 {
		t.Errorf("unexpected visitors %+v", st.Visitors)
	}
	if st.Server.Hostname != "test-host" || st.Server.Time != "2026-10-17 08:01:30" {
		t.Errorf("unexpected server block %+v", st.Server)
	}
	if st.Decisions["allow"] < 1 {
		t.Errorf("expected allow decisions in breakdown, got %v", st.Decisions)
	}
}

func TestHealth(t *testing.T) {
	r, _ := newReporter(3)
	h := r.Health(t0.Add(2 * time.Minute))
	if h.Status != "running" || h.Uptime != 120 || h.SecurityLevel != 3 {
		t.Errorf("unexpected health %+v", h)
	}
}
