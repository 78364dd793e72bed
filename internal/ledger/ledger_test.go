package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"unitygate/internal/circuitbreaker"
	"unitygate/internal/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2026, 10, 17, 9, 30, 15, 0, time.UTC)

type failingSink struct{ calls int }

func (f *failingSink) Name() string { return "broken" }

func (f *failingSink) Write(Entry) error {
	f.calls++
	return errors.New("disk full")
}

func TestEntry_Line(t *testing.T) {
	e := NewEntry(t0, "1.2.3.4", "/index.html", OutcomeDenied, "invalid access token")
	want := "2026-10-17 09:30:15 | 1.2.3.4 | /index.html | denied | invalid access token"
	if e.Line() != want {
		t.Errorf("expected %q, got %q", want, e.Line())
	}
	if e.ID.Time() != uint64(t0.UnixMilli()) {
		t.Errorf("expected ID timestamp %d, got %d", t0.UnixMilli(), e.ID.Time())
	}
}

func TestNewEntry_OutOfRangeTimes(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
	}{
		{"zero", time.Time{}},
		{"pre-epoch", time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC)},
		{"past ulid range", time.Date(20000, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEntry(tc.now, "1.2.3.4", "/", OutcomeAllowed, "ok")
			if e.ID == (ulid.ULID{}) {
				t.Error("expected a non-zero ID")
			}
			if !e.Time.Equal(tc.now) {
				t.Errorf("expected entry time %v, got %v", tc.now, e.Time)
			}
		})
	}
	if id := NewEntry(time.Time{}, "1.2.3.4", "/", OutcomeAllowed, "ok").ID; id.Time() != 0 {
		t.Errorf("expected pre-epoch times clamped to 0, got %d", id.Time())
	}
}

func TestLedger_PreservesOrder(t *testing.T) {
	mem := NewMemory()
	l := New(zerolog.Nop(), 4, nil, mem)
	for i := 0; i < 50; i++ {
		l.Append(NewEntry(t0, "1.2.3.4", fmt.Sprintf("/p%d", i), OutcomeAllowed, "ok"))
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	got := mem.Entries()
	if len(got) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(got))
	}
	for i, e := range got {
		if e.Path != fmt.Sprintf("/p%d", i) {
			t.Fatalf("entry %d out of order: %s", i, e.Path)
		}
	}
}

func TestLedger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	fs, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	l := New(zerolog.Nop(), 8, nil, fs)
	l.Append(NewEntry(t0, "1.2.3.4", "/a", OutcomeAllowed, "ok"))
	l.Append(NewEntry(t0, "5.6.7.8", "/b", OutcomeBanned, "IP banned"))
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), b)
	}
	if !strings.HasSuffix(lines[1], "| 5.6.7.8 | /b | banned | IP banned") {
		t.Errorf("unexpected line %q", lines[1])
	}
}

func TestLedger_SinkFailureIsIsolated(t *testing.T) {
	mem := NewMemory()
	bad := &failingSink{}
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour})
	before := testutil.ToFloat64(metrics.LedgerWriteErrors.WithLabelValues("broken"))

	l := New(zerolog.Nop(), 8, breakers, bad, mem)
	for i := 0; i < 5; i++ {
		l.Append(NewEntry(t0, "1.2.3.4", "/", OutcomeAllowed, "ok"))
	}
	_ = l.Close()

	if len(mem.Entries()) != 5 {
		t.Errorf("expected healthy sink to get 5 entries, got %d", len(mem.Entries()))
	}
	// the breaker opens after 2 failures and skips the rest
	if bad.calls != 2 {
		t.Errorf("expected 2 write attempts on the broken sink, got %d", bad.calls)
	}
	if got := testutil.ToFloat64(metrics.LedgerWriteErrors.WithLabelValues("broken")) - before; got != 5 {
		t.Errorf("expected 5 reported write errors, got %v", got)
	}
	if breakers.States()["broken"] != circuitbreaker.StateOpen {
		t.Errorf("expected broken sink circuit open")
	}
}

func TestLedger_AppendAfterClose(t *testing.T) {
	mem := NewMemory()
	l := New(zerolog.Nop(), 1, nil, mem)
	_ = l.Close()
	before := testutil.ToFloat64(metrics.LedgerDropped)
	l.Append(NewEntry(t0, "1.2.3.4", "/", OutcomeAllowed, "ok"))
	if len(mem.Entries()) != 0 {
		t.Error("expected no entries after close")
	}
	if testutil.ToFloat64(metrics.LedgerDropped)-before != 1 {
		t.Error("expected dropped counter to increase")
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}
