// Package ledger is the append-only audit trail of access decisions.
package ledger

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeBanned  Outcome = "banned"
	OutcomeBlocked Outcome = "blocked"
	OutcomeDenied  Outcome = "denied"
	OutcomeLimited Outcome = "limited"
	OutcomeError   Outcome = "error"
)

// TimeFormat is the timestamp layout of a ledger line.
const TimeFormat = "2006-01-02 15:04:05"

// Entry is immutable once created. IDs sort by creation time.
type Entry struct {
	ID         ulid.ULID
	Time       time.Time
	ClientAddr string
	Path       string
	Outcome    Outcome
	Reason     string
}

func NewEntry(now time.Time, addr, path string, outcome Outcome, reason string) Entry {
	return Entry{
		ID:         newID(now),
		Time:       now,
		ClientAddr: addr,
		Path:       path,
		Outcome:    outcome,
		Reason:     reason,
	}
}

// Line renders "time | addr | path | outcome | reason".
func (e Entry) Line() string {
	return fmt.Sprintf("%s | %s | %s | %s | %s",
		e.Time.Format(TimeFormat), e.ClientAddr, e.Path, e.Outcome, e.Reason)
}

// newID stamps the ID with now, clamped to the Unix epoch. A time the ULID
// clock cannot hold gets the current time instead.
func newID(now time.Time) ulid.ULID {
	var ms uint64
	if now.After(time.Unix(0, 0)) {
		ms = ulid.Timestamp(now)
	}
	id, err := ulid.New(ms, ulid.DefaultEntropy())
	if err != nil {
		return ulid.Make()
	}
	return id
}
