// Package state holds the process-wide mutable security state: failure
// counters, bans, visit statistics and the two secrets. Every read and
// write goes through one mutex, so a check-and-update pair (failure
// increment then ban) is never interleaved with another request.
package state

import (
	"sync"
	"time"

	"unitygate/internal/token"
)

// HourFormat keys the hourly bucket, e.g. "2026-10-17 14".
const HourFormat = "2006-01-02 15"

type Store struct {
	mu sync.Mutex

	failedAttempts map[string]int
	bannedAt       map[string]time.Time
	banDuration    time.Duration

	visitCount     int
	uniqueVisitors map[string]struct{}
	pathStats      map[string]int
	hourlyStats    map[string]int

	secrets token.Pair
}

func New(secrets token.Pair, banDuration time.Duration) *Store {
	return &Store{
		failedAttempts: make(map[string]int),
		bannedAt:       make(map[string]time.Time),
		banDuration:    banDuration,
		uniqueVisitors: make(map[string]struct{}),
		pathStats:      make(map[string]int),
		hourlyStats:    make(map[string]int),
		secrets:        secrets,
	}
}

func (s *Store) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secrets.Access
}

func (s *Store) AdminToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secrets.Admin
}

// RecordFailure increments and returns the failure count for addr.
func (s *Store) RecordFailure(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordFailure(addr)
}

// Ban starts (or restarts) a ban for addr at now.
func (s *Store) Ban(addr string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ban(addr, now)
}

// Fail is RecordFailure followed by Ban once the count reaches threshold,
// under a single lock hold. It returns the new count and whether a ban was
// applied.
func (s *Store) Fail(addr string, now time.Time, threshold int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.recordFailure(addr)
	if n >= threshold {
		s.ban(addr, now)
		return n, true
	}
	return n, false
}

// recordFailure and ban expect mu held.
func (s *Store) recordFailure(addr string) int {
	s.failedAttempts[addr]++
	return s.failedAttempts[addr]
}

func (s *Store) ban(addr string, now time.Time) {
	s.bannedAt[addr] = now
}

// IsBanned reports whether addr is still banned at now. An expired ban is
// removed together with the address's failure counter.
func (s *Store) IsBanned(addr string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.bannedAt[addr]
	if !ok {
		return false
	}
	if now.Sub(start) < s.banDuration {
		return true
	}
	delete(s.bannedAt, addr)
	delete(s.failedAttempts, addr)
	return false
}

func (s *Store) FailedAttempts(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedAttempts[addr]
}

// RecordVisit counts one allowed request.
func (s *Store) RecordVisit(addr, path string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitCount++
	s.uniqueVisitors[addr] = struct{}{}
	s.pathStats[path]++
	s.hourlyStats[now.Format(HourFormat)]++
}

// Counts is the cheap summary served by the status endpoint.
type Counts struct {
	Visits         int
	UniqueVisitors int
	Banned         int
}

// Counts reports raw totals. Banned counts every recorded ban, expired or not,
// since expiry is only applied lazily when the address comes back.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Visits:         s.visitCount,
		UniqueVisitors: len(s.uniqueVisitors),
		Banned:         len(s.bannedAt),
	}
}

// Snapshot is a deep copy of the statistics.
type Snapshot struct {
	Visits         int
	UniqueVisitors int
	Paths          map[string]int
	Hourly         map[string]int
	ActiveBans     int
}

// Snapshot copies the statistics without mutating anything; ActiveBans only
// counts bans still in force at now.
func (s *Store) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Visits:         s.visitCount,
		UniqueVisitors: len(s.uniqueVisitors),
		Paths:          make(map[string]int, len(s.pathStats)),
		Hourly:         make(map[string]int, len(s.hourlyStats)),
	}
	for k, v := range s.pathStats {
		snap.Paths[k] = v
	}
	for k, v := range s.hourlyStats {
		snap.Hourly[k] = v
	}
	for _, start := range s.bannedAt {
		if now.Sub(start) < s.banDuration {
			snap.ActiveBans++
		}
	}
	return snap
}
