package ledger

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// FileSink appends one line per entry to a file.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

func OpenFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	return &FileSink{f: f}, nil
}

func (s *FileSink) Name() string { return "file" }

// Write issues a single write per entry so lines are never interleaved.
func (s *FileSink) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.f.WriteString(e.Line() + "\n")
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// LogSink mirrors entries to the process log.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Write(e Entry) error {
	ev := s.Logger.Info()
	if e.Outcome != OutcomeAllowed {
		ev = s.Logger.Warn()
	}
	ev.Str("ledger_id", e.ID.String()).
		Str("client", e.ClientAddr).
		Str("path", e.Path).
		Str("outcome", string(e.Outcome)).
		Msg(e.Reason)
	return nil
}

// Memory keeps entries in process. It is both a Sink and a synchronous
// Appender, which makes it the ledger of choice in tests.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Write(e Entry) error {
	m.Append(e)
	return nil
}

func (m *Memory) Append(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// Entries returns a copy of everything appended so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
