package ledger

import (
	"io"
	"sync"
	"time"

	"unitygate/internal/circuitbreaker"
	"unitygate/internal/metrics"

	"github.com/rs/zerolog"
	xrate "golang.org/x/time/rate"
)

// Appender accepts entries. Append never fails from the caller's view.
type Appender interface {
	Append(Entry)
}

type Sink interface {
	Name() string
	Write(Entry) error
}

// Ledger queues entries and hands them to its sinks from a single writer
// goroutine, so every sink sees entries in append order.
type Ledger struct {
	entries  chan Entry
	sinks    []Sink
	breakers *circuitbreaker.Manager
	logger   zerolog.Logger
	errLog   *xrate.Limiter

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func New(logger zerolog.Logger, bufferSize int, breakers *circuitbreaker.Manager, sinks ...Sink) *Ledger {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	}
	l := &Ledger{
		entries:  make(chan Entry, bufferSize),
		sinks:    sinks,
		breakers: breakers,
		logger:   logger.With().Str("component", "ledger").Logger(),
		errLog:   xrate.NewLimiter(xrate.Every(10*time.Second), 3),
		done:     make(chan struct{}),
	}
	for _, s := range sinks {
		breakers.GetOrCreate(s.Name())
	}
	go l.run()
	return l
}

// Append enqueues e. It blocks only while the buffer is full; entries
// appended after Close are counted and discarded.
func (l *Ledger) Append(e Entry) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		metrics.LedgerDropped.Inc()
		return
	}
	l.entries <- e
}

func (l *Ledger) run() {
	defer close(l.done)
	for e := range l.entries {
		for _, s := range l.sinks {
			l.write(s, e)
		}
	}
}

func (l *Ledger) write(s Sink, e Entry) {
	cb := l.breakers.GetOrCreate(s.Name())
	if err := cb.Allow(); err != nil {
		metrics.LedgerWriteErrors.WithLabelValues(s.Name()).Inc()
		return
	}
	if err := s.Write(e); err != nil {
		cb.RecordFailure()
		metrics.LedgerWriteErrors.WithLabelValues(s.Name()).Inc()
		if l.errLog.Allow() {
			l.logger.Error().Err(err).
				Str("sink", s.Name()).
				Str("ledger_id", e.ID.String()).
				Msg("ledger write failed")
		}
		return
	}
	cb.RecordSuccess()
}

// Close stops accepting entries, waits for the queue to drain and closes
// every sink that holds a resource.
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.entries)
	l.mu.Unlock()

	<-l.done
	var first error
	for _, s := range l.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
