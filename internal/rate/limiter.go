package rate

import (
	"container/list"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

/*
Package rate provides:
  1) Window  — bounded-memory, per-key sliding window hit counter
  2) Limiter — per-client limits over a minute and an hour window

Every hit is counted, including hits that end up rejected, so a client
hammering past the limit stays limited until it slows down.
*/

// =========================
// Sliding window (bounded LRU)
// =========================

type Window struct {
	mu      sync.Mutex
	width   time.Duration // bucket width
	buckets int           // buckets per window
	cap     int           // max keys to retain
	items   map[string]*list.Element
	lru     *list.List // front = most recently used
	nowFunc func() time.Time
}

type windowEntry struct {
	key     string
	last    int64    // index of the newest bucket (time / width)
	buckets []uint32 // len == buckets; oldest first
}

// NewWindow creates a counter covering buckets*width of history.
func NewWindow(width time.Duration, buckets, capacity int) *Window {
	if width <= 0 {
		width = time.Second
	}
	if buckets <= 0 {
		buckets = 60
	}
	if capacity <= 0 {
		capacity = 10000
	}
	return &Window{
		width:   width,
		buckets: buckets,
		cap:     capacity,
		items:   make(map[string]*list.Element, capacity/2),
		lru:     list.New(),
		nowFunc: time.Now,
	}
}

// Span is the total time covered by the window.
func (w *Window) Span() time.Duration {
	return w.width * time.Duration(w.buckets)
}

// Add records a hit for key and returns the number of hits in the window,
// this one included.
func (w *Window) Add(key string) int {
	idx := w.nowFunc().UnixNano() / int64(w.width)
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.items[key]; ok {
		en := el.Value.(*windowEntry)
		w.advance(en, idx)
		w.incrementTail(en)
		w.lru.MoveToFront(el)
		return w.sum(en)
	}

	if w.lru.Len() >= w.cap {
		if back := w.lru.Back(); back != nil {
			del := back.Value.(*windowEntry)
			delete(w.items, del.key)
			w.lru.Remove(back)
		}
		if w.lru.Len()%1000 == 0 {
			log.Warn().Int("capacity", w.cap).Msg("rate window at capacity, evicting least recent clients")
		}
	}
	en := &windowEntry{
		key:     key,
		last:    idx,
		buckets: make([]uint32, w.buckets),
	}
	en.buckets[w.buckets-1] = 1
	w.items[key] = w.lru.PushFront(en)
	return 1
}

// Count returns the hits currently in the window for key without adding one.
func (w *Window) Count(key string) int {
	idx := w.nowFunc().UnixNano() / int64(w.width)
	w.mu.Lock()
	defer w.mu.Unlock()
	el, ok := w.items[key]
	if !ok {
		return 0
	}
	en := el.Value.(*windowEntry)
	w.advance(en, idx)
	return w.sum(en)
}

// Len is the number of tracked keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lru.Len()
}

// advance shifts the buckets forward to catch up with idx.
func (w *Window) advance(en *windowEntry, idx int64) {
	if idx <= en.last {
		return
	}
	diff := idx - en.last
	en.last = idx
	if diff >= int64(w.buckets) {
		for i := range en.buckets {
			en.buckets[i] = 0
		}
		return
	}
	shift := int(diff)
	copy(en.buckets, en.buckets[shift:])
	for i := w.buckets - shift; i < w.buckets; i++ {
		en.buckets[i] = 0
	}
}

func (w *Window) incrementTail(en *windowEntry) {
	if en.buckets[w.buckets-1] < ^uint32(0) {
		en.buckets[w.buckets-1]++
	}
}

func (w *Window) sum(en *windowEntry) int {
	total := 0
	for _, c := range en.buckets {
		total += int(c)
	}
	return total
}

// ============================
// Limiter (minute + hour)
// ============================

type Limiter struct {
	perMinute int
	perHour   int
	minute    *Window
	hour      *Window
}

// Result describes a limiter decision. Window names the limit that was
// exceeded and is empty when the hit is allowed.
type Result struct {
	Allowed    bool
	Window     string
	Limit      int
	Count      int
	RetryAfter time.Duration
}

// NewLimiter creates a limiter; a zero limit disables that window.
func NewLimiter(perMinute, perHour, capacity int) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		perHour:   perHour,
		minute:    NewWindow(time.Second, 60, capacity),
		hour:      NewWindow(time.Minute, 60, capacity),
	}
}

func (l *Limiter) setNow(now func() time.Time) {
	l.minute.nowFunc = now
	l.hour.nowFunc = now
}

// Allow records a hit for key in both windows and checks both limits.
func (l *Limiter) Allow(key string) Result {
	m := l.minute.Add(key)
	h := l.hour.Add(key)
	if l.perMinute > 0 && m > l.perMinute {
		return Result{Window: "minute", Limit: l.perMinute, Count: m, RetryAfter: l.minute.width}
	}
	if l.perHour > 0 && h > l.perHour {
		return Result{Window: "hour", Limit: l.perHour, Count: h, RetryAfter: l.hour.width}
	}
	return Result{Allowed: true, Count: m}
}
