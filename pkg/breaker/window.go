package breaker

import (
	"sync"
	"time"
)

// Stats is a snapshot of a breaker's rolling window.
// Failures include timeouts; Total counts executed calls only (rejections excluded).
type Stats struct {
	Failures  uint64  `json:"failures"`
	Successes uint64  `json:"successes"`
	Timeouts  uint64  `json:"timeouts"`
	Rejects   uint64  `json:"rejects"`
	Fallbacks uint64  `json:"fallbacks"`
	Total     uint64  `json:"total"`
	ErrorRate float64 `json:"errorRate"`
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeTimeout
	outcomeReject
	outcomeFallback
)

type bucket struct {
	failures  uint64
	successes uint64
	timeouts  uint64
	rejects   uint64
	fallbacks uint64
}

// rollingWindow aggregates outcomes into equal time buckets over a trailing window.
// Rotation, recording and reading share one mutex so no increment is lost to a rotation.
type rollingWindow struct {
	mu           sync.Mutex
	buckets      []bucket
	width        time.Duration
	current      int
	currentStart time.Time
	now          func() time.Time
}

func newRollingWindow(window time.Duration, buckets int, now func() time.Time) *rollingWindow {
	if buckets < 1 {
		buckets = 1
	}
	width := window / time.Duration(buckets)
	if width <= 0 {
		width = time.Millisecond
	}
	return &rollingWindow{
		buckets:      make([]bucket, buckets),
		width:        width,
		currentStart: now(),
		now:          now,
	}
}

// rotate advances the current bucket to cover t, discarding buckets that aged out. Caller holds mu.
func (w *rollingWindow) rotate(t time.Time) {
	elapsed := t.Sub(w.currentStart)
	if elapsed < w.width {
		return
	}
	steps := int(elapsed / w.width)
	if steps >= len(w.buckets) {
		for i := range w.buckets {
			w.buckets[i] = bucket{}
		}
		w.current = 0
	} else {
		for i := 0; i < steps; i++ {
			w.current = (w.current + 1) % len(w.buckets)
			w.buckets[w.current] = bucket{}
		}
	}
	w.currentStart = w.currentStart.Add(time.Duration(steps) * w.width)
}

func (w *rollingWindow) record(o outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rotate(w.now())
	b := &w.buckets[w.current]
	switch o {
	case outcomeSuccess:
		b.successes++
	case outcomeFailure:
		b.failures++
	case outcomeTimeout:
		b.timeouts++
		b.failures++
	case outcomeReject:
		b.rejects++
	case outcomeFallback:
		b.fallbacks++
	}
}

func (w *rollingWindow) snapshot() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rotate(w.now())
	var s Stats
	for _, b := range w.buckets {
		s.Failures += b.failures
		s.Successes += b.successes
		s.Timeouts += b.timeouts
		s.Rejects += b.rejects
		s.Fallbacks += b.fallbacks
	}
	s.Total = s.Successes + s.Failures
	if s.Total > 0 {
		s.ErrorRate = float64(s.Failures) / float64(s.Total) * 100
	}
	return s
}

func (w *rollingWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.buckets {
		w.buckets[i] = bucket{}
	}
	w.current = 0
	w.currentStart = w.now()
}
