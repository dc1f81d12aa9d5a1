package window

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// State is the lifecycle state of a tracked key
type State int

const (
	StateEmpty State = iota
	StateAccumulating
	StateBreached
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateBreached:
		return "breached"
	default:
		return "empty"
	}
}

// Result is the outcome of observing one event
type Result struct {
	Key      string
	Count    int
	State    State
	Breached bool
}

type keyWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
	state      State
}

// Tracker keeps a strict trailing window of event timestamps per key,
// sorted by event time. Entries older than the window of the newest event
// are evicted. An event is counted against the stored events in
// [eventTime-window, eventTime], so an event arriving after newer ones does
// not count them.
type Tracker struct {
	window   time.Duration
	maxCount int
	keys     map[string]*keyWindow
	mu       sync.RWMutex
}

func NewTracker(window time.Duration, maxCount int) *Tracker {
	return &Tracker{
		window:   window,
		maxCount: maxCount,
		keys:     make(map[string]*keyWindow),
	}
}

// Observe records an event for key and reports whether the count of events
// within the window ending at eventTime exceeds the configured maximum.
// Events may arrive out of order. One that is already older than the window
// of the newest stored event is counted against what is still retained and
// not stored.
func (t *Tracker) Observe(key string, eventTime time.Time) Result {
	kw := t.getOrCreate(key)

	kw.mu.Lock()
	defer kw.mu.Unlock()

	latest := eventTime
	if n := len(kw.timestamps); n > 0 && kw.timestamps[n-1].After(latest) {
		latest = kw.timestamps[n-1]
	}
	cutoff := latest.Add(-t.window)
	kw.evictLocked(cutoff)

	count := kw.countLocked(eventTime.Add(-t.window), eventTime) + 1
	if !eventTime.Before(cutoff) {
		kw.insertLocked(eventTime)
	}

	breached := count > t.maxCount
	if breached {
		kw.state = StateBreached
	} else {
		kw.state = StateAccumulating
	}

	return Result{
		Key:      key,
		Count:    count,
		State:    kw.state,
		Breached: breached,
	}
}

// Count returns how many stored events of key are within the window ending
// at the given time, both ends included. State is not modified.
func (t *Tracker) Count(key string, at time.Time) int {
	t.mu.RLock()
	kw, exists := t.keys[key]
	t.mu.RUnlock()
	if !exists {
		return 0
	}

	kw.mu.Lock()
	defer kw.mu.Unlock()

	return kw.countLocked(at.Add(-t.window), at)
}

func (t *Tracker) State(key string) State {
	t.mu.RLock()
	kw, exists := t.keys[key]
	t.mu.RUnlock()
	if !exists {
		return StateEmpty
	}

	kw.mu.Lock()
	defer kw.mu.Unlock()
	return kw.state
}

// Keys returns the number of tracked keys.
func (t *Tracker) Keys() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.keys)
}

// Reset discards all window state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys = make(map[string]*keyWindow)
}

func (t *Tracker) getOrCreate(key string) *keyWindow {
	t.mu.RLock()
	kw, exists := t.keys[key]
	t.mu.RUnlock()
	if exists {
		return kw
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if kw, exists = t.keys[key]; exists {
		return kw
	}
	kw = &keyWindow{}
	t.keys[key] = kw
	return kw
}

// evictLocked drops timestamps before cutoff. Caller must hold kw.mu.
func (kw *keyWindow) evictLocked(cutoff time.Time) {
	kept := kw.timestamps[:0]
	for _, ts := range kw.timestamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	kw.timestamps = kept
}

// insertLocked adds ts after any equal timestamps. Caller must hold kw.mu.
func (kw *keyWindow) insertLocked(ts time.Time) {
	i := sort.Search(len(kw.timestamps), func(i int) bool {
		return kw.timestamps[i].After(ts)
	})
	kw.timestamps = slices.Insert(kw.timestamps, i, ts)
}

// countLocked counts timestamps in [from, to]. Caller must hold kw.mu.
func (kw *keyWindow) countLocked(from, to time.Time) int {
	lo := sort.Search(len(kw.timestamps), func(i int) bool {
		return !kw.timestamps[i].Before(from)
	})
	hi := sort.Search(len(kw.timestamps), func(i int) bool {
		return kw.timestamps[i].After(to)
	})
	if hi < lo {
		return 0
	}
	return hi - lo
}
