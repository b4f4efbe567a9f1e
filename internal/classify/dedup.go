package classify

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"quern/pkg/types"
)

// Fingerprint hashes (level, process, normalized message) so repeated
// entries that differ only in runs of decimal digits still collapse.
// It's a deterministic hex string, not a security-sensitive hash.
func Fingerprint(level types.Level, process, message string) string {
	var b strings.Builder
	b.WriteString(string(level))
	b.WriteByte('|')
	b.WriteString(process)
	b.WriteByte('|')
	b.WriteString(normalize(message))
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16)
}

// normalize collapses runs of digits so "retry 1 of 5" and "retry 2 of 5"
// share a fingerprint.
func normalize(message string) string {
	var b strings.Builder
	b.Grow(len(message))
	inDigits := false
	for _, r := range message {
		if r >= '0' && r <= '9' {
			if !inDigits {
				b.WriteByte('#')
				inDigits = true
			}
			continue
		}
		inDigits = false
		b.WriteRune(r)
	}
	return b.String()
}

type dedupState struct {
	firstSeen    time.Time
	lastSeen     time.Time
	count        int
	lastReported int
	entry        *types.LogEntry
}

// Deduplicator suppresses repeats of the same fingerprint within a sliding
// window, republishing on power-of-two count thresholds so recurring noise
// stays visible without flooding the ring. It never reorders or drops the
// first occurrence of a fingerprint.
type Deduplicator struct {
	mu     sync.Mutex
	window time.Duration
	states map[string]*dedupState
}

// NewDeduplicator creates a deduplicator with the given sliding window.
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{
		window: window,
		states: make(map[string]*dedupState),
	}
}

// Process records entry under its fingerprint and reports whether it should
// be published now. The first occurrence of a fingerprint, and every
// occurrence whose running count crosses a power of two (1, 2, 4, 8, ...),
// publishes; all others are suppressed (counted on the stored entry instead
// of appended).
func (d *Deduplicator) Process(e *types.LogEntry) (publish bool) {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[e.Fingerprint]
	if !ok || now.Sub(st.lastSeen) > d.window {
		st = &dedupState{firstSeen: now, lastSeen: now, count: 1, lastReported: 1, entry: e}
		d.states[e.Fingerprint] = st
		e.DedupCount = 1
		return true
	}

	st.lastSeen = now
	st.count++
	e.DedupCount = st.count

	if isPowerOfTwo(st.count) {
		st.lastReported = st.count
		st.entry = e
		return true
	}
	return false
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Sweep evicts fingerprints whose last occurrence fell outside the window.
// Nothing in the daemon calls it, so the map keeps one state per
// fingerprint seen since start; Process only replaces an expired state
// when its fingerprint recurs.
func (d *Deduplicator) Sweep() {
	cutoff := time.Now().Add(-d.window)
	d.mu.Lock()
	defer d.mu.Unlock()
	for fp, st := range d.states {
		if st.lastSeen.Before(cutoff) {
			delete(d.states, fp)
		}
	}
}

// Len reports the number of tracked fingerprints, for metrics/diagnostics.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.states)
}
