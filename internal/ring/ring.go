// Package ring implements the fixed-capacity, cursor-stable log buffer
// logs flow through after classification: one or more producers append,
// many concurrent readers query or subscribe, and slow subscribers are
// dropped rather than allowed to block a producer.
package ring

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"quern/internal/metrics"
	"quern/pkg/types"
)

// Filter narrows a query or subscription. Zero values mean "no constraint."
type Filter struct {
	Source     types.Source
	Process    string
	MinLevel   types.Level
	Substring  string
	Since      time.Time
	Until      time.Time
}

func (f Filter) matches(e *types.LogEntry) bool {
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Process != "" && e.Process != f.Process {
		return false
	}
	if f.MinLevel != "" && !e.Level.AtLeast(f.MinLevel) {
		return false
	}
	if f.Substring != "" && !strings.Contains(e.Message, f.Substring) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Page is one query result: the matching entries (already filtered and
// paginated) plus the total number of entries that matched the filter
// before limit/offset were applied.
type Page struct {
	Entries []*types.LogEntry
	Total   int
}

const subscriberBuffer = 256

type subscriber struct {
	ch     chan *types.LogEntry
	lagged chan struct{}
	filter Filter
	once   sync.Once
}

// Ring is a bounded FIFO of LogEntry, with a monotonic sequence number
// assigned at append time. It never blocks a producer on a slow reader:
// subscriber channels are bounded and a full channel drops the subscriber,
// signalling once on lagged.
type Ring struct {
	mu       sync.RWMutex
	capacity int
	entries  []*types.LogEntry // logical FIFO order, oldest first
	nextSeq  uint64
	dropped  uint64

	subMu sync.Mutex
	subs  map[int]*subscriber
	subID int
}

// New creates a Ring with the given fixed capacity.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		capacity: capacity,
		entries:  make([]*types.LogEntry, 0, capacity),
		subs:     make(map[int]*subscriber),
	}
}

// Append assigns the next sequence number to entry, stores it, evicting the
// oldest entry if the ring is full, and fans it out to subscribers whose
// filter matches. Returns the assigned sequence number.
func (r *Ring) Append(entry *types.LogEntry) uint64 {
	r.mu.Lock()
	r.nextSeq++
	seq := r.nextSeq
	entry.Seq = seq
	if len(r.entries) >= r.capacity {
		r.entries = r.entries[1:]
		r.dropped++
		metrics.RingDropsTotal.Inc()
	}
	r.entries = append(r.entries, entry)
	metrics.RingDepth.Set(float64(len(r.entries)))
	r.mu.Unlock()

	r.fanOut(entry)
	return seq
}

// Query returns entries matching filter, in insertion order, honoring
// limit/offset. An offset beyond the matched population yields an empty
// page, not an error.
func (r *Ring) Query(filter Filter, limit, offset int) Page {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*types.LogEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if filter.matches(e) {
			matched = append(matched, e)
		}
	}
	total := len(matched)
	if offset >= total {
		return Page{Entries: []*types.LogEntry{}, Total: total}
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return Page{Entries: matched[offset:end], Total: total}
}

// Since returns all entries with sequence strictly greater than seq, in
// insertion order.
func (r *Ring) Since(seq uint64) []*types.LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.LogEntry, 0)
	for _, e := range r.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// HeadSeq returns the highest sequence number appended so far.
func (r *Ring) HeadSeq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextSeq
}

// Subscribe registers a new non-blocking subscriber and returns its channel
// plus a lagged channel that is closed exactly once if the subscriber falls
// behind and is dropped. Cancel the returned func to unsubscribe cleanly.
func (r *Ring) Subscribe(filter Filter) (entries <-chan *types.LogEntry, lagged <-chan struct{}, cancel func()) {
	r.subMu.Lock()
	id := r.subID
	r.subID++
	sub := &subscriber{
		ch:     make(chan *types.LogEntry, subscriberBuffer),
		lagged: make(chan struct{}),
		filter: filter,
	}
	r.subs[id] = sub
	r.subMu.Unlock()

	cancelFn := func() {
		r.subMu.Lock()
		if s, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(s.ch)
		}
		r.subMu.Unlock()
	}
	return sub.ch, sub.lagged, cancelFn
}

func (r *Ring) fanOut(entry *types.LogEntry) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for id, sub := range r.subs {
		if !sub.filter.matches(entry) {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
			sub.once.Do(func() { close(sub.lagged) })
			close(sub.ch)
			delete(r.subs, id)
		}
	}
}

// Dropped returns the number of entries evicted for capacity since start.
func (r *Ring) Dropped() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// Usage returns the current entry count and configured capacity, for the
// watchdog's ring-fill objective.
func (r *Ring) Usage() (count, capacity int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), r.capacity
}

// Cursor renders seq as the opaque cursor string used in query responses.
func Cursor(seq uint64) string {
	return "seq:" + strconv.FormatUint(seq, 10)
}

// ParseCursor extracts the sequence number from a cursor produced by
// Cursor. ok is false for an empty or malformed cursor.
func ParseCursor(cursor string) (seq uint64, ok bool) {
	const prefix = "seq:"
	if !strings.HasPrefix(cursor, prefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(cursor[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
