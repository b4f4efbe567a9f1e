package proxy

import (
	"context"
	"sync"
	"time"

	"quern/pkg/qerrors"
	"quern/pkg/types"
)

const defaultHoldTimeout = 30 * time.Second

// heldEntry pairs a HeldFlow with the channel its eventual release (or
// timeout) is delivered on. release is nil until a modification is posted.
type heldEntry struct {
	held    types.HeldFlow
	release chan *types.FlowModifications
	once    sync.Once
}

// InterceptRegistry holds the single active filter and the queue of flows
// currently paused awaiting release. The Quern server is the only writer;
// the addon only ever reads the filter and posts release requests back.
type InterceptRegistry struct {
	holdTimeout time.Duration

	mu     sync.Mutex
	rule   *types.InterceptRule
	queue  []uint64
	byID   map[uint64]*heldEntry
	notify chan struct{} // closed and replaced whenever the queue changes
}

// NewInterceptRegistry creates an empty registry. holdTimeout is the
// per-flow auto-release deadline (defaultHoldTimeout if zero).
func NewInterceptRegistry(holdTimeout time.Duration) *InterceptRegistry {
	if holdTimeout <= 0 {
		holdTimeout = defaultHoldTimeout
	}
	return &InterceptRegistry{
		holdTimeout: holdTimeout,
		byID:        make(map[uint64]*heldEntry),
		notify:      make(chan struct{}),
	}
}

// SetFilter installs the active intercept filter, replacing any prior one.
func (r *InterceptRegistry) SetFilter(filter string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rule = &types.InterceptRule{Filter: filter, SetAt: time.Now()}
}

// Filter returns the active filter, or nil if none is set.
func (r *InterceptRegistry) Filter() *types.InterceptRule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rule
}

// ClearFilter removes the active filter and releases every held flow
// unmodified, as the spec requires.
func (r *InterceptRegistry) ClearFilter() {
	r.mu.Lock()
	r.rule = nil
	ids := append([]uint64(nil), r.queue...)
	r.mu.Unlock()

	for _, id := range ids {
		_ = r.Release(id, nil)
	}
}

// Hold enqueues flow as held and blocks the calling addon-callback handler
// until release, filter-clear, timeout, or ctx cancellation. It returns the
// modifications to apply (nil for none) and whether the hold was released
// deliberately (false on timeout/cancellation, meaning "pass through as-is").
func (r *InterceptRegistry) Hold(ctx context.Context, flow *types.Flow) (*types.FlowModifications, bool) {
	entry := &heldEntry{
		held: types.HeldFlow{
			Flow:     flow,
			HeldAt:   time.Now(),
			Deadline: time.Now().Add(r.holdTimeout),
		},
		release: make(chan *types.FlowModifications, 1),
	}

	r.mu.Lock()
	r.queue = append(r.queue, flow.ID)
	r.byID[flow.ID] = entry
	r.wakeLocked()
	r.mu.Unlock()

	timer := time.NewTimer(r.holdTimeout)
	defer timer.Stop()

	select {
	case mods := <-entry.release:
		return mods, true
	case <-timer.C:
		r.remove(flow.ID)
		return nil, false
	case <-ctx.Done():
		r.remove(flow.ID)
		return nil, false
	}
}

// ListHeld long-polls for held flows, returning immediately if any are
// already queued, otherwise waiting up to timeout for one to appear.
func (r *InterceptRegistry) ListHeld(ctx context.Context, timeout time.Duration) []types.HeldFlow {
	deadline := time.Now().Add(timeout)
	for {
		if held := r.snapshot(); len(held) > 0 {
			return held
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if !r.waitForChange(ctx, remaining) {
			return r.snapshot()
		}
	}
}

func (r *InterceptRegistry) snapshot() []types.HeldFlow {
	r.mu.Lock()
	defer r.mu.Unlock()
	held := make([]types.HeldFlow, 0, len(r.queue))
	for _, id := range r.queue {
		if entry, ok := r.byID[id]; ok {
			held = append(held, entry.held)
		}
	}
	return held
}

func (r *InterceptRegistry) waitForChange(ctx context.Context, timeout time.Duration) bool {
	r.mu.Lock()
	ch := r.notify
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// wakeLocked must be called with mu held; it signals any waiters in
// ListHeld that the queue changed.
func (r *InterceptRegistry) wakeLocked() {
	close(r.notify)
	r.notify = make(chan struct{})
}

// Release pops a held flow and delivers the given modifications (nil for
// "release unmodified") to whichever goroutine is blocked in Hold.
func (r *InterceptRegistry) Release(id uint64, mods *types.FlowModifications) error {
	r.mu.Lock()
	entry, ok := r.byID[id]
	if ok {
		r.removeLocked(id)
	}
	r.mu.Unlock()

	if !ok {
		return qerrors.Newf(qerrors.NotFound, "held flow %d not found", id)
	}
	entry.once.Do(func() { entry.release <- mods })
	return nil
}

func (r *InterceptRegistry) remove(id uint64) {
	r.mu.Lock()
	r.removeLocked(id)
	r.mu.Unlock()
}

func (r *InterceptRegistry) removeLocked(id uint64) {
	delete(r.byID, id)
	for i, v := range r.queue {
		if v == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
	r.wakeLocked()
}

// Matches reports whether the active filter would hold this flow. Filter
// syntax mirrors mitmproxy's own expression language at the string level;
// Quern does not parse it, the addon does — the server only stores and
// hands it back verbatim. For the subset Quern needs to reason about
// locally (e.g. deciding whether a synthesized mock flow also matches),
// MatchesLocal provides a conservative substring fallback.
func (r *InterceptRegistry) Matches(flow *types.Flow) bool {
	rule := r.Filter()
	if rule == nil {
		return false
	}
	return MatchesLocal(rule.Filter, flow)
}
