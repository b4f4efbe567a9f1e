// Package proxy implements the flow store: the in-memory record of HTTP
// transactions reported by the supervised mitmproxy addon, plus the
// intercept and mock registries that steer its behavior. Store owns the
// Flows, InterceptRegistry the intercept rule and MockRegistry the mock
// rules; Engine wires the three together and everything else reaches them
// through their methods.
package proxy

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"quern/pkg/qerrors"
	"quern/pkg/types"
)

// Filter narrows a flow query. Zero values mean "don't filter on this field".
type Filter struct {
	Host         string
	HostSuffix   bool
	PathContains string
	Method       string
	StatusMin    int
	StatusMax    int
	ErrorsOnly   bool
	DeviceUDID   string
	ClientIP     string
}

func (f Filter) matches(flow *types.Flow) bool {
	if f.Host != "" {
		if f.HostSuffix {
			if !strings.HasSuffix(flow.Request.Host, f.Host) {
				return false
			}
		} else if flow.Request.Host != f.Host {
			return false
		}
	}
	if f.PathContains != "" && !strings.Contains(flow.Request.Path, f.PathContains) {
		return false
	}
	if f.Method != "" && !strings.EqualFold(flow.Request.Method, f.Method) {
		return false
	}
	if f.StatusMin > 0 && flow.Response.Status < f.StatusMin {
		return false
	}
	if f.StatusMax > 0 && flow.Response.Status > f.StatusMax {
		return false
	}
	if f.ErrorsOnly && flow.Error == "" {
		return false
	}
	if f.DeviceUDID != "" && flow.DeviceUDID != f.DeviceUDID {
		return false
	}
	if f.ClientIP != "" && flow.ClientIP != f.ClientIP {
		return false
	}
	return true
}

// Page is a bounded slice of a larger flow result set.
type Page struct {
	Flows []*types.Flow
	Total int
}

// Store is the flow map plus its secondary indexes. All indexes hold flow
// ids in insertion order and are resolved against the primary map, so
// eviction only has to touch the index slices once.
type Store struct {
	maxFlows int

	mu       sync.RWMutex
	byID     map[uint64]*types.Flow
	order    []uint64 // insertion order, oldest first, for bounded eviction
	nextSeq  uint64

	byHost   map[string][]uint64
	byBucket map[string][]uint64
	byUDID   map[string][]uint64
	byIP     map[string][]uint64

	// respCompressed marks flow ids whose stored response body is
	// snappy-compressed; cleared on eviction along with everything else.
	respCompressed map[uint64]bool
}

// New creates a flow store bounded at maxFlows (oldest evicted on overflow).
func New(maxFlows int) *Store {
	return &Store{
		maxFlows:       maxFlows,
		byID:           make(map[uint64]*types.Flow),
		byHost:         make(map[string][]uint64),
		byBucket:       make(map[string][]uint64),
		byUDID:         make(map[string][]uint64),
		byIP:           make(map[string][]uint64),
		respCompressed: make(map[uint64]bool),
	}
}

// Insert records a new flow (request received, response may still be
// pending) and assigns its StoreSeq. Returns the assigned StoreSeq.
func (s *Store) Insert(flow *types.Flow) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	flow.StoreSeq = s.nextSeq

	s.byID[flow.ID] = flow
	s.order = append(s.order, flow.ID)
	s.indexLocked(flow)

	if len(s.order) > s.maxFlows {
		s.evictOldestLocked()
	}
	return flow.StoreSeq
}

// Complete fills in the response half of an already-inserted flow. Flows
// are immutable once this returns, except for held flows mutated by the
// intercept release path.
func (s *Store) Complete(id uint64, resp types.FlowMessage, flowErr string, durationMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.byID[id]
	if !ok {
		return qerrors.Newf(qerrors.NotFound, "flow %d not found", id)
	}
	if body, compressed := compressBody(resp.Body); compressed {
		resp.Body = body
		s.respCompressed[id] = true
	}
	flow.Response = resp
	flow.Error = flowErr
	flow.DurationMS = durationMS
	flow.EndedAt = time.Now()
	flow.Completed = true

	// status bucket only settles once the response lands, so re-index it.
	s.removeFromIndex(s.byBucket, bucketBeforeCompletion, flow.ID)
	s.byBucket[flow.StatusBucket()] = append(s.byBucket[flow.StatusBucket()], flow.ID)
	return nil
}

const bucketBeforeCompletion = "err"

func (s *Store) indexLocked(flow *types.Flow) {
	if flow.Request.Host != "" {
		s.byHost[flow.Request.Host] = append(s.byHost[flow.Request.Host], flow.ID)
	}
	s.byBucket[flow.StatusBucket()] = append(s.byBucket[flow.StatusBucket()], flow.ID)
	if flow.DeviceUDID != "" {
		s.byUDID[flow.DeviceUDID] = append(s.byUDID[flow.DeviceUDID], flow.ID)
	}
	if flow.ClientIP != "" {
		s.byIP[flow.ClientIP] = append(s.byIP[flow.ClientIP], flow.ID)
	}
}

func (s *Store) evictOldestLocked() {
	id := s.order[0]
	s.order = s.order[1:]
	flow, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	delete(s.respCompressed, id)
	s.removeFromIndex(s.byHost, flow.Request.Host, id)
	s.removeFromIndex(s.byBucket, flow.StatusBucket(), id)
	s.removeFromIndex(s.byUDID, flow.DeviceUDID, id)
	s.removeFromIndex(s.byIP, flow.ClientIP, id)
}

func (s *Store) removeFromIndex(idx map[string][]uint64, key string, id uint64) {
	ids := idx[key]
	for i, v := range ids {
		if v == id {
			idx[key] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// Get returns a single flow by id, with its response body transparently
// decompressed if it was stored compressed.
func (s *Store) Get(id uint64) (*types.Flow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.materializeLocked(f), true
}

// materializeLocked returns a shallow copy of flow with its response body
// decompressed for callers; the stored copy keeps holding the compressed
// bytes so repeat reads don't pay a decode cost they won't use.
func (s *Store) materializeLocked(flow *types.Flow) *types.Flow {
	if !s.respCompressed[flow.ID] {
		return flow
	}
	out := *flow
	out.Response.Body = decompressBody(flow.Response.Body, true)
	return &out
}

// Query filters flows, using whichever secondary index narrows the
// candidate set the most, then applies the remaining predicates.
func (s *Store) Query(f Filter, limit, offset int) Page {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.candidateIDsLocked(f)
	var matched []*types.Flow
	for _, id := range candidates {
		flow, ok := s.byID[id]
		if !ok || !f.matches(flow) {
			continue
		}
		matched = append(matched, s.materializeLocked(flow))
	}

	total := len(matched)
	if offset >= total {
		return Page{Flows: []*types.Flow{}, Total: total}
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return Page{Flows: matched[offset:end], Total: total}
}

func (s *Store) candidateIDsLocked(f Filter) []uint64 {
	switch {
	case f.DeviceUDID != "":
		return s.byUDID[f.DeviceUDID]
	case f.ClientIP != "":
		return s.byIP[f.ClientIP]
	case f.Host != "" && !f.HostSuffix:
		return s.byHost[f.Host]
	default:
		return s.order
	}
}

// SinceStoreSeq returns flows inserted after the given ordinal, in
// insertion order. Used by the cursor-delta flow summarizer.
func (s *Store) SinceStoreSeq(ordinal uint64) []*types.Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Flow
	for _, id := range s.order {
		flow := s.byID[id]
		if flow != nil && flow.StoreSeq > ordinal {
			out = append(out, flow)
		}
	}
	return out
}

// Usage returns the current flow count and configured capacity, for the
// watchdog's flow-store-fill objective.
func (s *Store) Usage() (count, capacity int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), s.maxFlows
}

// HostCounts returns per-host flow counts as an unordered map, for
// host-indexed summary views; SortedHosts gives a stable key order.
func (s *Store) HostCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.byHost))
	for host, ids := range s.byHost {
		counts[host] = len(ids)
	}
	return counts
}

// SortedHosts is a convenience for callers that want stable iteration order.
func SortedHosts(counts map[string]int) []string {
	hosts := make([]string, 0, len(counts))
	for h := range counts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// FormatID renders a flow id for use in log labels and cursors.
func FormatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
