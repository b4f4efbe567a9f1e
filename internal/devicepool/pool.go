// Package devicepool implements the file-locked, persistent claim registry
// for simulators and devices: claim, release, cleanup, refresh, resolve,
// and ensure, all serialized through a flock on a lock file beside the
// pool's data file so
// cooperating Quern processes on the same host never double-claim a UDID.
package devicepool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quern/internal/metrics"
	"quern/pkg/qerrors"
	"quern/pkg/types"
)

const defaultStaleThreshold = 30 * time.Minute

// Pool is the in-memory mirror of device-pool.json, kept consistent with
// the on-disk copy by routing every mutation through a lock-read-write-
// unlock cycle: acquire the file lock, read the current state, compute the
// change, write it back, release. The in-memory map underneath is replaced
// after every locked read or write and also drives the claimed-devices
// gauge; all reads and mutations go through the file.
type Pool struct {
	path           string
	staleThreshold time.Duration
	platform       Platform
	log            *logrus.Logger

	mu           sync.RWMutex
	cache        map[string]types.DeviceRecord
	lastRefresh  time.Time
}

// New creates a pool backed by the pool file at path.
func New(path string, staleThreshold time.Duration, platform Platform, log *logrus.Logger) *Pool {
	if staleThreshold <= 0 {
		staleThreshold = defaultStaleThreshold
	}
	return &Pool{
		path:           path,
		staleThreshold: staleThreshold,
		platform:       platform,
		log:            log,
		cache:          make(map[string]types.DeviceRecord),
	}
}

// Snapshot returns the most recently loaded in-memory view, refreshing
// from disk under lock first so callers see the latest committed state.
func (p *Pool) Snapshot() ([]types.DeviceRecord, error) {
	lock, err := acquireLock(p.path)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	file, err := lock.read()
	if err != nil {
		return nil, err
	}
	p.setCache(file.Devices)

	out := make([]types.DeviceRecord, 0, len(file.Devices))
	for _, rec := range file.Devices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UDID < out[j].UDID })
	return out, nil
}

func (p *Pool) setCache(devices map[string]types.DeviceRecord) {
	p.mu.Lock()
	p.cache = devices
	p.mu.Unlock()

	claimed := 0
	for _, rec := range devices {
		if rec.Claimed() {
			claimed++
		}
	}
	metrics.DevicesClaimed.Set(float64(claimed))
}

// Claim finds a candidate matching udidOrPattern (exact UDID match first,
// else the first available record matching the pattern) and marks it
// claimed by sessionID. Returns a Conflict error if the matching record is
// already claimed, NotFound if nothing matches at all.
func (p *Pool) Claim(udidOrPattern, sessionID string) (types.DeviceRecord, error) {
	lock, err := acquireLock(p.path)
	if err != nil {
		return types.DeviceRecord{}, err
	}
	defer lock.release()

	file, err := lock.read()
	if err != nil {
		return types.DeviceRecord{}, err
	}

	candidate, err := findClaimCandidate(file.Devices, udidOrPattern)
	if err != nil {
		return types.DeviceRecord{}, err
	}
	if candidate.Claimed() {
		return types.DeviceRecord{}, qerrors.Newf(qerrors.Conflict, "device %s already claimed by %s", candidate.UDID, candidate.ClaimedBy)
	}

	candidate.ClaimedBy = sessionID
	candidate.ClaimedAt = time.Now()
	file.Devices[candidate.UDID] = candidate

	if err := lock.write(file); err != nil {
		return types.DeviceRecord{}, err
	}
	p.setCache(file.Devices)
	return candidate, nil
}

func findClaimCandidate(devices map[string]types.DeviceRecord, udidOrPattern string) (types.DeviceRecord, error) {
	if rec, ok := devices[udidOrPattern]; ok {
		return rec, nil
	}
	var ids []string
	for id := range devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec := devices[id]
		if !rec.Claimed() && matchesPattern(rec, udidOrPattern) {
			return rec, nil
		}
	}
	return types.DeviceRecord{}, qerrors.Newf(qerrors.NotFound, "no device matching %q", udidOrPattern)
}

func matchesPattern(rec types.DeviceRecord, pattern string) bool {
	if pattern == "" {
		return true
	}
	return rec.Name == pattern || rec.Family == pattern || rec.OSVersion == pattern
}

// Release clears a claim. If sessionID is non-empty, the release is only
// applied when it matches the current claim holder.
func (p *Pool) Release(udid, sessionID string) error {
	lock, err := acquireLock(p.path)
	if err != nil {
		return err
	}
	defer lock.release()

	file, err := lock.read()
	if err != nil {
		return err
	}

	rec, ok := file.Devices[udid]
	if !ok {
		return qerrors.Newf(qerrors.NotFound, "device %s not found", udid)
	}
	if sessionID != "" && rec.ClaimedBy != sessionID {
		return qerrors.Newf(qerrors.PreconditionFailed, "device %s is not claimed by session %s", udid, sessionID)
	}
	rec.ClaimedBy = ""
	rec.ClaimedAt = time.Time{}
	file.Devices[udid] = rec

	if err := lock.write(file); err != nil {
		return err
	}
	p.setCache(file.Devices)
	return nil
}

// Cleanup releases any claim whose age exceeds the stale threshold,
// returning the UDIDs it released.
func (p *Pool) Cleanup() ([]string, error) {
	lock, err := acquireLock(p.path)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	file, err := lock.read()
	if err != nil {
		return nil, err
	}

	var released []string
	now := time.Now()
	for udid, rec := range file.Devices {
		if rec.Claimed() && now.Sub(rec.ClaimedAt) > p.staleThreshold {
			rec.ClaimedBy = ""
			rec.ClaimedAt = time.Time{}
			file.Devices[udid] = rec
			released = append(released, udid)
		}
	}
	if len(released) == 0 {
		return nil, nil
	}
	if err := lock.write(file); err != nil {
		return nil, err
	}
	p.setCache(file.Devices)
	sort.Strings(released)
	return released, nil
}

// ReleaseAll clears every claim regardless of age, returning the UDIDs it
// released. Used on daemon shutdown to best-effort release whatever this
// process was holding; it is not session-aware because the daemon itself
// has no notion of which API callers issued which claims.
func (p *Pool) ReleaseAll() ([]string, error) {
	lock, err := acquireLock(p.path)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	file, err := lock.read()
	if err != nil {
		return nil, err
	}

	var released []string
	for udid, rec := range file.Devices {
		if rec.Claimed() {
			rec.ClaimedBy = ""
			rec.ClaimedAt = time.Time{}
			file.Devices[udid] = rec
			released = append(released, udid)
		}
	}
	if len(released) == 0 {
		return nil, nil
	}
	if err := lock.write(file); err != nil {
		return nil, err
	}
	p.setCache(file.Devices)
	sort.Strings(released)
	return released, nil
}

// Refresh reconciles the pool against the platform: new UDIDs are added,
// vanished UDIDs are retained but flagged stale, and boot state is
// updated for everything still present. Cheap repeat calls within
// refreshCacheTTL are skipped and report the cached result.
func (p *Pool) Refresh(ctx context.Context) ([]types.DeviceRecord, error) {
	p.mu.RLock()
	fresh := time.Since(p.lastRefresh) < refreshCacheTTL
	p.mu.RUnlock()
	if fresh {
		return p.Snapshot()
	}

	live, err := p.platform.List(ctx)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.SubprocessFailed, err, "listing platform devices")
	}

	lock, err := acquireLock(p.path)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	file, err := lock.read()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(live))
	now := time.Now()
	for _, d := range live {
		seen[d.UDID] = true
		rec, existed := file.Devices[d.UDID]
		if !existed {
			rec = types.DeviceRecord{UDID: d.UDID, Kind: types.DeviceSimulator}
		}
		rec.Name = d.Name
		rec.OSVersion = d.OSVersion
		rec.Family = d.Family
		rec.BootState = bootStateOf(d.Booted)
		rec.LastSeen = now
		rec.Stale = false
		file.Devices[d.UDID] = rec
	}
	for udid, rec := range file.Devices {
		if !seen[udid] {
			rec.Stale = true
			file.Devices[udid] = rec
		}
	}

	if err := lock.write(file); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.lastRefresh = now
	p.mu.Unlock()
	p.setCache(file.Devices)

	out := make([]types.DeviceRecord, 0, len(file.Devices))
	for _, rec := range file.Devices {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UDID < out[j].UDID })
	return out, nil
}

// Resolve finds a device matching criteria, optionally booting a shutdown
// candidate and optionally waiting for a claimed match to free up (capped
// at waitTimeout), then optionally claims the result for sessionID.
func (p *Pool) Resolve(ctx context.Context, criteria string, boot bool, waitTimeout time.Duration, claimFor string) (types.DeviceRecord, error) {
	deadline := time.Now().Add(waitTimeout)
	for {
		devices, err := p.Snapshot()
		if err != nil {
			return types.DeviceRecord{}, err
		}

		var freeCandidate, anyCandidate *types.DeviceRecord
		for i := range devices {
			d := devices[i]
			if !matchesPattern(d, criteria) {
				continue
			}
			if anyCandidate == nil {
				anyCandidate = &d
			}
			if !d.Claimed() && freeCandidate == nil {
				freeCandidate = &d
			}
		}

		if freeCandidate != nil {
			if boot && freeCandidate.BootState == types.BootStateShutdown {
				if err := p.platform.Boot(ctx, freeCandidate.UDID); err != nil {
					return types.DeviceRecord{}, qerrors.Wrap(qerrors.SubprocessFailed, err, "booting device")
				}
				freeCandidate.BootState = types.BootStateBooted
			}
			if claimFor != "" {
				return p.Claim(freeCandidate.UDID, claimFor)
			}
			return *freeCandidate, nil
		}

		if anyCandidate == nil {
			return types.DeviceRecord{}, qerrors.Newf(qerrors.NotFound, "no device matching %q", criteria)
		}
		if waitTimeout <= 0 || time.Now().After(deadline) {
			return types.DeviceRecord{}, qerrors.Newf(qerrors.Conflict, "all devices matching %q are claimed", criteria)
		}

		select {
		case <-ctx.Done():
			return types.DeviceRecord{}, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// Ensure guarantees count matching, ready devices exist (booting shutdown
// candidates as needed) and, if claimFor is non-empty, claims them for a
// session. It returns however many it could satisfy; callers should treat
// a short result as partial success, not an error.
func (p *Pool) Ensure(ctx context.Context, count int, criteria string, boot bool, claimFor string) ([]types.DeviceRecord, error) {
	devices, err := p.Snapshot()
	if err != nil {
		return nil, err
	}

	var ready []types.DeviceRecord
	for _, d := range devices {
		if matchesPattern(d, criteria) && !d.Claimed() && (!boot || d.BootState != types.BootStateShutdown) {
			ready = append(ready, d)
		}
		if len(ready) == count {
			break
		}
	}
	if len(ready) < count && boot {
		for _, d := range devices {
			if len(ready) == count {
				break
			}
			if !matchesPattern(d, criteria) || d.Claimed() || d.BootState != types.BootStateShutdown {
				continue
			}
			if err := p.platform.Boot(ctx, d.UDID); err != nil {
				return ready, qerrors.Wrap(qerrors.SubprocessFailed, err, fmt.Sprintf("booting device %s", d.UDID))
			}
			d.BootState = types.BootStateBooted
			ready = append(ready, d)
		}
	}

	if claimFor == "" {
		return ready, nil
	}
	claimed := make([]types.DeviceRecord, 0, len(ready))
	for _, d := range ready {
		rec, err := p.Claim(d.UDID, claimFor)
		if err != nil {
			continue
		}
		claimed = append(claimed, rec)
	}
	return claimed, nil
}
