package tracker

import (
	"sync"

	"barrage/internal/domain"
)

// Reward is deferred item payout attached to a tracked projectile.
type Reward struct {
	Drops      []domain.Drop
	Multiplier float64
}

// Entry is tracked state for one live projectile.
type Entry struct {
	Handle   domain.Handle
	EventID  string
	Position domain.Vec3
	Reward   *Reward
}

// Tracker owns the set of live projectiles spawned by events.
// Params: none.
// Returns: concurrency-safe handle registry used for attribution and payouts.
type Tracker struct {
	mu      sync.RWMutex
	entries map[domain.Handle]Entry
}

// New creates empty tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[domain.Handle]Entry)}
}

// Register adds handle once.
// Params: entry with non-empty handle.
// Returns: false when handle is empty or already tracked.
func (t *Tracker) Register(entry Entry) bool {
	if entry.Handle == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[entry.Handle]; exists {
		return false
	}
	t.entries[entry.Handle] = entry
	return true
}

// Unregister removes handle; repeated calls are no-ops.
// Params: handle.
// Returns: removed entry and true on first removal.
func (t *Tracker) Unregister(handle domain.Handle) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[handle]
	if ok {
		delete(t.entries, handle)
	}
	return entry, ok
}

// IsTracked reports whether handle is live.
func (t *Tracker) IsTracked(handle domain.Handle) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[handle]
	return ok
}

// Lookup returns tracked entry for handle.
func (t *Tracker) Lookup(handle domain.Handle) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[handle]
	return entry, ok
}

// NearestTracked finds closest tracked projectile within maxDistance.
// Params: position and inclusive distance threshold.
// Returns: handle and true when one is in range; ties resolve to the smaller handle.
func (t *Tracker) NearestTracked(position domain.Vec3, maxDistance float64) (domain.Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var (
		best     domain.Handle
		bestDist float64
		found    bool
	)
	for handle, entry := range t.entries {
		dist := entry.Position.Distance(position)
		if dist > maxDistance {
			continue
		}
		if !found || dist < bestDist || (dist == bestDist && handle < best) {
			best, bestDist, found = handle, dist, true
		}
	}
	return best, found
}

// UpdatePosition records latest known position for handle.
// Returns: false when handle is not tracked.
func (t *Tracker) UpdatePosition(handle domain.Handle, position domain.Vec3) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[handle]
	if !ok {
		return false
	}
	entry.Position = position
	t.entries[handle] = entry
	return true
}

// ClearRewards drops pending payouts for event while keeping handles tracked.
// Params: event ID.
// Returns: number of cleared rewards.
func (t *Tracker) ClearRewards(eventID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cleared := 0
	for handle, entry := range t.entries {
		if entry.EventID != eventID || entry.Reward == nil {
			continue
		}
		entry.Reward = nil
		t.entries[handle] = entry
		cleared++
	}
	return cleared
}

// CountForEvent returns number of live handles spawned by event.
func (t *Tracker) CountForEvent(eventID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, entry := range t.entries {
		if entry.EventID == eventID {
			count++
		}
	}
	return count
}

// Len returns number of tracked handles.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Reset forgets every handle and pending reward.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[domain.Handle]Entry)
}
