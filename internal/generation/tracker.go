package generation

import "sync"

// AdmissionTracker is the per-account exclusion set: at most one admitted
// job per account at any time. Implementations are process-local.
type AdmissionTracker interface {
	// TryAcquire marks the account as having a job in flight. Returns
	// false when one is already admitted.
	TryAcquire(tgID int64) bool
	// Release frees the account's slot.
	Release(tgID int64)
	// Active reports how many accounts currently hold a slot.
	Active() int
}

type memoryTracker struct {
	mu     sync.Mutex
	active map[int64]struct{}
}

// NewMemoryTracker returns the in-memory AdmissionTracker used in production.
func NewMemoryTracker() AdmissionTracker {
	return &memoryTracker{active: make(map[int64]struct{})}
}

func (t *memoryTracker) TryAcquire(tgID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[tgID]; ok {
		return false
	}
	t.active[tgID] = struct{}{}
	return true
}

func (t *memoryTracker) Release(tgID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, tgID)
}

func (t *memoryTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
