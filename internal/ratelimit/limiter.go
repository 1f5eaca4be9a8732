// Package ratelimit implements the two anti-abuse mechanisms guarding the
// voting engine: a per-member concurrent action-slot budget and a
// per-(member,item) vote cooldown.
//
// Both checks are advisory — callers observe a boolean and roll back any
// optimistic state themselves. Nothing here ever panics or errors.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks action slots and cooldowns for all members of a party.
// It is private to the host's session owner; only derived projections
// (remaining counts and seconds) leave this package.
type Limiter struct {
	mu       sync.Mutex
	maxSlots int
	cooldown time.Duration
	used     map[string]int       // memberID → slots in flight
	lastVote map[string]time.Time // memberID+"|"+itemID → acceptance time

	now   func() time.Time
	after func(time.Duration, func()) // deferred restore scheduler
}

// New creates a limiter with the given slot budget and cooldown window.
func New(maxSlots int, cooldown time.Duration) *Limiter {
	return &Limiter{
		maxSlots: maxSlots,
		cooldown: cooldown,
		used:     make(map[string]int),
		lastVote: make(map[string]time.Time),
		now:      time.Now,
		after: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

func key(memberID, itemID string) string { return memberID + "|" + itemID }

// SetMaxSlots changes the per-member slot budget. Members already over the
// new budget simply cannot acquire more until restores catch up.
func (l *Limiter) SetMaxSlots(n int) {
	l.mu.Lock()
	l.maxSlots = n
	l.mu.Unlock()
}

// SetCooldown changes the cooldown window. The change takes effect for
// future checks only; timestamps already recorded are not rewritten.
func (l *Limiter) SetCooldown(d time.Duration) {
	l.mu.Lock()
	l.cooldown = d
	l.mu.Unlock()
}

// AcquireSlot claims one action slot for the member. Fails closed when the
// budget is exhausted.
func (l *Limiter) AcquireSlot(memberID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used[memberID] >= l.maxSlots {
		return false
	}
	l.used[memberID]++
	return true
}

// RestoreSlot returns one slot to the member. Restoring a member that has
// no slots in flight (or no longer exists) is a safe no-op.
func (l *Limiter) RestoreSlot(memberID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used[memberID] > 0 {
		l.used[memberID]--
	}
	if l.used[memberID] == 0 {
		delete(l.used, memberID)
	}
}

// ScheduleRestore arranges for one of the member's slots to come back
// after the cooldown window that was in effect at acceptance time. The
// timer is fire-and-forget; by the time it fires the member may be gone,
// which RestoreSlot tolerates.
func (l *Limiter) ScheduleRestore(memberID string) {
	l.mu.Lock()
	d := l.cooldown
	l.mu.Unlock()
	l.after(d, func() { l.RestoreSlot(memberID) })
}

// SpendCooldown records a counted vote for (member, item). When the pair
// is still inside its window the call fails closed and reports the
// remaining time for UI feedback.
func (l *Limiter) SpendCooldown(memberID, itemID string) (ok bool, remaining time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(memberID, itemID)
	if last, found := l.lastVote[k]; found {
		if left := l.cooldown - l.now().Sub(last); left > 0 {
			return false, left
		}
	}
	l.lastVote[k] = l.now()
	return true, 0
}

// RemainingCooldown returns how long until (member, item) may vote again,
// zero when the window has elapsed or was never started.
func (l *Limiter) RemainingCooldown(memberID, itemID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remainingLocked(memberID, itemID)
}

func (l *Limiter) remainingLocked(memberID, itemID string) time.Duration {
	last, found := l.lastVote[key(memberID, itemID)]
	if !found {
		return 0
	}
	left := l.cooldown - l.now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

// RemainingSlots returns the member's unclaimed slot count.
func (l *Limiter) RemainingSlots(memberID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	left := l.maxSlots - l.used[memberID]
	if left < 0 {
		return 0
	}
	return left
}

// CooldownSeconds projects the member's active cooldowns over the given
// item IDs as whole seconds, rounding up. Zero entries are omitted, so an
// empty map means "free to vote everywhere".
func (l *Limiter) CooldownSeconds(memberID string, itemIDs []string) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int)
	for _, itemID := range itemIDs {
		if left := l.remainingLocked(memberID, itemID); left > 0 {
			out[itemID] = int((left + time.Second - 1) / time.Second)
		}
	}
	return out
}

// DropItem forgets all cooldown records for an item. Item IDs are fresh
// per add, so a new insertion can never collide with a stale record, but
// dropping keeps the map from growing with the session.
func (l *Limiter) DropItem(itemID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	suffix := "|" + itemID
	for k := range l.lastVote {
		if len(k) > len(suffix) && k[len(k)-len(suffix):] == suffix {
			delete(l.lastVote, k)
		}
	}
}
