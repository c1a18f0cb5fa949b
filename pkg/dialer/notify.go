package dialer

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================
// DEDUPLICATED NOTIFICATIONS
// One real-world call-ending event -> at most one user-visible notification
// ============================================

// CallEndedEvent describes a detected call termination.
type CallEndedEvent struct {
	NotificationID string
	SipCallID      string
	RoomName       string
	Reason         string
	EndedAt        time.Time
}

// Notifier receives user-visible events. The UI layer implements this.
type Notifier interface {
	CallEnded(CallEndedEvent)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(CallEndedEvent)

// CallEnded calls f.
func (f NotifierFunc) CallEnded(ev CallEndedEvent) { f(ev) }

// EndNotificationID builds the deterministic dedup key for a call-ending
// event. Every detection path must use this same derivation or duplicate
// notifications will slip through. When a SIP id was never known, a random
// fallback id is generated; callers must compute the id once and reuse it.
func EndNotificationID(roomName, sipCallID string) string {
	if sipCallID != "" {
		return roomName + ":" + sipCallID
	}
	return roomName + ":unknown-" + uuid.NewString()[:8]
}

// notifyGuard is the shared already-processed set. Both the main reconciler
// and the fast-path watcher consult it before emitting; the loser of the race
// still updates its own state but stays silent.
type notifyGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// guardRetention bounds how long processed ids are remembered.
const guardRetention = 10 * time.Minute

func newNotifyGuard() *notifyGuard {
	return &notifyGuard{seen: make(map[string]time.Time)}
}

// FirstTime records id and reports whether this was its first observation.
func (g *notifyGuard) FirstTime(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for k, at := range g.seen {
		if now.Sub(at) > guardRetention {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[id]; ok {
		return false
	}
	g.seen[id] = now
	return true
}

// Len returns the number of remembered notification ids.
func (g *notifyGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
