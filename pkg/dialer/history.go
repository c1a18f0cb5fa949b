package dialer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/birchvoice/dialer/pkg/platform"
)

// ============================================
// CALL HISTORY STORE
// Bounded, persisted, append-only log of observed calls
// ============================================

// DefaultHistoryLimit caps the number of retained entries.
const DefaultHistoryLimit = 100

// HistoryEntry is the persisted superset of a CallRecord.
type HistoryEntry struct {
	platform.CallRecord

	EndTime    time.Time `json:"endTime,omitzero"`
	RecordedAt time.Time `json:"recordedAt"`
}

// History is the bounded call log. It is updated unconditionally on every
// poll (history is a superset of live state) and never loses a known field:
// later observations merge into existing entries rather than replacing them.
type History struct {
	mu      sync.Mutex
	log     *zap.SugaredLogger
	storage Storage
	limit   int
	entries []HistoryEntry
	now     func() time.Time
}

// NewHistory creates a history store backed by storage, loading whatever the
// previous session persisted. limit <= 0 selects DefaultHistoryLimit.
func NewHistory(log *zap.SugaredLogger, storage Storage, limit int) (*History, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	h := &History{
		log:     log,
		storage: storage,
		limit:   limit,
		now:     time.Now,
	}
	if storage != nil {
		entries, err := storage.Load(context.Background())
		if err != nil {
			return nil, err
		}
		if len(entries) > limit {
			entries = entries[:limit]
		}
		h.entries = entries
	}
	return h, nil
}

// Add upserts a record by sipCallId (fallback id). New non-empty values win;
// previously known fields survive a later, sparser poll. New entries are
// prepended so the list stays newest-first, then truncated to the cap.
func (h *History) Add(rec platform.CallRecord) {
	key := rec.CorrelationID()
	if key == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.entries {
		if h.entries[i].CorrelationID() == key {
			mergeRecord(&h.entries[i], rec)
			h.persistLocked()
			return
		}
	}

	entry := HistoryEntry{CallRecord: rec, RecordedAt: h.now()}
	h.entries = append([]HistoryEntry{entry}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
	h.persistLocked()
}

// MarkTerminated closes out a single entry by its correlation key.
func (h *History) MarkTerminated(sipCallID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.entries {
		if h.entries[i].CorrelationID() == sipCallID {
			h.terminateLocked(&h.entries[i])
			h.persistLocked()
			return
		}
	}
}

// MarkMissingAsTerminated closes out every non-terminal entry whose key is
// absent from activeIDs. Calls that silently vanish from the live API, rather
// than transitioning through an explicit terminal status, are still correctly
// recorded as terminated. Idempotent. Returns the number of entries changed.
func (h *History) MarkMissingAsTerminated(activeIDs map[string]struct{}) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := 0
	for i := range h.entries {
		e := &h.entries[i]
		if _, active := activeIDs[e.CorrelationID()]; active {
			continue
		}
		if IsTerminal(e.CallRecord) {
			continue
		}
		h.terminateLocked(e)
		changed++
	}
	if changed > 0 {
		h.log.Infof("[History] Marked %d vanished calls as terminated", changed)
		h.persistLocked()
	}
	return changed
}

// terminateLocked applies the terminal transition. EndTime is only set once.
func (h *History) terminateLocked(e *HistoryEntry) {
	e.Status = string(StateTerminated)
	e.CallEnded = true
	if e.EndTime.IsZero() {
		e.EndTime = h.now()
	}
}

// Remove deletes one entry by correlation key.
func (h *History) Remove(sipCallID string) {
	h.RemoveMany([]string{sipCallID})
}

// RemoveMany deletes a batch of entries by correlation key.
func (h *History) RemoveMany(ids []string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.entries[:0]
	for _, e := range h.entries {
		if _, gone := drop[e.CorrelationID()]; !gone {
			kept = append(kept, e)
		}
	}
	h.entries = kept
	h.persistLocked()
}

// Clear empties the log.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.persistLocked()
}

// Entries returns a copy of the log, newest first.
func (h *History) Entries() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// persistLocked writes the current log through the storage collaborator.
// Persistence failures are logged, not propagated: the in-memory log remains
// the source of truth for the session.
func (h *History) persistLocked() {
	if h.storage == nil {
		return
	}
	snapshot := make([]HistoryEntry, len(h.entries))
	copy(snapshot, h.entries)
	if err := h.storage.Save(context.Background(), snapshot); err != nil {
		h.log.Warnf("[History] Failed to persist %d entries: %v", len(snapshot), err)
	}
}

// mergeRecord folds a newly observed record into an existing entry.
// Non-empty new values win; empty ones never erase known data.
func mergeRecord(e *HistoryEntry, rec platform.CallRecord) {
	if rec.SipCallID != "" {
		e.SipCallID = rec.SipCallID
	}
	if rec.ID != "" {
		e.ID = rec.ID
	}
	if rec.RoomName != "" {
		e.RoomName = rec.RoomName
	}
	if rec.Direction != "" {
		e.Direction = rec.Direction
	}
	if rec.Status != "" {
		e.Status = rec.Status
	}
	if !rec.StartTime.IsZero() {
		e.StartTime = rec.StartTime
	}
	if rec.StartTimeISO != "" {
		e.StartTimeISO = rec.StartTimeISO
	}
	// Duration is authoritative once non-zero.
	if rec.DurationSeconds > 0 {
		e.DurationSeconds = rec.DurationSeconds
	}
	if rec.CallerIDRaw != "" {
		e.CallerIDRaw = rec.CallerIDRaw
	}
	if rec.CalledURI != "" {
		e.CalledURI = rec.CalledURI
	}
	if rec.CallEnded {
		e.CallEnded = true
	}
	e.OnHold = rec.OnHold
	if rec.ActiveMediaSource != platform.MediaSourceNone {
		e.ActiveMediaSource = rec.ActiveMediaSource
	}
}
