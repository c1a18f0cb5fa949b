package dialer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birchvoice/dialer/pkg/platform"
)

func newTestHistory(t *testing.T, limit int) *History {
	t.Helper()
	h, err := NewHistory(zap.NewNop().Sugar(), NewMemoryStorage(), limit)
	require.NoError(t, err)
	return h
}

func TestHistoryAddMergePreservesKnownFields(t *testing.T) {
	h := newTestHistory(t, 0)

	h.Add(platform.CallRecord{
		SipCallID:   "sip-1",
		RoomName:    "room-a",
		Direction:   platform.DirectionIncoming,
		Status:      "ringing",
		CallerIDRaw: `<sip:+14155551234@gw>`,
	})

	// a later, sparser poll must not erase what we already know
	h.Add(platform.CallRecord{
		SipCallID:       "sip-1",
		Status:          "connected",
		DurationSeconds: 12,
	})

	entries := h.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "connected", e.Status)
	assert.Equal(t, "room-a", e.RoomName)
	assert.Equal(t, `<sip:+14155551234@gw>`, e.CallerIDRaw)
	assert.Equal(t, 12, e.DurationSeconds)

	// zero duration never overwrites a known duration
	h.Add(platform.CallRecord{SipCallID: "sip-1", Status: "connected"})
	assert.Equal(t, 12, h.Entries()[0].DurationSeconds)
}

func TestHistoryNewestFirstAndCapped(t *testing.T) {
	h := newTestHistory(t, 3)

	for i := 0; i < 5; i++ {
		h.Add(platform.CallRecord{SipCallID: fmt.Sprintf("sip-%d", i)})
	}

	entries := h.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "sip-4", entries[0].SipCallID)
	assert.Equal(t, "sip-2", entries[2].SipCallID)
}

func TestHistoryUncorrelatableRecordIgnored(t *testing.T) {
	h := newTestHistory(t, 0)
	h.Add(platform.CallRecord{Status: "ringing"})
	assert.Empty(t, h.Entries())
}

func TestMarkMissingAsTerminated(t *testing.T) {
	h := newTestHistory(t, 0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return base }

	h.Add(platform.CallRecord{SipCallID: "sip-live", Status: "connected"})
	h.Add(platform.CallRecord{SipCallID: "sip-gone", Status: "connected"})
	h.Add(platform.CallRecord{SipCallID: "sip-done", Status: "ended", CallEnded: true})

	active := map[string]struct{}{"sip-live": {}}
	changed := h.MarkMissingAsTerminated(active)
	assert.Equal(t, 1, changed, "only the vanished non-terminal call changes")

	byID := map[string]HistoryEntry{}
	for _, e := range h.Entries() {
		byID[e.SipCallID] = e
	}
	assert.Equal(t, "connected", byID["sip-live"].Status)
	assert.Equal(t, string(StateTerminated), byID["sip-gone"].Status)
	assert.True(t, byID["sip-gone"].CallEnded)
	assert.Equal(t, base, byID["sip-gone"].EndTime)

	// idempotent: a second pass changes nothing and EndTime stays put
	h.now = func() time.Time { return base.Add(time.Minute) }
	assert.Zero(t, h.MarkMissingAsTerminated(active))
	for _, e := range h.Entries() {
		if e.SipCallID == "sip-gone" {
			assert.Equal(t, base, e.EndTime, "termination time is set once")
		}
	}
}

func TestHistoryPersistsThroughStorage(t *testing.T) {
	storage := NewMemoryStorage()

	h1, err := NewHistory(zap.NewNop().Sugar(), storage, 0)
	require.NoError(t, err)
	h1.Add(platform.CallRecord{SipCallID: "sip-1", Status: "ended"})

	h2, err := NewHistory(zap.NewNop().Sugar(), storage, 0)
	require.NoError(t, err)
	entries := h2.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "sip-1", entries[0].SipCallID)
}

func TestHistoryRemoveAndClear(t *testing.T) {
	h := newTestHistory(t, 0)
	h.Add(platform.CallRecord{SipCallID: "a"})
	h.Add(platform.CallRecord{SipCallID: "b"})
	h.Add(platform.CallRecord{SipCallID: "c"})

	h.Remove("b")
	require.Len(t, h.Entries(), 2)

	h.RemoveMany([]string{"a", "c"})
	assert.Empty(t, h.Entries())

	h.Add(platform.CallRecord{SipCallID: "d"})
	h.Clear()
	assert.Empty(t, h.Entries())
}

func TestHistoryStats(t *testing.T) {
	h := newTestHistory(t, 0)
	now := time.Date(2025, 6, 4, 15, 0, 0, 0, time.UTC) // Wednesday
	h.now = func() time.Time { return now }

	h.Add(platform.CallRecord{
		SipCallID: "sip-1", Direction: platform.DirectionOutgoing,
		Status: "ended", DurationSeconds: 60,
		StartTime: platform.Timestamp{Time: now.Add(-time.Hour)},
	})
	h.Add(platform.CallRecord{
		SipCallID: "sip-2", Direction: platform.DirectionIncoming,
		Status: "connected", DurationSeconds: 30,
		StartTime: platform.Timestamp{Time: now.Add(-48 * time.Hour)},
	})
	h.Add(platform.CallRecord{
		SipCallID: "sip-3", Direction: platform.DirectionOutgoing,
		Status: "failed",
	})

	s := h.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.ByDirection[platform.DirectionOutgoing])
	assert.Equal(t, 1, s.ByDirection[platform.DirectionIncoming])
	assert.Equal(t, 90, s.TotalDurationSeconds)
	assert.InDelta(t, 45.0, s.AvgDurationSeconds, 0.001, "average over calls with duration only")
	assert.InDelta(t, 2.0/3.0, s.ConnectionRate, 0.001)
	assert.Equal(t, 1, s.Today)
	assert.Equal(t, 2, s.ThisWeek)
}
