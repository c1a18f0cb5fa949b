package dialer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birchvoice/dialer/pkg/platform"
)

// recordingNotifier captures call-ended events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []CallEndedEvent
}

func (n *recordingNotifier) CallEnded(ev CallEndedEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func newTestRoom(t *testing.T, lister *fakeLister, cfg RoomConfig) (*OutgoingRoom, *recordingNotifier) {
	t.Helper()
	// background timers parked far away unless a test opts in
	if cfg.FastPollInterval == 0 {
		cfg.FastPollInterval = time.Hour
	}
	if cfg.StaleInterval == 0 {
		cfg.StaleInterval = time.Hour
	}
	if cfg.SetupTimeout == 0 {
		cfg.SetupTimeout = time.Hour
	}
	notifier := &recordingNotifier{}
	cache := NewCallCache(lister, time.Nanosecond)
	room := NewOutgoingRoom(zap.NewNop().Sugar(), cache, notifier, newNotifyGuard(), cfg)
	return room, notifier
}

func callInRoom(roomName, sipCallID, status string) platform.CallRecord {
	return platform.CallRecord{
		SipCallID: sipCallID,
		RoomName:  roomName,
		Status:    status,
		Direction: platform.DirectionOutgoing,
	}
}

func TestRoomLifecycle(t *testing.T) {
	room, notifier := newTestRoom(t, &fakeLister{}, RoomConfig{DetachGrace: time.Millisecond})

	assert.Equal(t, RoomStateAbsent, room.State())

	name, err := room.Create("Alice", true)
	require.NoError(t, err)
	assert.Contains(t, name, "outgoing_")
	assert.Equal(t, RoomStateSettingUp, room.State())

	_, err = room.Create("Bob", true)
	assert.ErrorIs(t, err, ErrRoomActive)

	room.MediaConnected()
	assert.Equal(t, RoomStateReady, room.State())

	room.SetRealName("platform-room-42")
	assert.True(t, room.MatchesName("platform-room-42"))
	assert.True(t, room.MatchesName(name), "requested name keeps matching")
	assert.False(t, room.MatchesName("someone-elses-room"))

	room.Reconcile([]platform.CallRecord{callInRoom("platform-room-42", "sip-1", "ringing")})
	assert.Equal(t, RoomStateCallAttached, room.State())
	assert.Equal(t, "sip-1", room.Snapshot().SipCallID)

	// call vanishes from the list: detach, notify, room survives
	room.Reconcile(nil)
	assert.Equal(t, RoomStateReady, room.State())
	assert.Equal(t, 1, notifier.count())
	assert.True(t, room.Snapshot().IsActive)

	require.NoError(t, room.Disconnect(ReasonUserAction))
	assert.Equal(t, RoomStateTornDown, room.State())

	// a fresh room can be created after teardown
	_, err = room.Create("Alice", true)
	require.NoError(t, err)
}

func TestRoomAttachSkipsTerminalRecords(t *testing.T) {
	room, _ := newTestRoom(t, &fakeLister{}, RoomConfig{})
	name, err := room.Create("Alice", true)
	require.NoError(t, err)
	room.MediaConnected()

	rec := callInRoom(name, "sip-old", "ended")
	rec.CallEnded = true
	room.Reconcile([]platform.CallRecord{rec})

	assert.Equal(t, RoomStateReady, room.State(), "a finished call never attaches")
	assert.False(t, room.Snapshot().HasActiveSipCall)
}

func TestRoomTerminalStatusDetachesAfterGrace(t *testing.T) {
	room, notifier := newTestRoom(t, &fakeLister{}, RoomConfig{DetachGrace: 20 * time.Millisecond})
	name, err := room.Create("Alice", true)
	require.NoError(t, err)
	room.MediaConnected()

	room.Reconcile([]platform.CallRecord{callInRoom(name, "sip-1", "connected")})
	require.Equal(t, RoomStateCallAttached, room.State())

	// the final status arrives while the call is still listed
	room.Reconcile([]platform.CallRecord{callInRoom(name, "sip-1", "ended")})
	assert.Equal(t, RoomStateCallAttached, room.State(), "grace period lets the final status render")
	assert.Zero(t, notifier.count())

	require.Eventually(t, func() bool {
		return room.State() == RoomStateReady
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, notifier.count())
}

func TestRoomConnectedCallbackFiresOnce(t *testing.T) {
	var connects int
	room, _ := newTestRoom(t, &fakeLister{}, RoomConfig{
		Callbacks: RoomCallbacks{
			OnCallConnected: func(platform.CallRecord) { connects++ },
		},
	})
	name, err := room.Create("Alice", true)
	require.NoError(t, err)
	room.MediaConnected()

	room.Reconcile([]platform.CallRecord{callInRoom(name, "sip-1", "ringing")})
	assert.Zero(t, connects)

	room.Reconcile([]platform.CallRecord{callInRoom(name, "sip-1", "connected")})
	assert.Equal(t, 1, connects)

	room.Reconcile([]platform.CallRecord{callInRoom(name, "sip-1", "connected")})
	assert.Equal(t, 1, connects, "already-connected updates stay quiet")
}

func TestRoomDuplicateEndDetectionNotifiesOnce(t *testing.T) {
	lister := &fakeLister{}
	room, notifier := newTestRoom(t, lister, RoomConfig{})
	name, err := room.Create("Alice", true)
	require.NoError(t, err)
	room.MediaConnected()

	lister.calls = []platform.CallRecord{callInRoom(name, "sip-1", "connected")}
	room.Reconcile(lister.calls)
	require.Equal(t, RoomStateCallAttached, room.State())

	// the fast path and the main reconciler both observe the call gone
	lister.calls = nil
	room.fastCheck(context.Background())
	room.Reconcile(nil)

	assert.Equal(t, 1, notifier.count(), "both detection paths, one notification")
	assert.Equal(t, RoomStateReady, room.State())
}

func TestNotifyGuardFirstTimeOnly(t *testing.T) {
	guard := newNotifyGuard()
	id := EndNotificationID("room-a", "sip-1")
	assert.Equal(t, "room-a:sip-1", id)
	assert.True(t, guard.FirstTime(id))
	assert.False(t, guard.FirstTime(id))
	assert.True(t, guard.FirstTime(EndNotificationID("room-a", "sip-2")))
}

func TestEndNotificationIDFallsBackWithoutSipID(t *testing.T) {
	a := EndNotificationID("room-a", "")
	b := EndNotificationID("room-a", "")
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b, "no sip id means no stable key; callers store the id once")
}

func TestDisconnectConfirmGate(t *testing.T) {
	allow := false
	prompts := 0
	room, _ := newTestRoom(t, &fakeLister{}, RoomConfig{
		Confirm: func(prompt string) bool {
			prompts++
			return allow
		},
	})
	name, err := room.Create("Alice", true)
	require.NoError(t, err)
	room.MediaConnected()
	room.Reconcile([]platform.CallRecord{callInRoom(name, "sip-1", "connected")})

	// declined: nothing changes
	err = room.Disconnect(ReasonUserAction)
	assert.ErrorIs(t, err, ErrDisconnectDeclined)
	assert.Equal(t, 1, prompts)
	assert.True(t, room.Snapshot().IsActive)

	// platform-asserted teardown never prompts
	require.NoError(t, room.Disconnect(ReasonRoomEnded))
	assert.Equal(t, 1, prompts)
	assert.False(t, room.Snapshot().IsActive)
}

func TestDisconnectWithoutCallNeedsNoConfirm(t *testing.T) {
	room, _ := newTestRoom(t, &fakeLister{}, RoomConfig{
		Confirm: func(string) bool {
			t.Fatal("no call attached, confirm must not be consulted")
			return false
		},
	})
	_, err := room.Create("Alice", true)
	require.NoError(t, err)
	require.NoError(t, room.Disconnect(ReasonUserAction))
}

func TestStaleRoomCleared(t *testing.T) {
	var tornDown []DisconnectReason
	room, _ := newTestRoom(t, &fakeLister{}, RoomConfig{
		Callbacks: RoomCallbacks{
			OnTeardown: func(r DisconnectReason) { tornDown = append(tornDown, r) },
		},
	})

	// joined, not self-created, media up, no call: stale once verified
	_, err := room.Create("Alice", false)
	require.NoError(t, err)
	room.MediaConnected()

	room.staleCheck()
	require.Len(t, tornDown, 1)
	assert.Equal(t, ReasonStaleRoom, tornDown[0])
	assert.False(t, room.Snapshot().IsActive)
}

func TestStaleCheckSparesSelfCreatedRooms(t *testing.T) {
	room, _ := newTestRoom(t, &fakeLister{}, RoomConfig{})
	_, err := room.Create("Alice", true)
	require.NoError(t, err)
	room.MediaConnected()

	room.staleCheck()
	assert.True(t, room.Snapshot().IsActive, "the creator's own room waits for its call")
}

func TestSetupTimeoutAbandonsRoom(t *testing.T) {
	room, _ := newTestRoom(t, &fakeLister{}, RoomConfig{SetupTimeout: 20 * time.Millisecond})
	_, err := room.Create("Alice", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return !room.Snapshot().IsActive
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, RoomStateTornDown, room.State())
}
