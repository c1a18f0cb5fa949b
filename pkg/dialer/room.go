package dialer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/birchvoice/dialer/pkg/platform"
)

// ============================================
// OUTGOING CALL ROOM
// Lifecycle of the client-created room that hosts an outbound call
// ============================================

// Room lifecycle states.
const (
	RoomStateAbsent       = "absent"
	RoomStateSettingUp    = "setting_up"
	RoomStateReady        = "ready"
	RoomStateCallAttached = "call_attached"
	RoomStateTornDown     = "torn_down"
)

// DisconnectReason classifies why a room is being torn down.
type DisconnectReason string

const (
	ReasonUserAction  DisconnectReason = "user-action"
	ReasonRoomEnded   DisconnectReason = "room-ended"
	ReasonSocketError DisconnectReason = "socket-error"
	ReasonStaleRoom   DisconnectReason = "stale-room"
	ReasonSessionEnd  DisconnectReason = "session-end"
)

// ErrDisconnectDeclined is returned when the user cancels a guarded disconnect.
var ErrDisconnectDeclined = errors.New("disconnect declined by user")

// ErrRoomActive is returned when Create is called while a room is already active.
var ErrRoomActive = errors.New("an outgoing room is already active")

// ConfirmFunc asks the user to confirm a dangerous disconnect. The prompt
// explains that ending the room may end the attached call.
type ConfirmFunc func(prompt string) bool

// RoomCallbacks are the UI seams of the room state machine.
type RoomCallbacks struct {
	// OnCallConnected fires when an attached call first reports a connected
	// status; the dialer UI auto-hides in response.
	OnCallConnected func(platform.CallRecord)
	// OnCallDetached fires after a call leaves the room, so transient
	// dialer/phone-number UI state can be cleared. Fires for every detach,
	// including suppressed-notification ones.
	OnCallDetached func(reason string)
	// OnTeardown fires when the room itself is cleared.
	OnTeardown func(DisconnectReason)
}

// RoomConfig tunes the room's timers.
type RoomConfig struct {
	FastPollInterval  time.Duration // existence check while a call is attached
	StaleInterval     time.Duration // background stale-room verification
	DetachGrace       time.Duration // delay so a final terminal status can render
	SetupTimeout      time.Duration // room creation must confirm within this
	Confirm           ConfirmFunc
	Callbacks         RoomCallbacks
}

func (c *RoomConfig) applyDefaults() {
	if c.FastPollInterval <= 0 {
		c.FastPollInterval = 4 * time.Second
	}
	if c.StaleInterval <= 0 {
		c.StaleInterval = 10 * time.Second
	}
	if c.DetachGrace <= 0 {
		c.DetachGrace = 2 * time.Second
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = 30 * time.Second
	}
}

// OutgoingRoom tracks the one room this client may have open for outbound
// calling, from setup through an attached SIP call to teardown. All mutation
// paths (reconciler ticks, fast-path checks, media bridge callbacks, user
// actions) funnel through the same attach/detach/notify methods, which is
// what keeps the dedup invariant intact.
type OutgoingRoom struct {
	mu  sync.Mutex
	log *zap.SugaredLogger

	cache    *CallCache
	notifier Notifier
	guard    *notifyGuard
	cfg      RoomConfig

	machine *fsm.FSM

	roomName          string
	requestedRoomName string
	displayName       string
	createdAt         time.Time
	selfCreated       bool

	isActive         bool
	isMediaConnected bool

	hasActiveSipCall bool
	sipCallID        string
	callData         *platform.CallRecord
	notifyID         string

	setupTimer  *time.Timer
	detachTimer *time.Timer
	watchCancel context.CancelFunc
}

// NewOutgoingRoom creates an idle room state machine. Create() arms it.
func NewOutgoingRoom(log *zap.SugaredLogger, cache *CallCache, notifier Notifier, guard *notifyGuard, cfg RoomConfig) *OutgoingRoom {
	cfg.applyDefaults()
	r := &OutgoingRoom{
		log:      log,
		cache:    cache,
		notifier: notifier,
		guard:    guard,
		cfg:      cfg,
	}
	r.machine = fsm.NewFSM(
		RoomStateAbsent,
		fsm.Events{
			{Name: "begin_setup", Src: []string{RoomStateAbsent, RoomStateTornDown}, Dst: RoomStateSettingUp},
			{Name: "ready", Src: []string{RoomStateSettingUp}, Dst: RoomStateReady},
			{Name: "attach", Src: []string{RoomStateReady, RoomStateSettingUp}, Dst: RoomStateCallAttached},
			{Name: "detach", Src: []string{RoomStateCallAttached}, Dst: RoomStateReady},
			{Name: "teardown", Src: []string{RoomStateSettingUp, RoomStateReady, RoomStateCallAttached}, Dst: RoomStateTornDown},
		},
		nil,
	)
	return r
}

// State returns the current lifecycle state.
func (r *OutgoingRoom) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.Current()
}

// Create arms the room for an outbound call under a locally generated
// placeholder name. The caller issues the media-layer create/join request for
// that name; the platform's authoritative name arrives later through
// SetRealName. At most one room may be active per session.
func (r *OutgoingRoom) Create(displayName string, selfCreated bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isActive {
		return "", ErrRoomActive
	}
	if err := r.machine.Event(context.Background(), "begin_setup"); err != nil {
		return "", fmt.Errorf("room setup rejected: %w", err)
	}

	placeholder := "outgoing_" + uuid.NewString()[:8]
	r.roomName = placeholder
	r.requestedRoomName = placeholder
	r.displayName = displayName
	r.createdAt = time.Now()
	r.selfCreated = selfCreated
	r.isActive = true
	r.isMediaConnected = false
	r.clearCallLocked()

	// Setup must confirm before the timeout or the room is abandoned.
	r.setupTimer = time.AfterFunc(r.cfg.SetupTimeout, func() {
		r.log.Warnf("[OutgoingRoom] Setup timed out for %s", placeholder)
		_ = r.Disconnect(ReasonSocketError)
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.watchCancel = cancel
	go r.watchLoop(ctx)

	r.log.Infof("[OutgoingRoom] Created room %s (display: %s)", placeholder, displayName)
	return placeholder, nil
}

// MediaConnected records that the media layer confirmed a live connection.
// Cancels the pending setup timeout the instant confirmation arrives.
func (r *OutgoingRoom) MediaConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActive {
		return
	}
	r.isMediaConnected = true
	r.stopTimerLocked(&r.setupTimer)
	if r.machine.Current() == RoomStateSettingUp {
		_ = r.machine.Event(context.Background(), "ready")
	}
	r.log.Infof("[OutgoingRoom] Media connected: %s", r.roomName)
}

// SetRealName replaces the placeholder with the platform's authoritative room
// name. The requested name is retained so in-flight correlation keeps
// matching on either.
func (r *OutgoingRoom) SetRealName(real string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActive || real == "" || real == r.roomName {
		return
	}
	r.log.Infof("[OutgoingRoom] Room name updated: %s -> %s", r.roomName, real)
	r.roomName = real
}

// MatchesName reports whether name refers to this room, by current or
// originally requested name.
func (r *OutgoingRoom) MatchesName(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.matchesNameLocked(name)
}

func (r *OutgoingRoom) matchesNameLocked(name string) bool {
	if name == "" || !r.isActive {
		return false
	}
	return name == r.roomName || name == r.requestedRoomName
}

// Reconcile applies one tick's worth of observed calls to the room. Three
// outcomes: attach a newly discovered call, update the already attached one
// (a newly terminal status schedules a graceful detach), or treat its absence
// as the authoritative call-ended signal. The caller passes the full
// de-duplicated set, terminal records included, so a final status is observed
// here rather than mistaken for a vanish.
func (r *OutgoingRoom) Reconcile(records []platform.CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isActive {
		return
	}

	var match *platform.CallRecord
	for i := range records {
		if r.matchesNameLocked(records[i].RoomName) {
			match = &records[i]
			break
		}
	}

	switch {
	case match != nil && !r.hasActiveSipCall:
		if !IsTerminal(*match) {
			r.attachLocked(*match)
		}
	case match != nil && r.hasActiveSipCall:
		r.updateCallLocked(*match)
	case match == nil && r.hasActiveSipCall:
		r.detachLocked("remote-ended", true)
	}
}

// attachLocked binds a discovered SIP call to the room.
func (r *OutgoingRoom) attachLocked(rec platform.CallRecord) {
	r.hasActiveSipCall = true
	r.sipCallID = rec.CorrelationID()
	data := rec
	r.callData = &data
	r.notifyID = EndNotificationID(r.roomName, r.sipCallID)
	r.stopTimerLocked(&r.setupTimer)
	_ = r.machine.Event(context.Background(), "attach")

	r.log.Infof("[OutgoingRoom] Attached call %s to room %s (status: %s)", r.sipCallID, r.roomName, rec.Status)

	if IsConnectedState(rec.Status) && r.cfg.Callbacks.OnCallConnected != nil {
		r.cfg.Callbacks.OnCallConnected(rec)
	}
}

// updateCallLocked copies changed fields from a fresh observation of the
// attached call. A newly terminal status schedules detachment after a short
// grace delay so the final status can render.
func (r *OutgoingRoom) updateCallLocked(rec platform.CallRecord) {
	prev := r.callData
	wasConnected := prev != nil && IsConnectedState(prev.Status)
	wasTerminal := prev != nil && IsTerminal(*prev)

	if prev != nil {
		if rec.Status != "" {
			prev.Status = rec.Status
		}
		if rec.DurationSeconds > 0 {
			prev.DurationSeconds = rec.DurationSeconds
		}
		prev.OnHold = rec.OnHold
		prev.CallEnded = prev.CallEnded || rec.CallEnded
		if rec.ActiveMediaSource != platform.MediaSourceNone {
			prev.ActiveMediaSource = rec.ActiveMediaSource
		}
		if r.sipCallID == "" && rec.CorrelationID() != "" {
			r.sipCallID = rec.CorrelationID()
			r.notifyID = EndNotificationID(r.roomName, r.sipCallID)
		}
	}

	if !wasConnected && IsConnectedState(rec.Status) && r.cfg.Callbacks.OnCallConnected != nil {
		r.cfg.Callbacks.OnCallConnected(rec)
	}

	if !wasTerminal && IsTerminal(rec) && r.detachTimer == nil {
		reason := "status:" + rec.Status
		r.log.Infof("[OutgoingRoom] Call %s reached terminal status %q, detaching after grace", r.sipCallID, rec.Status)
		r.detachTimer = time.AfterFunc(r.cfg.DetachGrace, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.detachTimer = nil
			if r.hasActiveSipCall {
				r.detachLocked(reason, true)
			}
		})
	}
}

// detachLocked removes the call from the room (the room stays active) and,
// when notify is set, emits the deduplicated call-ended notification. A
// detection path that lost the dedup race still detaches but stays silent.
func (r *OutgoingRoom) detachLocked(reason string, notify bool) {
	sipCallID := r.sipCallID
	notifyID := r.notifyID
	roomName := r.roomName

	r.clearCallLocked()
	_ = r.machine.Event(context.Background(), "detach")

	if r.cfg.Callbacks.OnCallDetached != nil {
		r.cfg.Callbacks.OnCallDetached(reason)
	}

	if !notify || r.notifier == nil {
		return
	}
	if !r.guard.FirstTime(notifyID) {
		r.log.Debugf("[OutgoingRoom] Suppressed duplicate call-ended notification: %s", notifyID)
		return
	}
	metricCallEndedNotifications.Inc()
	r.log.Infof("[OutgoingRoom] Call ended: %s (room: %s, reason: %s)", sipCallID, roomName, reason)
	r.notifier.CallEnded(CallEndedEvent{
		NotificationID: notifyID,
		SipCallID:      sipCallID,
		RoomName:       roomName,
		Reason:         reason,
		EndedAt:        time.Now(),
	})
}

func (r *OutgoingRoom) clearCallLocked() {
	r.hasActiveSipCall = false
	r.sipCallID = ""
	r.callData = nil
	r.stopTimerLocked(&r.detachTimer)
}

// Disconnect tears the room down. A user-initiated disconnect of a
// self-created room with a live call goes through the confirm gate first;
// platform-asserted teardown (room ended, socket error) is never blockable.
func (r *OutgoingRoom) Disconnect(reason DisconnectReason) error {
	r.mu.Lock()

	if !r.isActive {
		r.mu.Unlock()
		return nil
	}

	if reason == ReasonUserAction && r.selfCreated && r.hasActiveSipCall && r.cfg.Confirm != nil {
		confirm := r.cfg.Confirm
		r.mu.Unlock()
		if !confirm("Ending this room may end the active call. Disconnect anyway?") {
			return ErrDisconnectDeclined
		}
		r.mu.Lock()
		if !r.isActive {
			r.mu.Unlock()
			return nil
		}
	}

	r.teardownLocked(reason)
	r.mu.Unlock()
	return nil
}

// teardownLocked unconditionally clears the room. Nothing is preserved: when
// the platform says the room ended, there is no state worth keeping.
func (r *OutgoingRoom) teardownLocked(reason DisconnectReason) {
	r.log.Infof("[OutgoingRoom] Tearing down room %s (reason: %s)", r.roomName, reason)

	r.stopTimerLocked(&r.setupTimer)
	r.stopTimerLocked(&r.detachTimer)
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}

	if r.hasActiveSipCall {
		r.detachLocked(string(reason), true)
	}

	r.isActive = false
	r.isMediaConnected = false
	r.roomName = ""
	r.requestedRoomName = ""
	r.displayName = ""
	r.selfCreated = false
	_ = r.machine.Event(context.Background(), "teardown")

	if r.cfg.Callbacks.OnTeardown != nil {
		r.cfg.Callbacks.OnTeardown(reason)
	}
}

func (r *OutgoingRoom) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// ============================================
// FAST-PATH END DETECTION & STALE-ROOM CHECK
// ============================================

// watchLoop runs the room's two background timers: the fast existence check
// (active only while a call is attached) and the periodic stale-room
// verification. Both race harmlessly with the main reconciler because every
// path honors the shared dedup set.
func (r *OutgoingRoom) watchLoop(ctx context.Context) {
	fast := time.NewTicker(r.cfg.FastPollInterval)
	stale := time.NewTicker(r.cfg.StaleInterval)
	defer fast.Stop()
	defer stale.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fast.C:
			r.fastCheck(ctx)
		case <-stale.C:
			r.staleCheck()
		}
	}
}

// fastCheck is the 4-second end-of-call detector: a light existence check by
// room name or exact SIP call id against the shared cache. Absence runs the
// same detach-and-notify path as the reconciler's third outcome.
func (r *OutgoingRoom) fastCheck(ctx context.Context) {
	r.mu.Lock()
	if !r.isActive || !r.hasActiveSipCall {
		r.mu.Unlock()
		return
	}
	sipCallID := r.sipCallID
	r.mu.Unlock()

	calls, err := r.cache.Calls(ctx)
	if err != nil {
		// The main reconciler accounts for fetch failures; the fast path
		// just waits for the next tick.
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActiveSipCall {
		return
	}
	for _, c := range calls {
		if IsTerminal(c) {
			continue
		}
		if r.matchesNameLocked(c.RoomName) || (sipCallID != "" && c.CorrelationID() == sipCallID) {
			return
		}
	}
	r.log.Infof("[OutgoingRoom] Fast path detected call %s gone", sipCallID)
	r.detachLocked("remote-ended", true)
}

// staleCheck force-clears a room the client believes is connected but that
// has no attached call, no setup in flight, and was not self-created.
// Absence-over-time is the only closure signal the platform offers.
func (r *OutgoingRoom) staleCheck() {
	r.mu.Lock()

	stale := r.isActive &&
		r.isMediaConnected &&
		!r.hasActiveSipCall &&
		r.machine.Current() != RoomStateSettingUp &&
		!r.selfCreated

	if !stale {
		r.mu.Unlock()
		return
	}
	r.log.Warnf("[OutgoingRoom] Room %s has no corroborating activity, clearing as stale", r.roomName)
	r.teardownLocked(ReasonStaleRoom)
	r.mu.Unlock()
}

// ============================================
// SNAPSHOT
// ============================================

// RoomSnapshot is a copy of the room's user-visible state.
type RoomSnapshot struct {
	State             string               `json:"state"`
	RoomName          string               `json:"roomName"`
	RequestedRoomName string               `json:"requestedRoomName"`
	DisplayName       string               `json:"displayName"`
	CreatedAt         time.Time            `json:"createdAt"`
	IsActive          bool                 `json:"isActive"`
	IsMediaConnected  bool                 `json:"isMediaConnected"`
	HasActiveSipCall  bool                 `json:"hasActiveSipCall"`
	SipCallID         string               `json:"sipCallId,omitempty"`
	CallData          *platform.CallRecord `json:"callData,omitempty"`
}

// Snapshot returns a copy of the current room state for rendering.
func (r *OutgoingRoom) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RoomSnapshot{
		State:             r.machine.Current(),
		RoomName:          r.roomName,
		RequestedRoomName: r.requestedRoomName,
		DisplayName:       r.displayName,
		CreatedAt:         r.createdAt,
		IsActive:          r.isActive,
		IsMediaConnected:  r.isMediaConnected,
		HasActiveSipCall:  r.hasActiveSipCall,
		SipCallID:         r.sipCallID,
	}
	if r.callData != nil {
		data := *r.callData
		snap.CallData = &data
	}
	return snap
}
