package mediaroom

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================
// ROOM DISPLAY BRIDGE
// Turns the media SDK's mutating parameter blob into discrete transitions
// ============================================

// Participant is a normalized snapshot of one room member.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Muted bool   `json:"muted"`
}

// RoomParams mirrors the media SDK's parameter object at one instant. The
// SDK mutates its copy continuously; the bridge only ever sees immutable
// snapshots delivered over a channel.
type RoomParams struct {
	RoomName     string        `json:"roomName"`
	HasSocket    bool          `json:"hasSocket"`
	AlertMessage string        `json:"alertMessage,omitempty"`
	MicEnabled   bool          `json:"micEnabled"`
	Participants []Participant `json:"participants,omitempty"`
}

// Reason classifies why the room connection is gone.
type Reason string

const (
	ReasonRoomEnded   Reason = "room-ended"
	ReasonSocketError Reason = "socket-error"
)

// Disconnect carries the classified reason plus the platform's raw message.
type Disconnect struct {
	Reason  Reason
	Message string
}

// Callbacks are the discrete state-change events the bridge raises. A nil
// callback is simply skipped.
type Callbacks struct {
	OnConnectionChange   func(connected bool)
	OnMicrophoneChange   func(enabled bool)
	OnRoomNameUpdate     func(realName string)
	OnDisconnect         func(d Disconnect)
	OnParticipantsUpdate func(participants []Participant)
}

// Config tunes the bridge.
type Config struct {
	// ValidRoomName decides whether a name counts as a real, platform-issued
	// room name. Defaults to non-empty; sessions reject their own placeholder
	// prefix here so a half-created room never reads as connected.
	ValidRoomName func(name string) bool

	// AgentNamePrefix/Suffix encode the platform's naming convention for SIP
	// agent participants. Observed convention, not a documented contract,
	// hence configurable.
	AgentNamePrefix string
	AgentNameSuffix string

	// Probe optionally pulls a fresh parameter snapshot, used by the
	// liveness fallback when the mutation stream stays silent after a join.
	Probe func(ctx context.Context) (RoomParams, bool)

	LivenessInterval time.Duration // default 5s
	LivenessChecks   int           // default 6
	ConnectTimeout   time.Duration // default 30s
}

func (c *Config) applyDefaults() {
	if c.ValidRoomName == nil {
		c.ValidRoomName = func(name string) bool { return name != "" }
	}
	if c.AgentNamePrefix == "" {
		c.AgentNamePrefix = "sip"
	}
	if c.AgentNameSuffix == "" {
		c.AgentNameSuffix = "agent"
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = 5 * time.Second
	}
	if c.LivenessChecks <= 0 {
		c.LivenessChecks = 6
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
}

// Bridge diffs successive parameter snapshots and fires a callback only when
// the relevant derived value actually changes. Connection is derived, never
// taken from a single field: a valid room name, evidence of a transport
// (socket or participants), and no failure alert must all hold at once.
type Bridge struct {
	log *zap.SugaredLogger
	cfg Config
	cb  Callbacks

	mu            sync.Mutex
	connected     bool
	mic           bool
	micKnown      bool
	lastName      string
	participants  []Participant
	disconnected  bool
	connectCancel context.CancelFunc

	events chan RoomParams
}

// NewBridge creates a bridge.
func NewBridge(log *zap.SugaredLogger, cfg Config, cb Callbacks) *Bridge {
	cfg.applyDefaults()
	return &Bridge{
		log:    log,
		cfg:    cfg,
		cb:     cb,
		events: make(chan RoomParams, 64),
	}
}

// Events is the inbound snapshot channel. Whatever delivers SDK state (the
// websocket client, a test harness) writes here.
func (b *Bridge) Events() chan<- RoomParams {
	return b.events
}

// Run consumes snapshots until ctx is canceled.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-b.events:
			b.Observe(p)
		}
	}
}

// Observe applies one parameter snapshot, re-deriving every condition fresh
// and firing only the callbacks whose value changed.
func (b *Bridge) Observe(p RoomParams) {
	b.mu.Lock()

	if b.disconnected {
		b.mu.Unlock()
		return
	}

	var fire []func()

	// Room name updates propagate even before connection is confirmed; the
	// state machine needs the authoritative name for call correlation.
	if p.RoomName != "" && p.RoomName != b.lastName {
		b.lastName = p.RoomName
		name := p.RoomName
		if b.cb.OnRoomNameUpdate != nil {
			fire = append(fire, func() { b.cb.OnRoomNameUpdate(name) })
		}
	}

	connected := b.cfg.ValidRoomName(p.RoomName) &&
		(p.HasSocket || len(p.Participants) > 0) &&
		!isFailureAlert(p.AlertMessage)

	if connected != b.connected {
		b.connected = connected
		if connected {
			b.cancelConnectTimersLocked()
		}
		if b.cb.OnConnectionChange != nil {
			fire = append(fire, func() { b.cb.OnConnectionChange(connected) })
		}
		if !connected {
			d := classifyDisconnect(p.AlertMessage, p.HasSocket)
			b.disconnected = true
			if b.cb.OnDisconnect != nil {
				fire = append(fire, func() { b.cb.OnDisconnect(d) })
			}
		}
	}

	if !b.micKnown || p.MicEnabled != b.mic {
		b.micKnown = true
		b.mic = p.MicEnabled
		mic := p.MicEnabled
		if b.cb.OnMicrophoneChange != nil {
			fire = append(fire, func() { b.cb.OnMicrophoneChange(mic) })
		}
	}

	normalized := NormalizeParticipants(p.Participants)
	if !participantsEqual(normalized, b.participants) {
		b.participants = normalized
		list := make([]Participant, len(normalized))
		copy(list, normalized)
		if b.cb.OnParticipantsUpdate != nil {
			fire = append(fire, func() { b.cb.OnParticipantsUpdate(list) })
		}
	}

	b.mu.Unlock()
	for _, f := range fire {
		f()
	}
}

// Connected reports the current derived connection state.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// JoinRequested arms the connection watchdogs: a bounded liveness fallback
// that re-probes in case the mutation stream never signals, and a hard
// timeout that forces a socket-error disconnect if connection is never
// confirmed. Both are canceled the instant connection is observed.
func (b *Bridge) JoinRequested(ctx context.Context) {
	b.mu.Lock()
	if b.connectCancel != nil {
		b.connectCancel()
	}
	watchCtx, cancel := context.WithCancel(ctx)
	b.connectCancel = cancel
	b.disconnected = false
	b.mu.Unlock()

	go b.connectWatch(watchCtx)
}

func (b *Bridge) connectWatch(ctx context.Context) {
	liveness := time.NewTicker(b.cfg.LivenessInterval)
	defer liveness.Stop()
	deadline := time.NewTimer(b.cfg.ConnectTimeout)
	defer deadline.Stop()

	checks := 0
	for {
		select {
		case <-ctx.Done():
			return

		case <-liveness.C:
			if b.Connected() {
				return
			}
			checks++
			if b.cfg.Probe != nil && checks <= b.cfg.LivenessChecks {
				if p, ok := b.cfg.Probe(ctx); ok {
					b.Observe(p)
				}
			}

		case <-deadline.C:
			if b.Connected() {
				return
			}
			b.log.Warnf("[RoomBridge] Connection never confirmed within %s, forcing socket-error", b.cfg.ConnectTimeout)
			b.forceDisconnect(Disconnect{Reason: ReasonSocketError, Message: "connection timeout"})
			return
		}
	}
}

// forceDisconnect raises a disconnect regardless of the parameter stream.
func (b *Bridge) forceDisconnect(d Disconnect) {
	b.mu.Lock()
	if b.disconnected {
		b.mu.Unlock()
		return
	}
	b.disconnected = true
	wasConnected := b.connected
	b.connected = false
	b.cancelConnectTimersLocked()
	b.mu.Unlock()

	if wasConnected && b.cb.OnConnectionChange != nil {
		b.cb.OnConnectionChange(false)
	}
	if b.cb.OnDisconnect != nil {
		b.cb.OnDisconnect(d)
	}
}

func (b *Bridge) cancelConnectTimersLocked() {
	if b.connectCancel != nil {
		b.connectCancel()
		b.connectCancel = nil
	}
}

// IsAgent reports whether a participant is the platform's SIP agent, by the
// platform's id naming convention (fixed prefix and suffix).
func (b *Bridge) IsAgent(p Participant) bool {
	id := strings.ToLower(p.ID)
	return strings.HasPrefix(id, b.cfg.AgentNamePrefix) && strings.HasSuffix(id, b.cfg.AgentNameSuffix)
}

// ============================================
// CLASSIFICATION & NORMALIZATION
// ============================================

// classifyDisconnect maps the platform's free-text alert to a reason. The
// platform offers no structured disconnect codes; substring matching against
// observed messages is all there is.
func classifyDisconnect(alert string, hasSocket bool) Disconnect {
	msg := strings.ToLower(alert)
	switch {
	case strings.Contains(msg, "meeting has ended"), strings.Contains(msg, "ended"):
		return Disconnect{Reason: ReasonRoomEnded, Message: alert}
	case strings.Contains(msg, "disconnected"):
		return Disconnect{Reason: ReasonSocketError, Message: alert}
	case strings.Contains(msg, "room not found"), strings.Contains(msg, "invalid room"):
		return Disconnect{Reason: ReasonRoomEnded, Message: alert}
	case !hasSocket:
		return Disconnect{Reason: ReasonSocketError, Message: alert}
	default:
		return Disconnect{Reason: ReasonRoomEnded, Message: alert}
	}
}

// isFailureAlert reports whether an alert message indicates the room is gone
// or the transport failed.
func isFailureAlert(alert string) bool {
	if alert == "" {
		return false
	}
	msg := strings.ToLower(alert)
	return strings.Contains(msg, "ended") ||
		strings.Contains(msg, "disconnected") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "invalid room")
}

// NormalizeParticipants trims and sorts a participant list so equality is
// structural, not reference- or order-based.
func NormalizeParticipants(in []Participant) []Participant {
	out := make([]Participant, 0, len(in))
	for _, p := range in {
		p.ID = strings.TrimSpace(p.ID)
		p.Name = strings.TrimSpace(p.Name)
		if p.ID == "" && p.Name == "" {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func participantsEqual(a, b []Participant) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
