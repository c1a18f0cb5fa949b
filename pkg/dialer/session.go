package dialer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/birchvoice/dialer/pkg/platform"
)

// ============================================
// SESSION CONTEXT
// One user's dialer state: room, history, cache, pollers
// ============================================

// PlatformAPI is the slice of the platform client the session drives.
// *platform.Client satisfies it; tests use fakes.
type PlatformAPI interface {
	ListCalls(ctx context.Context) ([]platform.CallRecord, error)
	PlaceCall(ctx context.Context, req platform.PlaceCallRequest) (*platform.PlaceCallResult, error)
	EndCall(ctx context.Context, sipCallID string) error
	Hold(ctx context.Context, sipCallID string, opts platform.HoldOptions) error
	Unhold(ctx context.Context, sipCallID string) error
}

// SessionConfig carries per-session settings.
type SessionConfig struct {
	InitiatorName  string
	CallerIDNumber string

	PollInterval time.Duration
	CacheTTL     time.Duration
	HistoryLimit int
	Room         RoomConfig
}

// Session owns every piece of mutable dialer state for one signed-in user:
// the polling cache, the call history, the single outgoing room, and the
// reconciler. Created at session start, torn down on logout. There are no
// ambient globals; everything hangs off this object.
type Session struct {
	log *zap.SugaredLogger
	api PlatformAPI
	cfg SessionConfig

	cache      *CallCache
	guard      *notifyGuard
	History    *History
	Room       *OutgoingRoom
	Reconciler *Reconciler
}

// NewSession builds a session around the given platform API, history storage,
// and notification sink.
func NewSession(log *zap.SugaredLogger, api PlatformAPI, storage Storage, notifier Notifier, cfg SessionConfig) (*Session, error) {
	history, err := NewHistory(log, storage, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load call history: %w", err)
	}

	cache := NewCallCache(api, cfg.CacheTTL)
	guard := newNotifyGuard()
	room := NewOutgoingRoom(log, cache, notifier, guard, cfg.Room)

	return &Session{
		log:        log,
		api:        api,
		cfg:        cfg,
		cache:      cache,
		guard:      guard,
		History:    history,
		Room:       room,
		Reconciler: NewReconciler(log, cache, history, room, cfg.PollInterval),
	}, nil
}

// Start begins background reconciliation.
func (s *Session) Start(ctx context.Context) {
	s.Reconciler.Start(ctx)
}

// Cache exposes the shared polling cache for collaborators (media bridge
// liveness checks read through it).
func (s *Session) Cache() *CallCache {
	return s.cache
}

// Dial validates the destination, places the call into the active outgoing
// room, and primes local state. Invalid numbers are rejected before any
// network request is issued.
func (s *Session) Dial(ctx context.Context, rawNumber string) (*platform.PlaceCallResult, error) {
	number := platform.NormalizeDigits(rawNumber)
	if !platform.ValidE164(number) {
		return nil, fmt.Errorf("invalid phone number %q: must be E.164 (+15551234567)", rawNumber)
	}

	snap := s.Room.Snapshot()
	if !snap.IsActive {
		return nil, fmt.Errorf("no active outgoing room; create one before dialing")
	}

	result, err := s.api.PlaceCall(ctx, platform.PlaceCallRequest{
		CalledDID:      number,
		CallerIDNumber: s.cfg.CallerIDNumber,
		RoomName:       snap.RoomName,
		InitiatorName:  s.cfg.InitiatorName,
	})
	if err != nil {
		return nil, err
	}

	// Server state just changed: the next poll must see it.
	s.cache.Invalidate()

	// Optimistic insert so the call shows up before the first poll finds it.
	s.History.Add(platform.CallRecord{
		SipCallID: result.SipCallID,
		RoomName:  resultRoomName(result, snap.RoomName),
		Direction: platform.DirectionOutgoing,
		Status:    string(StateConnecting),
		CalledURI: number,
		StartTime: platform.Timestamp{Time: time.Now()},
	})

	s.log.Infof("[Session] Placed call %s to %s (room: %s)", result.SipCallID, number, snap.RoomName)
	return result, nil
}

func resultRoomName(result *platform.PlaceCallResult, fallback string) string {
	if result.RoomName != "" {
		return result.RoomName
	}
	return fallback
}

// EndCall hangs up and forces the next poll to refetch.
func (s *Session) EndCall(ctx context.Context, sipCallID string) error {
	if err := s.api.EndCall(ctx, sipCallID); err != nil {
		return err
	}
	s.cache.Invalidate()
	return nil
}

// HoldCall places a call on hold and forces the next poll to refetch.
func (s *Session) HoldCall(ctx context.Context, sipCallID string, opts platform.HoldOptions) error {
	if err := s.api.Hold(ctx, sipCallID, opts); err != nil {
		return err
	}
	s.cache.Invalidate()
	return nil
}

// UnholdCall resumes a held call and forces the next poll to refetch.
func (s *Session) UnholdCall(ctx context.Context, sipCallID string) error {
	if err := s.api.Unhold(ctx, sipCallID); err != nil {
		return err
	}
	s.cache.Invalidate()
	return nil
}

// Close tears down the session: polling stops, the room is cleared without a
// confirmation prompt, and every timer dies with it.
func (s *Session) Close() {
	s.Reconciler.Stop()
	_ = s.Room.Disconnect(ReasonSessionEnd)
	s.log.Infof("[Session] Closed")
}
