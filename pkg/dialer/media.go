package dialer

import (
	"strings"

	"github.com/birchvoice/dialer/pkg/mediaroom"
)

// ============================================
// MEDIA BRIDGE WIRING
// ============================================

// roomPlaceholderPrefix marks client-generated room names that have not yet
// been replaced by the platform's authoritative name. Such a name must never
// make the room look connected.
const roomPlaceholderPrefix = "outgoing_"

// ValidRoomName is the room-name predicate handed to the media bridge: a
// name counts only once it is non-empty and no longer the local placeholder.
func ValidRoomName(name string) bool {
	return name != "" && !strings.HasPrefix(name, roomPlaceholderPrefix)
}

// MediaCallbacks wires bridge events into the session's room state machine:
// the authoritative room name flows into call correlation, confirmed media
// connection arms the stale-room checks, and a classified disconnect tears
// the room down without a confirmation prompt.
func (s *Session) MediaCallbacks() mediaroom.Callbacks {
	return mediaroom.Callbacks{
		OnRoomNameUpdate: func(realName string) {
			s.Room.SetRealName(realName)
		},
		OnConnectionChange: func(connected bool) {
			if connected {
				s.Room.MediaConnected()
			}
		},
		OnDisconnect: func(d mediaroom.Disconnect) {
			reason := ReasonRoomEnded
			if d.Reason == mediaroom.ReasonSocketError {
				reason = ReasonSocketError
			}
			s.log.Infof("[Session] Media room disconnected (%s): %s", d.Reason, d.Message)
			if err := s.Room.Disconnect(reason); err != nil {
				s.log.Warnf("[Session] Room teardown after media disconnect: %v", err)
			}
		},
	}
}
