package platform

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ============================================
// PLATFORM WIRE TYPES
// Shapes returned by the telephony/media platform REST API
// ============================================

// Direction indicates who originated a call.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MediaSource identifies which party currently owns the audio path in a room.
type MediaSource string

const (
	MediaSourceHuman MediaSource = "human"
	MediaSourceAgent MediaSource = "agent"
	MediaSourceNone  MediaSource = ""
)

// epochMillisThreshold separates epoch-seconds from epoch-milliseconds values.
// The platform reports start times inconsistently (ISO string, epoch seconds,
// epoch milliseconds); anything below this is treated as seconds. Observed
// behavior, not a documented contract.
const epochMillisThreshold = 1e12

// Timestamp decodes the platform's ambiguous time encodings: RFC 3339 strings,
// epoch seconds, or epoch milliseconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts a JSON string (ISO-8601) or number (epoch).
// Unparseable values decode to the zero time rather than failing the record.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if s[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			t.Time = parsed
		}
		return nil
	}
	epoch, err := strconv.ParseFloat(s, 64)
	if err != nil || epoch <= 0 {
		return nil
	}
	if epoch < epochMillisThreshold {
		t.Time = time.Unix(int64(epoch), 0)
	} else {
		t.Time = time.UnixMilli(int64(epoch))
	}
	return nil
}

// MarshalJSON writes RFC 3339, or null for the zero time.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// CallRecord is one observed call at a point in time, as reported by the
// platform's list-calls endpoint. Status is the platform's free-text enum;
// normalization happens in the dialer package.
type CallRecord struct {
	SipCallID string `json:"sipCallId,omitempty"`
	ID        string `json:"id,omitempty"`

	RoomName  string    `json:"roomName,omitempty"`
	Direction Direction `json:"direction,omitempty"`
	Status    string    `json:"status,omitempty"`

	StartTime    Timestamp `json:"startTime,omitzero"`
	StartTimeISO string    `json:"startTimeISO,omitempty"`

	DurationSeconds int `json:"durationSeconds,omitempty"`

	CallerIDRaw string `json:"callerIdRaw,omitempty"`
	CalledURI   string `json:"calledUri,omitempty"`

	CallEnded         bool        `json:"callEnded,omitempty"`
	OnHold            bool        `json:"onHold,omitempty"`
	ActiveMediaSource MediaSource `json:"activeMediaSource,omitempty"`
}

// CorrelationID returns the primary key for this record: sipCallId when the
// platform has assigned one, else the generic id. Empty means the record
// cannot be correlated yet.
func (r CallRecord) CorrelationID() string {
	if r.SipCallID != "" {
		return r.SipCallID
	}
	return r.ID
}

// StartedAt resolves the record's start time across the platform's two
// reporting shapes, preferring the structured field.
func (r CallRecord) StartedAt() time.Time {
	if !r.StartTime.IsZero() {
		return r.StartTime.Time
	}
	if r.StartTimeISO != "" {
		if parsed, err := time.Parse(time.RFC3339, r.StartTimeISO); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// ============================================
// REQUEST / RESPONSE SHAPES
// ============================================

// PlaceCallRequest initiates an outbound SIP call into a room.
type PlaceCallRequest struct {
	CalledDID               string `json:"calledDid"`
	CallerIDNumber          string `json:"callerIdNumber"`
	RoomName                string `json:"roomName"`
	InitiatorName           string `json:"initiatorName"`
	StartWithInitiatorAudio bool   `json:"startWithInitiatorAudio,omitempty"`
}

// PlaceCallResult is the success payload of a place-call request.
type PlaceCallResult struct {
	SipCallID string `json:"sipCallId"`
	RoomName  string `json:"roomName"`
}

// HoldOptions configures a hold action.
type HoldOptions struct {
	Message        string `json:"message,omitempty"`
	PauseRecording bool   `json:"pauseRecording,omitempty"`
}

// PlayAudioRequest plays TTS or a URL into an active call.
type PlayAudioRequest struct {
	Type        string `json:"type"` // "tts" or "url"
	Value       string `json:"value"`
	Loop        bool   `json:"loop,omitempty"`
	Immediately bool   `json:"immediately,omitempty"`
}

// CreateRoomRequest asks the media layer for a new room. The real room name
// arrives later through the media parameter stream, not this response.
type CreateRoomRequest struct {
	Action       string `json:"action"`
	Duration     int    `json:"duration"`
	Capacity     int    `json:"capacity"`
	UserName     string `json:"userName"`
	EventType    string `json:"eventType"`
	SupportSIP   bool   `json:"supportSIP"`
	DirectionSIP string `json:"directionSIP"`
}

// JoinRoomRequest joins an existing room by its meeting ID.
type JoinRoomRequest struct {
	Action    string `json:"action"`
	UserName  string `json:"userName"`
	MeetingID string `json:"meetingID"`
}

// apiEnvelope is the platform's {success, data?, error?} response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
