package platform

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"epoch seconds", `1735689600`, time.Unix(1735689600, 0)},
		{"epoch millis", `1735689600000`, time.UnixMilli(1735689600000)},
		{"iso string", `"2025-01-01T00:00:00Z"`, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"null degrades to zero", `null`, time.Time{}},
		{"garbage degrades to zero", `"not a time"`, time.Time{}},
		{"zero", `0`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			err := json.Unmarshal([]byte(tt.raw), &ts)
			require.NoError(t, err, "timestamp decoding never fails the record")
			assert.True(t, ts.Time.Equal(tt.want), "got %v want %v", ts.Time, tt.want)
		})
	}
}

func TestCallRecordDecodeToleratesUnknownFields(t *testing.T) {
	raw := `{
		"sipCallId": "sip-123",
		"roomName": "room-a",
		"direction": "outgoing",
		"status": "connected",
		"startTime": 1735689600,
		"someFutureField": {"nested": true}
	}`

	var rec CallRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, "sip-123", rec.SipCallID)
	assert.Equal(t, "room-a", rec.RoomName)
	assert.Equal(t, DirectionOutgoing, rec.Direction)
	assert.False(t, rec.StartedAt().IsZero())
}

func TestCorrelationIDPrefersSipCallID(t *testing.T) {
	assert.Equal(t, "sip-1", CallRecord{SipCallID: "sip-1", ID: "id-1"}.CorrelationID())
	assert.Equal(t, "id-1", CallRecord{ID: "id-1"}.CorrelationID())
	assert.Equal(t, "", CallRecord{}.CorrelationID())
}
