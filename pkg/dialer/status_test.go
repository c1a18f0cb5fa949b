package dialer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/birchvoice/dialer/pkg/platform"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		status string
		want   CallState
	}{
		{"ringing", StateRinging},
		{"Ring", StateRinging},
		{"connecting", StateConnecting},
		{"initiating", StateConnecting},
		{"connected", StateConnected},
		{"in-progress", StateConnected},
		{"ANSWERED", StateConnected},
		{"on-hold", StateOnHold},
		{"held", StateOnHold},
		{"ended", StateTerminated},
		{"failed", StateTerminated},
		{"Terminating", StateTerminated},
		{" completed ", StateTerminated},
		{"something-new", StateUnknown},
		{"", StateUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeStatus(tt.status), "status %q", tt.status)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(platform.CallRecord{Status: "ended"}))
	assert.True(t, IsTerminal(platform.CallRecord{Status: "connected", CallEnded: true}),
		"the explicit flag wins over a stale status")
	assert.False(t, IsTerminal(platform.CallRecord{Status: "connected"}))
	assert.False(t, IsTerminal(platform.CallRecord{Status: "mystery-status"}),
		"unknown statuses are not assumed dead")
}

func TestIsConnectedState(t *testing.T) {
	assert.True(t, IsConnectedState("connected"))
	assert.True(t, IsConnectedState("on-hold"), "hold still means a live call")
	assert.False(t, IsConnectedState("ringing"))
	assert.False(t, IsConnectedState("ended"))
}
