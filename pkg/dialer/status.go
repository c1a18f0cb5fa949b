package dialer

import (
	"strings"

	"github.com/birchvoice/dialer/pkg/platform"
)

// ============================================
// STATUS NORMALIZATION
// Maps the platform's free-text call statuses into local classes
// ============================================

// CallState is the locally normalized call status.
type CallState string

const (
	StateRinging    CallState = "ringing"
	StateConnecting CallState = "connecting"
	StateConnected  CallState = "connected"
	StateOnHold     CallState = "on-hold"
	StateTerminated CallState = "terminated"
	StateUnknown    CallState = "unknown"
)

// terminalStatuses is the terminated family as reported by the platform.
var terminalStatuses = map[string]bool{
	"ended":       true,
	"failed":      true,
	"completed":   true,
	"rejected":    true,
	"terminated":  true,
	"terminating": true,
}

// NormalizeStatus folds a platform status string into a CallState.
func NormalizeStatus(status string) CallState {
	switch s := strings.ToLower(strings.TrimSpace(status)); {
	case terminalStatuses[s]:
		return StateTerminated
	case s == "ringing" || s == "ring":
		return StateRinging
	case s == "connecting" || s == "initiating" || s == "setup":
		return StateConnecting
	case s == "connected" || s == "active" || s == "in-progress" || s == "answered":
		return StateConnected
	case s == "on-hold" || s == "hold" || s == "held":
		return StateOnHold
	default:
		return StateUnknown
	}
}

// IsTerminal reports whether a record belongs to the terminated family,
// either by status or by the explicit callEnded flag.
func IsTerminal(rec platform.CallRecord) bool {
	return rec.CallEnded || NormalizeStatus(rec.Status) == StateTerminated
}

// IsConnectedState reports whether a status indicates live two-way audio.
func IsConnectedState(status string) bool {
	s := NormalizeStatus(status)
	return s == StateConnected || s == StateOnHold
}
