package dialer

import (
	"time"

	"github.com/birchvoice/dialer/pkg/platform"
)

// ============================================
// HISTORY STATISTICS
// ============================================

// HistoryStats summarizes the call log for the dashboard.
type HistoryStats struct {
	Total       int                        `json:"total"`
	ByStatus    map[CallState]int          `json:"byStatus"`
	ByDirection map[platform.Direction]int `json:"byDirection"`

	// Duration aggregates cover only calls that accumulated talk time.
	TotalDurationSeconds int     `json:"totalDurationSeconds"`
	AvgDurationSeconds   float64 `json:"avgDurationSeconds"`

	// ConnectionRate is connected-or-better calls divided by total.
	ConnectionRate float64 `json:"connectionRate"`

	Today    int `json:"today"`
	ThisWeek int `json:"thisWeek"`
}

// Stats computes aggregate counts over the current log. Daily buckets use the
// local calendar day of each record's start time.
func (h *History) Stats() HistoryStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := HistoryStats{
		ByStatus:    make(map[CallState]int),
		ByDirection: make(map[platform.Direction]int),
	}
	stats.Total = len(h.entries)

	now := h.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := dayStart.AddDate(0, 0, -6)

	withDuration := 0
	connected := 0
	for _, e := range h.entries {
		stats.ByStatus[NormalizeStatus(e.Status)]++
		if e.Direction != "" {
			stats.ByDirection[e.Direction]++
		}
		if e.DurationSeconds > 0 {
			withDuration++
			stats.TotalDurationSeconds += e.DurationSeconds
		}
		if e.DurationSeconds > 0 || IsConnectedState(e.Status) {
			connected++
		}
		if started := e.StartedAt(); !started.IsZero() {
			local := started.In(now.Location())
			if !local.Before(dayStart) {
				stats.Today++
			}
			if !local.Before(weekStart) {
				stats.ThisWeek++
			}
		}
	}

	if withDuration > 0 {
		stats.AvgDurationSeconds = float64(stats.TotalDurationSeconds) / float64(withDuration)
	}
	if stats.Total > 0 {
		stats.ConnectionRate = float64(connected) / float64(stats.Total)
	}
	return stats
}
