package dialer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/birchvoice/dialer/pkg/platform"
)

// ============================================
// CALL LIST RECONCILER
// Periodically re-derives local truth from the platform's call list
// ============================================

// DefaultPollInterval is the main reconciliation period.
const DefaultPollInterval = 8 * time.Second

// MaxConsecutiveFetchErrors is the hard-stop threshold: after this many
// failed polls in a row the reconciler halts itself and must be restarted.
const MaxConsecutiveFetchErrors = 3

// Reconciler polls the full call list on a fixed period, classifies records
// into active and terminated, diffs against the previous local snapshot, and
// propagates termination into history and the outgoing room.
type Reconciler struct {
	log      *zap.SugaredLogger
	cache    *CallCache
	history  *History
	room     *OutgoingRoom
	interval time.Duration

	// OnHalt is invoked when the 3-strikes hard stop fires, so the UI can
	// tell the user polling has stopped and offer a manual restart.
	OnHalt func(err error)

	mu              sync.Mutex
	current         []platform.CallRecord
	version         uint64
	consecutiveErrs int
	running         bool
	cancel          context.CancelFunc
}

// NewReconciler wires the reconciler to its collaborators. room may be nil
// when no outgoing room exists for the session. interval <= 0 selects
// DefaultPollInterval.
func NewReconciler(log *zap.SugaredLogger, cache *CallCache, history *History, room *OutgoingRoom, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Reconciler{
		log:      log,
		cache:    cache,
		history:  history,
		room:     room,
		interval: interval,
	}
}

// Start begins periodic polling. Restarting after a hard stop resets the
// failure counter. Calling Start while running is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.consecutiveErrs = 0
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.log.Infof("[Reconciler] Polling started (interval: %s)", r.interval)
	go r.loop(loopCtx)
}

// Stop cancels the polling loop.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Reconciler) stopLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.running = false
}

// Running reports whether the polling loop is live.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Reconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Tick(ctx); err != nil {
			r.mu.Lock()
			errs := r.consecutiveErrs
			r.mu.Unlock()
			if errs >= MaxConsecutiveFetchErrors {
				r.log.Errorf("[Reconciler] %d consecutive fetch failures, halting: %v", errs, err)
				r.Stop()
				if r.OnHalt != nil {
					r.OnHalt(err)
				}
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one reconciliation cycle. Fetch failures are counted toward the
// hard stop but not retried within the cycle; the next scheduled tick is the
// retry. Exposed so callers and tests can drive cycles directly.
func (r *Reconciler) Tick(ctx context.Context) error {
	calls, err := r.cache.Calls(ctx)
	if err != nil {
		metricPollErrors.Inc()
		r.mu.Lock()
		r.consecutiveErrs++
		errs := r.consecutiveErrs
		r.mu.Unlock()
		r.log.Warnf("[Reconciler] Fetch failed (%d consecutive): %v", errs, err)
		return err
	}

	r.mu.Lock()
	r.consecutiveErrs = 0
	r.mu.Unlock()
	metricPolls.Inc()

	// History is a superset: every correlatable record is recorded,
	// terminal or not.
	for _, rec := range calls {
		if rec.CorrelationID() != "" {
			r.history.Add(rec)
		}
	}

	deduped := r.dedupe(calls)

	// Active is deduplicated over non-terminal records only, so a stale
	// terminal duplicate never shadows a live observation of the same call.
	nonTerminal := make([]platform.CallRecord, 0, len(calls))
	for _, rec := range calls {
		if !IsTerminal(rec) {
			nonTerminal = append(nonTerminal, rec)
		}
	}
	active := r.dedupe(nonTerminal)
	activeIDs := make(map[string]struct{}, len(active))
	for _, rec := range active {
		if key := rec.CorrelationID(); key != "" {
			activeIDs[key] = struct{}{}
		}
	}

	// Calls that vanished without an explicit terminal status are closed
	// out here.
	r.history.MarkMissingAsTerminated(activeIDs)

	r.replaceSnapshotIfChanged(active)

	if r.room != nil {
		r.room.Reconcile(deduped)
	}
	return nil
}

// dedupe collapses records sharing a correlation key; the first observation
// wins and later duplicates are dropped. Records with no key yet pass through
// untouched.
func (r *Reconciler) dedupe(calls []platform.CallRecord) []platform.CallRecord {
	out := make([]platform.CallRecord, 0, len(calls))
	seen := make(map[string]struct{}, len(calls))
	for _, rec := range calls {
		key := rec.CorrelationID()
		if key == "" {
			out = append(out, rec)
			continue
		}
		if _, dup := seen[key]; dup {
			r.log.Debugf("[Reconciler] Dropping duplicate record for %s", key)
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// replaceSnapshotIfChanged swaps the current-calls snapshot only when the new
// set differs structurally from the old one in {sipCallId, status, roomName}.
// This is a render-thrash guard: unchanged content keeps the same reference.
func (r *Reconciler) replaceSnapshotIfChanged(active []platform.CallRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snapshotEqual(r.current, active) {
		return
	}
	r.current = active
	r.version++
	metricSnapshotReplacements.Inc()
}

func snapshotEqual(a, b []platform.CallRecord) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].SipCallID != b[i].SipCallID ||
			a[i].Status != b[i].Status ||
			a[i].RoomName != b[i].RoomName {
			return false
		}
	}
	return true
}

// CurrentCalls returns the live snapshot. Callers must treat it as read-only;
// the reference only changes when content changes.
func (r *Reconciler) CurrentCalls() []platform.CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// SnapshotVersion increments every time the snapshot is replaced.
func (r *Reconciler) SnapshotVersion() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// ConsecutiveErrors returns the current failure streak.
func (r *Reconciler) ConsecutiveErrors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutiveErrs
}
