// Package tracker contains the reconciliation coordinator: the component
// driving one polling cycle end-to-end (fetch leases, normalize, probe log
// capability, fetch logs, score activity, resolve presence, diff the device
// set) and exposing a stable device view to consumers.
//
// The retained snapshot and presence records are the only shared mutable
// state. They are replaced wholesale at the end of a fully successful cycle;
// a failed cycle leaves them untouched, so readers always observe either the
// fully-previous or fully-current view, never a half-updated one.
package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"technitium-dhcp-backend/pkg/activity"
	"technitium-dhcp-backend/pkg/leases"
	"technitium-dhcp-backend/pkg/logger"
	"technitium-dhcp-backend/pkg/presence"
	"technitium-dhcp-backend/pkg/technitium"
	"technitium-dhcp-backend/pkg/trackerdb"
)

// Log fetch limit heuristic: more devices means more queries per window.
const (
	baseLogLimit   = 2000
	logLimitPerTen = 200
	maxLogLimit    = 10000
)

const (
	// lookback for the last-seen scan when smart activity is off
	basicLookback = 6 * time.Hour
	// smart analysis fetches at least this much history even for short windows
	minSmartLookback = 4 * time.Hour
	// floor for misconfigured poll intervals
	minPollInterval = 30 * time.Second
)

// LeaseSource supplies the raw lease list. Implemented by the Technitium
// API client and by the dnsmasq lease-file source.
type LeaseSource interface {
	GetDhcpLeases(ctx context.Context) ([]technitium.RawLease, error)
}

// LogSource supplies DNS query logs plus the capability probe gating their
// use. The probe must be safe to run every cycle.
type LogSource interface {
	TestQueryLogAccess(ctx context.Context) technitium.LogCapability
	GetQueryLogs(ctx context.Context, start, end time.Time, limit int) ([]technitium.QueryLogEntry, error)
}

// Config is the coordinator tuning derived from the addon options.
type Config struct {
	PollInterval           time.Duration
	LogTrackingEnabled     bool
	SmartActivityEnabled   bool
	StaleThresholdMinutes  int
	ActivityScoreThreshold float64
	AnalysisWindow         time.Duration
}

// Delta is the device-set membership change between two successful cycles.
// MACs are normalized and sorted.
type Delta struct {
	New     []string `json:"new_devices"`
	Removed []string `json:"removed_devices"`
}

// Coordinator owns the polling loop and the retained device view.
type Coordinator struct {
	cfg         Config
	leaseSource LeaseSource
	logSource   LogSource
	normalizer  *leases.Normalizer
	analyzer    *activity.Analyzer
	resolver    *presence.Resolver
	db          *trackerdb.DeviceTrackerDB // may be nil when history is disabled
	logger      *logger.CustomLogger

	// posted after every successful cycle commit; may be nil
	notifyCh chan<- struct{}

	lock      sync.Mutex
	records   []presence.Record
	snapshot  map[string]struct{}
	lastDelta Delta

	// size-1 token guaranteeing at most one in-flight cycle
	cycleToken chan struct{}

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewCoordinator(cfg Config, leaseSource LeaseSource, logSource LogSource,
	normalizer *leases.Normalizer, db *trackerdb.DeviceTrackerDB,
	notifyCh chan<- struct{}, log *logger.CustomLogger) *Coordinator {

	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}
	if cfg.AnalysisWindow <= 0 {
		cfg.AnalysisWindow = activity.DefaultAnalysisWindowMinutes * time.Minute
	}
	if cfg.ActivityScoreThreshold <= 0 {
		cfg.ActivityScoreThreshold = activity.DefaultScoreThreshold
	}

	c := &Coordinator{
		cfg:         cfg,
		leaseSource: leaseSource,
		logSource:   logSource,
		normalizer:  normalizer,
		analyzer:    activity.NewAnalyzer(cfg.ActivityScoreThreshold, cfg.AnalysisWindow),
		resolver:    presence.NewResolver(cfg.StaleThresholdMinutes),
		db:          db,
		logger:      log,
		notifyCh:    notifyCh,
		snapshot:    make(map[string]struct{}),
		cycleToken:  make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	c.cycleToken <- struct{}{}
	return c
}

// DynamicLogLimit sizes the log fetch for a device count: 2000 base entries
// plus 200 per 10 devices, capped at 10000.
func DynamicLogLimit(deviceCount int) int {
	multiplier := deviceCount / 10
	if multiplier < 1 {
		multiplier = 1
	}
	limit := baseLogLimit + multiplier*logLimitPerTen
	if limit > maxLogLimit {
		return maxLogLimit
	}
	return limit
}

// RunCycle executes one polling cycle. Any collaborator fetch error aborts
// the whole cycle and leaves the retained view untouched. A cycle requested
// while another is in flight is skipped, not queued.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	select {
	case <-c.cycleToken:
		defer func() { c.cycleToken <- struct{}{} }()
	default:
		c.logger.Warn("Polling cycle still in flight, skipping this one")
		return nil
	}

	return c.runCycleLocked(ctx, time.Now())
}

func (c *Coordinator) runCycleLocked(ctx context.Context, now time.Time) error {
	raw, err := c.leaseSource.GetDhcpLeases(ctx)
	if err != nil {
		return fmt.Errorf("lease fetch failed, keeping previous device view: %w", err)
	}

	devices, stats := c.normalizer.Normalize(raw)
	if stats.Skipped > 0 || stats.Filtered > 0 {
		c.logger.Infof("Normalized %d leases into %d devices (%d skipped, %d filtered out)",
			len(raw), len(devices), stats.Skipped, stats.Filtered)
	}

	var logs []technitium.QueryLogEntry
	probeAvailable := false
	if c.cfg.LogTrackingEnabled {
		capability := c.logSource.TestQueryLogAccess(ctx)
		probeAvailable = capability.Available
		if !capability.Available {
			c.logger.Warnf("Query logs unavailable (%s): falling back to DHCP-only presence for this cycle",
				capability.Message)
		} else {
			limit := DynamicLogLimit(len(devices))
			if limit == maxLogLimit {
				c.logger.Infof("Log fetch limit capped at %d entries for %d devices", limit, len(devices))
			}
			start := now.Add(-c.logLookback())
			logs, err = c.logSource.GetQueryLogs(ctx, start, now, limit)
			if err != nil {
				return fmt.Errorf("query log fetch failed, keeping previous device view: %w", err)
			}
		}
	}

	mode := presence.ChooseMode(presence.Config{
		LogTrackingEnabled:   c.cfg.LogTrackingEnabled,
		SmartActivityEnabled: c.cfg.SmartActivityEnabled,
	}, probeAvailable, len(logs) > 0)

	var assessments map[string]activity.Assessment
	if mode == presence.ModeSmartActivity {
		ips := make([]string, 0, len(devices))
		for _, d := range devices {
			ips = append(ips, d.IPAddress)
		}
		assessments = c.analyzer.AnalyzeBatch(logs, ips, now)
	}

	lastSeen := presence.LastSeenFromLogs(logs)
	records := c.resolver.Resolve(mode, devices, assessments, lastSeen, now)

	current := leases.MACSet(devices)
	delta := c.commit(records, current)

	c.logger.Infof("Cycle complete: %d devices via %s (%d new, %d removed)",
		len(records), mode, len(delta.New), len(delta.Removed))

	c.persistDevices(records, now)
	c.notify()
	return nil
}

// commit replaces the retained view wholesale and returns the set delta.
func (c *Coordinator) commit(records []presence.Record, current map[string]struct{}) Delta {
	c.lock.Lock()
	defer c.lock.Unlock()

	var delta Delta
	for mac := range current {
		if _, ok := c.snapshot[mac]; !ok {
			delta.New = append(delta.New, mac)
		}
	}
	for mac := range c.snapshot {
		if _, ok := current[mac]; !ok {
			delta.Removed = append(delta.Removed, mac)
		}
	}
	sort.Strings(delta.New)
	sort.Strings(delta.Removed)

	c.records = records
	c.snapshot = current
	c.lastDelta = delta
	return delta
}

// persistDevices upserts the cycle's devices into the history database.
// History write failures are logged but never fail the cycle.
func (c *Coordinator) persistDevices(records []presence.Record, now time.Time) {
	if c.db == nil {
		return
	}
	for _, rec := range records {
		err := c.db.UpsertDevice(trackerdb.TrackedDevice{
			MacAddr:  rec.Lease.MACAddress,
			Hostname: rec.Lease.Hostname,
			IPAddr:   rec.Lease.IPAddress,
			LastSeen: now,
		})
		if err != nil {
			c.logger.Warnf("Failed to record device %s in history DB: %s", rec.Lease.MACAddress, err.Error())
		}
	}
}

func (c *Coordinator) notify() {
	if c.notifyCh == nil {
		return
	}
	select {
	case c.notifyCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) logLookback() time.Duration {
	if c.cfg.SmartActivityEnabled {
		if c.cfg.AnalysisWindow > minSmartLookback {
			return c.cfg.AnalysisWindow
		}
		return minSmartLookback
	}
	return basicLookback
}

// CurrentRecords returns a copy of the most recent successful cycle's
// per-device records.
func (c *Coordinator) CurrentRecords() []presence.Record {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := make([]presence.Record, len(c.records))
	copy(out, c.records)
	return out
}

// LastDelta returns the device-set change computed by the most recent
// successful cycle.
func (c *Coordinator) LastDelta() Delta {
	c.lock.Lock()
	defer c.lock.Unlock()
	return Delta{
		New:     append([]string(nil), c.lastDelta.New...),
		Removed: append([]string(nil), c.lastDelta.Removed...),
	}
}

// Start launches the periodic polling loop: one immediate cycle, then one
// per poll interval. A cycle error is logged and the loop keeps going.
func (c *Coordinator) Start(ctx context.Context) {
	go func() {
		defer close(c.doneCh)

		if err := c.RunCycle(ctx); err != nil {
			c.logger.Warnf("Polling cycle failed: %s", err.Error())
		}

		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.RunCycle(ctx); err != nil {
					c.logger.Warnf("Polling cycle failed: %s", err.Error())
				}
			}
		}
	}()
}

// Stop terminates the polling loop between cycles and waits for it to exit.
// There is no mid-cycle cancellation beyond the context passed to Start.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	<-c.doneCh
}
