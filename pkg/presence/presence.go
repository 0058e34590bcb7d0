// Package presence decides, per device, whether it is genuinely in use or
// merely holding a DHCP lease. The determination method is a small state
// machine selected ONCE per polling cycle, so every device in a cycle is
// judged the same way and consumers can compare confidence levels:
//
//	SmartActivity  - full DNS activity scoring (highest confidence)
//	BasicLastSeen  - binary minutes-since-last-query threshold
//	DHCPOnly       - lease exists, logs unavailable (lowest confidence)
//	LeaseOnly      - log tracking disabled by configuration
package presence

import (
	"fmt"
	"time"

	"technitium-dhcp-backend/pkg/activity"
	"technitium-dhcp-backend/pkg/leases"
	"technitium-dhcp-backend/pkg/technitium"
)

// Mode is the presence determination method active for one polling cycle.
type Mode string

const (
	// ModeLeaseOnly applies when log tracking is disabled in the options.
	ModeLeaseOnly Mode = "lease_only"

	// ModeDHCPOnly applies when the query log capability probe failed.
	// Loss of telemetry must never make tracked devices disappear, so
	// every leased device is treated as present.
	ModeDHCPOnly Mode = "dhcp_only"

	// ModeBasicLastSeen applies when logs are available but smart activity
	// is disabled, or when the log fetch came back empty.
	ModeBasicLastSeen Mode = "basic_last_seen"

	// ModeSmartActivity applies when logs are available and the activity
	// analyzer is enabled.
	ModeSmartActivity Mode = "smart_activity"
)

// NoActivitySentinel is the minutes-since-seen value reported for a device
// with no log entry at all in the lookback window.
const NoActivitySentinel = 9999

// DefaultStaleThresholdMinutes is the basic-mode staleness cutoff.
const DefaultStaleThresholdMinutes = 60

// Config is the slice of the addon options the mode choice depends on.
type Config struct {
	LogTrackingEnabled   bool
	SmartActivityEnabled bool
}

// ChooseMode selects the presence method for an entire cycle. probeAvailable
// is the query-log capability probe result; gotLogs reports whether the log
// fetch returned any entries at all.
func ChooseMode(cfg Config, probeAvailable bool, gotLogs bool) Mode {
	switch {
	case !cfg.LogTrackingEnabled:
		return ModeLeaseOnly
	case !probeAvailable:
		return ModeDHCPOnly
	case !cfg.SmartActivityEnabled:
		return ModeBasicLastSeen
	case !gotLogs:
		return ModeBasicLastSeen
	default:
		return ModeSmartActivity
	}
}

// Record is the final per-device state published to consumers: the lease
// merged with whichever presence determination was active this cycle.
type Record struct {
	Lease  leases.DeviceLease `json:"lease"`
	Method Mode               `json:"method"`

	IsStale          bool      `json:"is_stale"`
	MinutesSinceSeen int       `json:"minutes_since_seen"`
	LastSeen         time.Time `json:"last_seen"` // zero when unknown

	ActivityScore   float64 `json:"activity_score"`
	IsActivelyUsed  bool    `json:"is_actively_used"`
	ActivitySummary string  `json:"activity_summary"`

	// Breakdown is populated in smart activity mode only.
	Breakdown *activity.Breakdown `json:"score_breakdown,omitempty"`
}

// LastSeenFromLogs extracts, per client IP, the most recent parseable
// query timestamp from a shared log set.
func LastSeenFromLogs(logs []technitium.QueryLogEntry) map[string]time.Time {
	lastSeen := make(map[string]time.Time)
	for _, entry := range logs {
		ts, ok := technitium.ParseTimestamp(entry.Timestamp)
		if !ok {
			continue
		}
		if prev, seen := lastSeen[entry.ClientIPAddress]; !seen || ts.After(prev) {
			lastSeen[entry.ClientIPAddress] = ts
		}
	}
	return lastSeen
}

// Resolver fills presence records for one cycle's device list.
type Resolver struct {
	staleThresholdMinutes int
}

func NewResolver(staleThresholdMinutes int) *Resolver {
	if staleThresholdMinutes <= 0 {
		staleThresholdMinutes = DefaultStaleThresholdMinutes
	}
	return &Resolver{staleThresholdMinutes: staleThresholdMinutes}
}

// Resolve produces one Record per device using the given mode. assessments
// (keyed by IP) is consulted in smart mode only; lastSeen (keyed by IP) in
// smart and basic modes. Devices keep their input order.
func (r *Resolver) Resolve(mode Mode, devices []leases.DeviceLease,
	assessments map[string]activity.Assessment, lastSeen map[string]time.Time, now time.Time) []Record {

	records := make([]Record, 0, len(devices))
	for _, d := range devices {
		rec := Record{Lease: d, Method: mode}

		switch mode {
		case ModeSmartActivity:
			r.resolveSmart(&rec, assessments[d.IPAddress], lastSeen[d.IPAddress], now)
		case ModeBasicLastSeen:
			r.resolveBasic(&rec, lastSeen[d.IPAddress], now)
		case ModeDHCPOnly:
			rec.IsStale = false
			rec.ActivityScore = 50 // neutral
			rec.IsActivelyUsed = true
			rec.ActivitySummary = "DHCP lease active (DNS logs unavailable)"
		default: // ModeLeaseOnly
			rec.IsStale = false
			rec.ActivitySummary = "DHCP lease present (log tracking disabled)"
		}

		records = append(records, rec)
	}
	return records
}

func (r *Resolver) resolveSmart(rec *Record, assessment activity.Assessment, lastSeen time.Time, now time.Time) {
	if assessment.TotalQueries == 0 {
		// active lease but zero matching log entries
		rec.IsStale = true
		rec.MinutesSinceSeen = NoActivitySentinel
		rec.ActivitySummary = assessment.AnalysisSummary
		if rec.ActivitySummary == "" {
			rec.ActivitySummary = "No DNS activity found"
		}
		return
	}

	rec.ActivityScore = assessment.ActivityScore
	rec.IsActivelyUsed = assessment.IsActivelyUsed
	rec.ActivitySummary = assessment.AnalysisSummary
	rec.IsStale = !assessment.IsActivelyUsed
	breakdown := assessment.Breakdown
	rec.Breakdown = &breakdown

	if !lastSeen.IsZero() {
		rec.LastSeen = lastSeen
		rec.MinutesSinceSeen = minutesSince(lastSeen, now)
	}
}

func (r *Resolver) resolveBasic(rec *Record, lastSeen time.Time, now time.Time) {
	if lastSeen.IsZero() {
		rec.IsStale = true
		rec.MinutesSinceSeen = NoActivitySentinel
		rec.ActivitySummary = "No recent DNS activity"
		return
	}

	minutes := minutesSince(lastSeen, now)
	rec.LastSeen = lastSeen
	rec.MinutesSinceSeen = minutes
	rec.IsStale = minutes > r.staleThresholdMinutes
	rec.IsActivelyUsed = !rec.IsStale
	if rec.IsStale {
		rec.ActivityScore = 0
	} else {
		rec.ActivityScore = 100
	}
	rec.ActivitySummary = fmt.Sprintf("Last seen %d minutes ago", minutes)
}

func minutesSince(t, now time.Time) int {
	m := int(now.Sub(t).Minutes())
	if m < 0 {
		return 0
	}
	return m
}
