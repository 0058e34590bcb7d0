package presence

import (
	"testing"
	"time"

	"technitium-dhcp-backend/pkg/activity"
	"technitium-dhcp-backend/pkg/leases"
	"technitium-dhcp-backend/pkg/technitium"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func TestChooseMode(t *testing.T) {
	tests := []struct {
		name           string
		cfg            Config
		probeAvailable bool
		gotLogs        bool
		expected       Mode
	}{
		{"tracking disabled wins over everything", Config{false, true}, true, true, ModeLeaseOnly},
		{"probe unavailable degrades to dhcp only", Config{true, true}, false, true, ModeDHCPOnly},
		{"smart disabled falls to basic", Config{true, false}, true, true, ModeBasicLastSeen},
		{"empty log fetch falls to basic", Config{true, true}, true, false, ModeBasicLastSeen},
		{"everything available runs smart", Config{true, true}, true, true, ModeSmartActivity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ChooseMode(tt.cfg, tt.probeAvailable, tt.gotLogs))
		})
	}
}

func TestLastSeenFromLogs(t *testing.T) {
	logs := []technitium.QueryLogEntry{
		{ClientIPAddress: "192.168.1.100", Timestamp: "2024-01-15T11:00:00Z"},
		{ClientIPAddress: "192.168.1.100", Timestamp: "2024-01-15T11:45:00Z"},
		{ClientIPAddress: "192.168.1.100", Timestamp: "2024-01-15T10:00:00Z"},
		{ClientIPAddress: "192.168.1.200", Timestamp: "not-a-timestamp"},
	}

	lastSeen := LastSeenFromLogs(logs)
	require.Len(t, lastSeen, 1)
	assert.Equal(t, time.Date(2024, 1, 15, 11, 45, 0, 0, time.UTC), lastSeen["192.168.1.100"])
}

func devices(ips ...string) []leases.DeviceLease {
	out := make([]leases.DeviceLease, 0, len(ips))
	for i, ip := range ips {
		out = append(out, leases.DeviceLease{
			MACAddress: leases.NormalizeMAC("aabbccddee0" + string(rune('0'+i))),
			IPAddress:  ip,
		})
	}
	return out
}

func TestResolveSmartActivity(t *testing.T) {
	r := NewResolver(DefaultStaleThresholdMinutes)

	assessments := map[string]activity.Assessment{
		"192.168.1.100": {
			ActivityScore:   67.5,
			IsActivelyUsed:  true,
			TotalQueries:    42,
			AnalysisSummary: "Moderate user activity - 42 queries, 30% background, 2 protocols",
			Breakdown:       activity.Breakdown{Background: 70},
		},
		// zero value on purpose for .200: no entries for that device
	}
	lastSeen := map[string]time.Time{
		"192.168.1.100": testNow.Add(-5 * time.Minute),
	}

	records := r.Resolve(ModeSmartActivity, devices("192.168.1.100", "192.168.1.200"), assessments, lastSeen, testNow)
	require.Len(t, records, 2)

	active := records[0]
	assert.Equal(t, ModeSmartActivity, active.Method)
	assert.False(t, active.IsStale)
	assert.True(t, active.IsActivelyUsed)
	assert.Equal(t, 67.5, active.ActivityScore)
	assert.Equal(t, 5, active.MinutesSinceSeen)
	require.NotNil(t, active.Breakdown)
	assert.Equal(t, 70.0, active.Breakdown.Background)

	// active lease + zero log entries: the sentinel fallback
	silent := records[1]
	assert.True(t, silent.IsStale)
	assert.Equal(t, NoActivitySentinel, silent.MinutesSinceSeen)
	assert.Equal(t, 0.0, silent.ActivityScore)
	assert.False(t, silent.IsActivelyUsed)
	assert.Nil(t, silent.Breakdown)
}

func TestResolveBasicLastSeen(t *testing.T) {
	r := NewResolver(60)

	lastSeen := map[string]time.Time{
		"192.168.1.100": testNow.Add(-10 * time.Minute),
		"192.168.1.101": testNow.Add(-90 * time.Minute),
	}

	records := r.Resolve(ModeBasicLastSeen, devices("192.168.1.100", "192.168.1.101", "192.168.1.102"), nil, lastSeen, testNow)
	require.Len(t, records, 3)

	recent := records[0]
	assert.False(t, recent.IsStale)
	assert.True(t, recent.IsActivelyUsed)
	assert.Equal(t, 100.0, recent.ActivityScore) // binary score
	assert.Equal(t, 10, recent.MinutesSinceSeen)
	assert.Equal(t, "Last seen 10 minutes ago", recent.ActivitySummary)

	old := records[1]
	assert.True(t, old.IsStale)
	assert.Equal(t, 0.0, old.ActivityScore)
	assert.Equal(t, 90, old.MinutesSinceSeen)

	never := records[2]
	assert.True(t, never.IsStale)
	assert.Equal(t, NoActivitySentinel, never.MinutesSinceSeen)
	assert.Equal(t, "No recent DNS activity", never.ActivitySummary)
	assert.True(t, never.LastSeen.IsZero())
}

func TestResolveBasicThresholdBoundary(t *testing.T) {
	r := NewResolver(60)

	// exactly at the threshold is not stale; one minute past is
	lastSeen := map[string]time.Time{
		"192.168.1.100": testNow.Add(-60 * time.Minute),
		"192.168.1.101": testNow.Add(-61 * time.Minute),
	}
	records := r.Resolve(ModeBasicLastSeen, devices("192.168.1.100", "192.168.1.101"), nil, lastSeen, testNow)
	assert.False(t, records[0].IsStale)
	assert.True(t, records[1].IsStale)
}

func TestResolveDHCPOnly(t *testing.T) {
	r := NewResolver(60)

	// no assessments, no last-seen data: telemetry is gone entirely
	records := r.Resolve(ModeDHCPOnly, devices("192.168.1.100", "192.168.1.101"), nil, nil, testNow)
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.False(t, rec.IsStale, "loss of telemetry must not mark devices stale")
		assert.True(t, rec.IsActivelyUsed)
		assert.Equal(t, 50.0, rec.ActivityScore)
		assert.Equal(t, 0, rec.MinutesSinceSeen)
	}
}

func TestResolveLeaseOnly(t *testing.T) {
	r := NewResolver(60)

	records := r.Resolve(ModeLeaseOnly, devices("192.168.1.100"), nil, nil, testNow)
	require.Len(t, records, 1)
	assert.False(t, records[0].IsStale)
	assert.Equal(t, 0.0, records[0].ActivityScore)
	assert.False(t, records[0].IsActivelyUsed)
}
