package leases

import (
	"testing"
	"time"

	"technitium-dhcp-backend/pkg/ipfilter"
	"technitium-dhcp-backend/pkg/logger"
	"technitium-dhcp-backend/pkg/technitium"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"aa-bb-cc-dd-ee-ff", "AA:BB:CC:DD:EE:FF"},
		{"AABBCCDDEEFF", "AA:BB:CC:DD:EE:FF"},
		{"aabbccddeeff", "AA:BB:CC:DD:EE:FF"},
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF"},
		{"AA:BB:CC:DD:EE:FF", "AA:BB:CC:DD:EE:FF"},
		{"", ""},
		// defensive fallback: unexpected lengths pass through uppercased
		{"aabb.ccdd.eeff", "AABB.CCDD.EEFF"},
		{"aa:bb:cc", "AA:BB:CC"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeMAC(tt.input))
		})
	}
}

func TestNormalizeMACIdempotent(t *testing.T) {
	for _, input := range []string{"aa-bb-cc-dd-ee-ff", "AABBCCDDEEFF", "aa:bb:cc:dd:ee:ff"} {
		once := NormalizeMAC(input)
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", once)
		assert.Equal(t, once, NormalizeMAC(once))
	}
}

func newTestNormalizer(mode ipfilter.Mode, ranges string) *Normalizer {
	f, _ := ipfilter.NewFilter(mode, ranges)
	return NewNormalizer(f, logger.NewCustomLogger("test"))
}

func TestNormalize(t *testing.T) {
	raw := []technitium.RawLease{
		{
			Address:         "192.168.1.100",
			HardwareAddress: "aa-bb-cc-dd-ee-ff",
			HostName:        "laptop",
			Type:            "Dynamic",
			Scope:           "Default",
			LeaseObtained:   "2024-01-15T10:00:00Z",
			LeaseExpires:    "2024-01-16T10:00:00Z",
		},
		{
			// missing MAC: skipped
			Address: "192.168.1.101",
		},
		{
			// missing IP: skipped
			HardwareAddress: "11-22-33-44-55-66",
		},
		{
			// empty type is accepted as dynamic
			Address:         "192.168.1.102",
			HardwareAddress: "112233445566",
		},
		{
			// unknown vendor type is accepted too
			Address:         "192.168.1.103",
			HardwareAddress: "21-22-33-44-55-66",
			Type:            "BootpReserved",
		},
	}

	n := newTestNormalizer(ipfilter.ModeDisabled, "")
	devices, stats := n.Normalize(raw)

	require.Len(t, devices, 3)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 0, stats.Filtered)

	want := DeviceLease{
		MACAddress:    "AA:BB:CC:DD:EE:FF",
		IPAddress:     "192.168.1.100",
		Hostname:      "laptop",
		LeaseType:     "Dynamic",
		Scope:         "Default",
		LeaseObtained: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		LeaseExpires:  time.Date(2024, 1, 16, 10, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, devices[0]); diff != "" {
		t.Errorf("unexpected first device (-want +got):\n%s", diff)
	}

	assert.Equal(t, "11:22:33:44:55:66", devices[1].MACAddress)
	assert.Equal(t, "BootpReserved", devices[2].LeaseType)
}

func TestNormalizeAppliesIPFilter(t *testing.T) {
	raw := []technitium.RawLease{
		{Address: "192.168.1.100", HardwareAddress: "aa-bb-cc-dd-ee-01"},
		{Address: "192.168.1.50", HardwareAddress: "aa-bb-cc-dd-ee-02"},
		{Address: "192.168.1.101", HardwareAddress: "aa-bb-cc-dd-ee-03"},
	}

	n := newTestNormalizer(ipfilter.ModeInclude, "192.168.1.100,192.168.1.101")
	devices, stats := n.Normalize(raw)

	require.Len(t, devices, 2)
	assert.Equal(t, 1, stats.Filtered)
	assert.Equal(t, "192.168.1.100", devices[0].IPAddress)
	assert.Equal(t, "192.168.1.101", devices[1].IPAddress)

	// exclude mode is the exact complement
	n = newTestNormalizer(ipfilter.ModeExclude, "192.168.1.100,192.168.1.101")
	devices, stats = n.Normalize(raw)
	require.Len(t, devices, 1)
	assert.Equal(t, 2, stats.Filtered)
	assert.Equal(t, "192.168.1.50", devices[0].IPAddress)
}

func TestNormalizeUnparseableTimestamps(t *testing.T) {
	raw := []technitium.RawLease{
		{
			Address:         "192.168.1.100",
			HardwareAddress: "aa-bb-cc-dd-ee-ff",
			LeaseObtained:   "garbage",
		},
	}

	n := newTestNormalizer(ipfilter.ModeDisabled, "")
	devices, _ := n.Normalize(raw)
	require.Len(t, devices, 1)
	assert.True(t, devices[0].LeaseObtained.IsZero())
}

func TestMACSet(t *testing.T) {
	devices := []DeviceLease{
		{MACAddress: "AA:BB:CC:DD:EE:FF"},
		{MACAddress: "11:22:33:44:55:66"},
		{MACAddress: "AA:BB:CC:DD:EE:FF"}, // duplicate collapses
	}
	set := MACSet(devices)
	assert.Len(t, set, 2)
	assert.Contains(t, set, "AA:BB:CC:DD:EE:FF")
	assert.Contains(t, set, "11:22:33:44:55:66")
}
