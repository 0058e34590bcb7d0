package trackerdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndGetDevice(t *testing.T) {
	db := NewTestDB()
	defer db.DB.Close()

	firstSeen := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	device := TrackedDevice{
		MacAddr:   "AA:BB:CC:DD:EE:FF",
		Hostname:  "laptop",
		IPAddr:    "192.168.1.100",
		LastSeen:  firstSeen,
		FirstSeen: firstSeen,
	}
	require.NoError(t, db.UpsertDevice(device))

	got, err := db.GetDevice("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, "laptop", got.Hostname)
	assert.Equal(t, "192.168.1.100", got.IPAddr)
	assert.Equal(t, firstSeen, got.LastSeen)

	// a later upsert refreshes hostname, IP and last_seen but keeps first_seen
	device.Hostname = "laptop-renamed"
	device.IPAddr = "192.168.1.150"
	device.LastSeen = firstSeen.Add(24 * time.Hour)
	require.NoError(t, db.UpsertDevice(device))

	got, err = db.GetDevice("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, "laptop-renamed", got.Hostname)
	assert.Equal(t, "192.168.1.150", got.IPAddr)
	assert.Equal(t, firstSeen.Add(24*time.Hour), got.LastSeen)
	assert.Equal(t, firstSeen, got.FirstSeen)
}

func TestGetDeviceNotFound(t *testing.T) {
	db := NewTestDB()
	defer db.DB.Close()

	_, err := db.GetDevice("11:22:33:44:55:66")
	assert.ErrorContains(t, err, "not found")
}

func TestGetVanishedDevices(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	db := NewTestDBWithData([]TrackedDevice{
		{MacAddr: "AA:BB:CC:DD:EE:01", Hostname: "alive", LastSeen: now},
		{MacAddr: "AA:BB:CC:DD:EE:02", Hostname: "vanished-1", LastSeen: now.Add(-2 * time.Hour)},
		{MacAddr: "AA:BB:CC:DD:EE:03", Hostname: "vanished-2", LastSeen: now.Add(-48 * time.Hour)},
	})
	defer db.DB.Close()

	alive := map[string]struct{}{
		"AA:BB:CC:DD:EE:01": {},
	}

	vanished, err := db.GetVanishedDevices(alive)
	require.NoError(t, err)
	require.Len(t, vanished, 2)

	macs := []string{vanished[0].MacAddr, vanished[1].MacAddr}
	assert.Contains(t, macs, "AA:BB:CC:DD:EE:02")
	assert.Contains(t, macs, "AA:BB:CC:DD:EE:03")

	// every device alive: nothing vanished, and the result is non-nil
	alive["AA:BB:CC:DD:EE:02"] = struct{}{}
	alive["AA:BB:CC:DD:EE:03"] = struct{}{}
	vanished, err = db.GetVanishedDevices(alive)
	require.NoError(t, err)
	assert.NotNil(t, vanished)
	assert.Empty(t, vanished)
}

func TestPurgeStale(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	db := NewTestDBWithData([]TrackedDevice{
		{MacAddr: "AA:BB:CC:DD:EE:01", Hostname: "fresh", LastSeen: now.Add(-1 * time.Hour)},
		{MacAddr: "AA:BB:CC:DD:EE:02", Hostname: "old", LastSeen: now.Add(-100 * time.Hour)},
	})
	defer db.DB.Close()

	purged, err := db.PurgeStale(48 * time.Hour)
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:02", purged[0].MacAddr)

	// the fresh device survived, the old one is gone
	_, err = db.GetDevice("AA:BB:CC:DD:EE:01")
	assert.NoError(t, err)
	_, err = db.GetDevice("AA:BB:CC:DD:EE:02")
	assert.ErrorContains(t, err, "not found")

	// purging again is a no-op
	purged, err = db.PurgeStale(48 * time.Hour)
	require.NoError(t, err)
	assert.Empty(t, purged)
}
