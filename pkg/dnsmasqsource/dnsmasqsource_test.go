package dnsmasqsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"technitium-dhcp-backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLeaseFile = `1893456000 00:11:22:33:44:55 192.168.0.2 client1 01:00:11:22:33:44:55
1893456000 aa:bb:cc:dd:ee:ff 192.168.0.66 client4 *
`

func TestGetDhcpLeases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.leases")
	require.NoError(t, os.WriteFile(path, []byte(sampleLeaseFile), 0o600))

	s := NewSource(path, logger.NewCustomLogger("test"))
	raw, err := s.GetDhcpLeases(context.Background())
	require.NoError(t, err)
	require.Len(t, raw, 2)

	assert.Equal(t, "192.168.0.2", raw[0].Address)
	assert.Equal(t, "00:11:22:33:44:55", raw[0].HardwareAddress)
	assert.Equal(t, "client1", raw[0].HostName)
	assert.Equal(t, "Dynamic", raw[0].Type)
	assert.NotEmpty(t, raw[0].LeaseExpires)

	// the read also refreshed the cache
	assert.Len(t, s.CachedLeases(), 2)
}

func TestGetDhcpLeasesMissingFile(t *testing.T) {
	s := NewSource(filepath.Join(t.TempDir(), "nope.leases"), logger.NewCustomLogger("test"))

	raw, err := s.GetDhcpLeases(context.Background())
	require.NoError(t, err)
	assert.Empty(t, raw)
}
