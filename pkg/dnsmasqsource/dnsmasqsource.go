// Package dnsmasqsource implements a LeaseSource backed by a local dnsmasq
// lease file instead of the Technitium DHCP API. It covers mixed setups
// where dnsmasq hands out the leases while Technitium only serves DNS:
// presence then combines dnsmasq lease data with Technitium query logs.
//
// The lease file is re-read on every polling cycle; an inotify watcher can
// additionally be started to keep a fresh in-memory copy between cycles.
package dnsmasqsource

import (
	"context"
	"os"
	"sync"
	"time"

	"technitium-dhcp-backend/pkg/logger"
	"technitium-dhcp-backend/pkg/technitium"

	"github.com/b0ch3nski/go-dnsmasq-utils/dnsmasq"
)

// DefaultLeaseFile is where dnsmasq persists its lease database on most
// distributions.
const DefaultLeaseFile = "/var/lib/misc/dnsmasq.leases"

// Source reads dnsmasq leases and exposes them in the same raw shape the
// Technitium client produces, so the coordinator does not care which DHCP
// server is behind it.
type Source struct {
	leaseFile string
	logger    *logger.CustomLogger

	lock   sync.Mutex
	cached []*dnsmasq.Lease
}

func NewSource(leaseFile string, log *logger.CustomLogger) *Source {
	if leaseFile == "" {
		leaseFile = DefaultLeaseFile
	}
	return &Source{
		leaseFile: leaseFile,
		logger:    log,
	}
}

// GetDhcpLeases reads the lease file and converts each entry to the raw
// lease shape. A missing file is not an error: dnsmasq creates it lazily,
// so an empty list is returned instead.
func (s *Source) GetDhcpLeases(_ context.Context) ([]technitium.RawLease, error) {
	f, err := os.Open(s.leaseFile)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warnf("Lease file '%s' does not exist yet, reporting zero leases", s.leaseFile)
			return []technitium.RawLease{}, nil
		}
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	parsed, err := dnsmasq.ReadLeases(f)
	if err != nil {
		return nil, err
	}

	s.lock.Lock()
	s.cached = parsed
	s.lock.Unlock()

	return convertLeases(parsed), nil
}

// Watch installs an inotify hook on the lease file and pushes every change
// into the internal cache until the context is cancelled. Intended to run in
// its own goroutine.
func (s *Source) Watch(ctx context.Context) error {
	leasesCh := make(chan []*dnsmasq.Lease)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case updated := <-leasesCh:
				s.logger.Infof("Lease file '%s' changed, now holding %d leases", s.leaseFile, len(updated))
				s.lock.Lock()
				s.cached = updated
				s.lock.Unlock()
			}
		}
	}()

	return dnsmasq.WatchLeases(ctx, s.leaseFile, leasesCh)
}

// CachedLeases returns the most recently read lease list without touching
// the filesystem.
func (s *Source) CachedLeases() []technitium.RawLease {
	s.lock.Lock()
	defer s.lock.Unlock()
	return convertLeases(s.cached)
}

func convertLeases(parsed []*dnsmasq.Lease) []technitium.RawLease {
	out := make([]technitium.RawLease, 0, len(parsed))
	for _, lease := range parsed {
		if lease == nil {
			continue
		}
		out = append(out, technitium.RawLease{
			Address:         lease.IPAddr.String(),
			HardwareAddress: lease.MacAddr.String(),
			HostName:        lease.Hostname,
			LeaseExpires:    lease.Expires.UTC().Format(time.RFC3339),
			Type:            "Dynamic", // dnsmasq does not distinguish reservations in the lease file
		})
	}
	return out
}
