// Package leases turns raw Technitium DHCP lease records into canonical
// DeviceLease structures: identity normalization (MAC format), permissive
// lease-type acceptance and IP filtering all happen here, so that nothing
// downstream ever has to deal with missing or inconsistently formatted fields.
package leases

import (
	"strings"
	"time"

	"technitium-dhcp-backend/pkg/ipfilter"
	"technitium-dhcp-backend/pkg/logger"
	"technitium-dhcp-backend/pkg/technitium"
)

// DeviceLease is the canonical per-device lease record.
// MACAddress is the stable identity key: two leases with the same normalized
// MAC refer to the same device even if the IP changed between polls.
type DeviceLease struct {
	MACAddress string // canonical AA:BB:CC:DD:EE:FF
	IPAddress  string
	Hostname   string
	ClientID   string
	LeaseType  string // Dynamic, Reserved, empty (treated as dynamic) or vendor-specific
	Scope      string

	// zero when the server did not report them or they were unparseable
	LeaseObtained time.Time
	LeaseExpires  time.Time
}

// NormalizeMAC converts a MAC address in any common format to uppercase
// colon-separated form:
//
//	aa-bb-cc-dd-ee-ff -> AA:BB:CC:DD:EE:FF
//	aabbccddeeff      -> AA:BB:CC:DD:EE:FF
//	aa:bb:cc:dd:ee:ff -> AA:BB:CC:DD:EE:FF
//
// Anything that is neither 12 nor 17 characters long is passed through
// uppercased unchanged, so an unexpected vendor format still yields a usable
// (if unusual) identity key.
func NormalizeMAC(mac string) string {
	if mac == "" {
		return ""
	}

	macUpper := strings.ToUpper(mac)
	switch len(macUpper) {
	case 12: // no separators: AABBCCDDEEFF
		var sb strings.Builder
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				sb.WriteByte(':')
			}
			sb.WriteString(macUpper[i : i+2])
		}
		return sb.String()
	case 17: // with separators: AA-BB-CC-DD-EE-FF or AA:BB:CC:DD:EE:FF
		return strings.ReplaceAll(macUpper, "-", ":")
	default:
		return macUpper
	}
}

// Stats summarizes one normalization pass for cycle-level logging.
type Stats struct {
	Skipped  int // leases missing IP or MAC
	Filtered int // leases rejected by the IP filter
}

type Normalizer struct {
	filter ipfilter.Filter
	logger *logger.CustomLogger
}

func NewNormalizer(filter ipfilter.Filter, log *logger.CustomLogger) *Normalizer {
	return &Normalizer{
		filter: filter,
		logger: log,
	}
}

// Normalize processes a raw lease list into an ordered list of canonical
// DeviceLease records. Leases missing IP or MAC are skipped with a logged
// reason; lease types are accepted permissively (the vendor vocabulary is
// not guaranteed exhaustive); the IP filter is applied last.
func (n *Normalizer) Normalize(raw []technitium.RawLease) ([]DeviceLease, Stats) {
	var stats Stats
	out := make([]DeviceLease, 0, len(raw))

	for i, lease := range raw {
		if lease.Address == "" {
			n.logger.Debugf("Skipping lease %d: no IP address", i+1)
			stats.Skipped++
			continue
		}
		if lease.HardwareAddress == "" {
			n.logger.Debugf("Skipping lease %d (%s): no MAC address", i+1, lease.Address)
			stats.Skipped++
			continue
		}

		switch lease.Type {
		case "Dynamic", "Reserved", "":
			// the empty type is treated as dynamic
		default:
			n.logger.Debugf("Including lease with unknown type '%s' for %s", lease.Type, lease.Address)
		}

		if !n.filter.ShouldTrack(lease.Address) {
			n.logger.Debugf("Filtering out IP %s based on filter mode %s", lease.Address, n.filter.Mode)
			stats.Filtered++
			continue
		}

		d := DeviceLease{
			MACAddress: NormalizeMAC(lease.HardwareAddress),
			IPAddress:  lease.Address,
			Hostname:   lease.HostName,
			ClientID:   lease.ClientIdentifier,
			LeaseType:  lease.Type,
			Scope:      lease.Scope,
		}
		if ts, ok := technitium.ParseTimestamp(lease.LeaseObtained); ok {
			d.LeaseObtained = ts
		}
		if ts, ok := technitium.ParseTimestamp(lease.LeaseExpires); ok {
			d.LeaseExpires = ts
		}

		out = append(out, d)
	}

	return out, stats
}

// MACSet extracts the set of normalized MAC identities from a lease list.
// This is the device-set snapshot the coordinator diffs between cycles.
func MACSet(devices []DeviceLease) map[string]struct{} {
	set := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		set[d.MACAddress] = struct{}{}
	}
	return set
}
