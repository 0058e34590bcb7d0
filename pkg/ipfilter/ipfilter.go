// Package ipfilter implements the IP inclusion/exclusion filter applied to
// DHCP leases before they become tracked devices.
//
// The filter configuration is a free-form string listing single IPs, CIDR
// blocks and start-end ranges, separated by commas, semicolons or newlines,
// e.g.:
//
//	192.168.1.100, 192.168.1.0/24; 10.0.0.1-10.0.0.50
package ipfilter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"strings"
)

// Mode selects how the configured ranges are interpreted.
type Mode string

const (
	// ModeDisabled accepts every IP address regardless of the ranges.
	ModeDisabled Mode = "disabled"
	// ModeInclude accepts only IPs inside the configured ranges.
	ModeInclude Mode = "include"
	// ModeExclude accepts only IPs outside the configured ranges.
	ModeExclude Mode = "exclude"
)

/* -------------------------------------------------------------------------- */
/*                                    Range                                   */
/* -------------------------------------------------------------------------- */

type Range struct {
	Start net.IP
	End   net.IP
}

func NewRange(start, end net.IP) Range {
	return Range{
		Start: start,
		End:   end,
	}
}

func NewRangeFromString(start, end string) Range {
	return Range{
		Start: net.ParseIP(start),
		End:   net.ParseIP(end),
	}
}

func (r Range) IsValid() bool {
	return r.Start != nil && r.End != nil
}

// Contains checks if the IP address is within the Range
func (r Range) Contains(ipOrig netip.Addr) bool {
	// Ensure that all IP addresses are in a consistent IPv4 or IPv6 form
	ip := net.IP(ipOrig.AsSlice()).To16()
	startIP := r.Start.To16()
	endIP := r.End.To16()

	if ip == nil || startIP == nil || endIP == nil {
		return false
	}

	return bytes.Compare(ip, startIP) >= 0 && bytes.Compare(ip, endIP) <= 0
}

// Size returns the number of IP addresses in the range or -1 if they are too many to fit an int64
func (r Range) Size() int64 {
	size := big.NewInt(0)
	size.Add(size, big.NewInt(0).SetBytes(r.End))
	size.Sub(size, big.NewInt(0).SetBytes(r.Start))
	size.Add(size, big.NewInt(1))
	if size.IsInt64() {
		return size.Int64()
	}

	// too many IPs in range... this can happen with IPv6
	return -1
}

/* -------------------------------------------------------------------------- */
/*                                    Pool                                    */
/* -------------------------------------------------------------------------- */

type Pool struct {
	Ranges []Range
}

func (p Pool) Contains(ip netip.Addr) bool {
	for _, r := range p.Ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

func (p Pool) Size() int64 {
	size := int64(0)
	for _, r := range p.Ranges {
		s := r.Size()
		if s == -1 {
			return -1
		}
		size += s
	}
	return size
}

/* -------------------------------------------------------------------------- */
/*                                   Parsing                                  */
/* -------------------------------------------------------------------------- */

func ipv4ToUint32(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}

func uint32ToIPv4(v uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, v)
	return ip
}

func splitEntries(spec string) []string {
	// normalize all supported delimiters to commas, then split once
	spec = strings.ReplaceAll(spec, ";", ",")
	spec = strings.ReplaceAll(spec, "\n", ",")
	return strings.Split(spec, ",")
}

// parseCIDR converts a CIDR block into a host range.
// Like the usual "usable hosts" interpretation, the network and broadcast
// addresses are excluded for prefixes shorter than /31.
func parseCIDR(entry string) (Range, error) {
	ip, ipNet, err := net.ParseCIDR(entry)
	if err != nil {
		return Range{}, err
	}
	if ip.To4() == nil {
		return Range{}, fmt.Errorf("only IPv4 CIDR blocks are supported: %s", entry)
	}

	ones, bits := ipNet.Mask.Size()
	base, _ := ipv4ToUint32(ipNet.IP)

	switch {
	case ones >= bits-1:
		// /32 is a single host, /31 is a point-to-point pair
		last := base + (uint32(1) << (bits - ones)) - 1
		return NewRange(uint32ToIPv4(base), uint32ToIPv4(last)), nil
	default:
		broadcast := base + (uint32(1) << (bits - ones)) - 1
		return NewRange(uint32ToIPv4(base+1), uint32ToIPv4(broadcast-1)), nil
	}
}

func parseStartEnd(entry string) (Range, error) {
	startStr, endStr, _ := strings.Cut(entry, "-")
	start := net.ParseIP(strings.TrimSpace(startStr))
	end := net.ParseIP(strings.TrimSpace(endStr))
	if start == nil || end == nil || start.To4() == nil || end.To4() == nil {
		return Range{}, fmt.Errorf("invalid IP range: %s", entry)
	}

	s, _ := ipv4ToUint32(start)
	e, _ := ipv4ToUint32(end)
	if s > e {
		return Range{}, fmt.Errorf("invalid IP range %s: start IP is greater than end IP", entry)
	}
	return NewRange(start, end), nil
}

// ParseRanges parses a ranges specification into a Pool.
// Malformed entries are skipped and reported in the second return value, so
// that one bad entry never invalidates the whole filter configuration.
func ParseRanges(spec string) (Pool, []string) {
	var pool Pool
	var rejected []string

	if strings.TrimSpace(spec) == "" {
		return pool, nil
	}

	for _, entry := range splitEntries(spec) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		var r Range
		var err error
		switch {
		case strings.Contains(entry, "/"):
			r, err = parseCIDR(entry)
		case strings.Contains(entry, "-"):
			r, err = parseStartEnd(entry)
		default:
			ip := net.ParseIP(entry)
			if ip == nil || ip.To4() == nil {
				err = fmt.Errorf("invalid IP address: %s", entry)
			} else {
				r = NewRange(ip, ip)
			}
		}

		if err != nil {
			rejected = append(rejected, err.Error())
			continue
		}
		pool.Ranges = append(pool.Ranges, r)
	}

	return pool, rejected
}

// Validate checks a ranges specification and returns a human-readable verdict.
// An empty spec is valid (the filter simply matches nothing).
func Validate(spec string) (bool, string) {
	if strings.TrimSpace(spec) == "" {
		return true, ""
	}

	pool, rejected := ParseRanges(spec)
	if len(pool.Ranges) == 0 {
		return false, "no valid IP addresses found in configuration"
	}
	if len(rejected) > 0 {
		return true, fmt.Sprintf("configuration partially valid: %d entries rejected: %s",
			len(rejected), strings.Join(rejected, "; "))
	}
	return true, fmt.Sprintf("configuration valid: %d ranges will be processed", len(pool.Ranges))
}

/* -------------------------------------------------------------------------- */
/*                                   Filter                                   */
/* -------------------------------------------------------------------------- */

// Filter combines a Mode with the parsed Pool of configured ranges.
type Filter struct {
	Mode Mode
	Pool Pool

	emptySpec bool
}

// NewFilter parses the ranges spec once; the returned rejected-entry messages
// are meant to be logged by the caller.
func NewFilter(mode Mode, rangesSpec string) (Filter, []string) {
	pool, rejected := ParseRanges(rangesSpec)
	return Filter{
		Mode:      mode,
		Pool:      pool,
		emptySpec: strings.TrimSpace(rangesSpec) == "",
	}, rejected
}

// ShouldTrack decides whether a leased IP address passes the filter.
// A malformed candidate IP fails closed (not tracked), except in disabled
// mode which accepts everything.
func (f Filter) ShouldTrack(ipAddress string) bool {
	if f.Mode == ModeDisabled || f.emptySpec {
		return true
	}

	addr, err := netip.ParseAddr(ipAddress)
	if err != nil || !addr.Is4() {
		return false
	}

	switch f.Mode {
	case ModeInclude:
		return f.Pool.Contains(addr)
	case ModeExclude:
		return !f.Pool.Contains(addr)
	default:
		// unknown mode: be permissive, same as disabled
		return true
	}
}
