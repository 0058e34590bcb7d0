package technitium

import (
	"time"
)

// RawLease is a DHCP lease record exactly as the Technitium API returns it
// from api/dhcp/scopes/listLeases. Optional fields may be empty.
type RawLease struct {
	Address          string `json:"address"`
	HardwareAddress  string `json:"hardwareAddress"`
	HostName         string `json:"hostName"`
	ClientIdentifier string `json:"clientIdentifier"`
	LeaseObtained    string `json:"leaseObtained"`
	LeaseExpires     string `json:"leaseExpires"`
	Scope            string `json:"scope"`
	Type             string `json:"type"`
}

// Question is the queried name/type pair inside a query log entry.
type Question struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryLogEntry is one DNS query log record as returned by a query-logger
// DNS app through api/logs/query. Entries are ephemeral: they live for one
// polling cycle only and are never persisted.
type QueryLogEntry struct {
	ClientIPAddress string   `json:"clientIpAddress"`
	Timestamp       string   `json:"timestamp"`
	Protocol        string   `json:"protocol"`
	Question        Question `json:"question"`
}

// LoggerApp identifies an installed DNS app that can serve query logs.
type LoggerApp struct {
	Name      string
	ClassPath string
}

// LogCapability is the verdict of the per-cycle availability probe.
type LogCapability struct {
	Available bool
	Method    string
	App       *LoggerApp
	Message   string
}

// ParseTimestamp parses the ISO-8601 timestamps the Technitium API emits.
// They usually carry a trailing Z; some builds omit the zone entirely, in
// which case UTC is assumed. Returns false for anything unparseable.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
