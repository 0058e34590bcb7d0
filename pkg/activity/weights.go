package activity

import (
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// backgroundDomains is the curated list of domain substrings attributable to
// automated/telemetry/update traffic rather than direct user action.
// Matching is case-insensitive substring matching on the queried name.
var backgroundDomains = []string{
	// NTP / time sync
	"time.windows.com",
	"time.apple.com",
	"time.google.com",
	"time.nist.gov",
	"pool.ntp.org",

	// OS / software updates
	"windowsupdate.com",
	"update.microsoft.com",
	"swcdn.apple.com",
	"mesu.apple.com",
	"updates.cdn-apple.com",
	"gs.apple.com",
	"download.windowsupdate.com",
	"archive.ubuntu.com",
	"security.ubuntu.com",

	// telemetry and crash reporting
	"telemetry.microsoft.com",
	"vortex.data.microsoft.com",
	"settings-win.data.microsoft.com",
	"watson.microsoft.com",
	"app-measurement.com",
	"crashlytics.com",
	"firebaselogging",
	"sentry.io",

	// certificate status checks
	"ocsp.digicert.com",
	"ocsp.apple.com",
	"ocsp.pki.goog",
	"crl.microsoft.com",
	"crl3.digicert.com",
	"crl4.digicert.com",

	// connectivity probes
	"connectivitycheck.gstatic.com",
	"msftconnecttest.com",
	"msftncsi.com",
	"captive.apple.com",
	"connectivity-check.ubuntu.com",
	"detectportal.firefox.com",
	"nmcheck.gnome.org",

	// push notification backbones
	"push.apple.com",
	"mtalk.google.com",

	// CDN infrastructure names (not the content they serve)
	"akadns.net",
	"edgekey.net",
	"edgesuite.net",
	"llnwd.net",
}

// protocolWeights scores the transport a query arrived on. Encrypted and
// stateful transports correlate with interactive browsing; plain UDP is what
// every background resolver uses.
var protocolWeights = map[string]float64{
	"UDP":   0.3,
	"TCP":   1.0,
	"HTTPS": 1.2,
	"HTTP":  0.8,
}

const defaultProtocolWeight = 0.5

// queryTypeWeights scores query types by how strongly they indicate a user
// driven lookup. Types at or below backgroundTypeCutoff are treated as
// background traffic outright (reverse lookups, zone plumbing, discovery).
var queryTypeWeights = map[string]float64{
	"A":     1.0,
	"AAAA":  0.9,
	"HTTPS": 0.9,
	"SVCB":  0.8,
	"CNAME": 0.7,
	"MX":    0.5,
	"TXT":   0.4,
	"ANY":   0.3,
	"SRV":   0.3,
	"PTR":   0.2,
	"SOA":   0.2,
	"NS":    0.2,
}

const (
	defaultQueryTypeWeight = 0.5
	backgroundTypeCutoff   = 0.4
)

// canonicalQueryType uppercases a query type and resolves numeric type codes
// (some log backends emit "28" instead of "AAAA") through the registered DNS
// type mnemonics. Strings unknown to the registry are returned as-is; they
// still get the default weight.
func canonicalQueryType(qtype string) string {
	up := strings.ToUpper(strings.TrimSpace(qtype))
	if _, known := dns.StringToType[up]; known {
		return up
	}
	if code, err := strconv.ParseUint(up, 10, 16); err == nil {
		if name, ok := dns.TypeToString[uint16(code)]; ok {
			return name
		}
	}
	return up
}

func queryTypeWeight(qtype string) float64 {
	if w, ok := queryTypeWeights[canonicalQueryType(qtype)]; ok {
		return w
	}
	return defaultQueryTypeWeight
}

func protocolWeight(protocol string) float64 {
	if protocol == "" {
		protocol = "UDP"
	}
	if w, ok := protocolWeights[strings.ToUpper(protocol)]; ok {
		return w
	}
	return defaultProtocolWeight
}
