package uibackend

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"technitium-dhcp-backend/pkg/ipfilter"
)

// Option defaults and validation bounds.
const (
	minPollIntervalSec     = 30
	maxPollIntervalSec     = 600
	defaultPollIntervalSec = 300

	defaultStaleThresholdMinutes  = 60
	defaultActivityScoreThreshold = 25
	defaultAnalysisWindowMinutes  = 30
)

// AddonOptions contains the configuration provided by the user to the Home Assistant addon
// in the HomeAssistant YAML editor
type AddonOptions struct {
	// Technitium server connection
	serverURL string
	apiToken  string

	// lease source selection: "technitium" (default) or "dnsmasq"
	leaseSource      string
	dnsmasqLeaseFile string

	// presence tracking
	pollInterval           time.Duration
	enableLogTracking      bool
	staleThresholdMinutes  int
	smartActivityEnabled   bool
	activityScoreThreshold float64
	analysisWindowMinutes  int

	// IP filtering
	ipFilterMode ipfilter.Mode
	ipRanges     string

	forgetVanishedAfter time.Duration

	// Log this backend activities?
	logTracking bool
	logWebUI    bool

	// web UI
	webUIPort            int
	webUIRefreshInterval time.Duration
}

// ParseDuration parses a duration string.
// examples: "10d", "-1.5w" or "3Y4M5d".
// Add time units are "d"="D", "w"="W", "M", "y"="Y".
// Taken from https://gist.github.com/xhit/79c9e137e1cfe332076cdda9f5e24699
func parseDuration(s string) (time.Duration, error) {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}

	re := regexp.MustCompile(`(\d*\.\d+|\d+)[^\d]*`)
	unitMap := map[string]int{
		"d": 24,
		"D": 24,
		"w": 7 * 24,
		"W": 7 * 24,
		"M": 30 * 24,
		"y": 365 * 24,
		"Y": 365 * 24,
	}

	strs := re.FindAllString(s, -1)
	if len(strs) == 0 {
		return 0, fmt.Errorf("invalid duration string: %s", s)
	}

	var sumDur time.Duration
	for _, str := range strs {
		_hours := 1
		for unit, hours := range unitMap {
			if strings.Contains(str, unit) {
				str = strings.ReplaceAll(str, unit, "h")
				_hours = hours
				break
			}
		}

		dur, err := time.ParseDuration(str)
		if err != nil {
			return 0, err
		}

		sumDur += time.Duration(int(dur) * _hours)
	}

	if neg {
		sumDur = -sumDur
	}
	return sumDur, nil
}

// UnmarshalJSON reads the configuration of this Home Assistant addon and converts it
// into the validated settings that get stored into the UIBackend instance
func (o *AddonOptions) UnmarshalJSON(data []byte) error {
	// JSON structure.
	// This must be updated every time the config.yaml of the addon is changed;
	// however this structure contains only fields that are relevant to the
	// backend behavior. In other words the addon config.yaml might contain
	// more settings than those listed here.
	var cfg struct {
		Technitium struct {
			URL   string `json:"url"`
			Token string `json:"token"`
		} `json:"technitium"`

		LeaseSource struct {
			Type             string `json:"type"`
			DnsmasqLeaseFile string `json:"dnsmasq_lease_file"`
		} `json:"lease_source"`

		Tracking struct {
			PollIntervalSec        int     `json:"poll_interval_sec"`
			EnableLogTracking      bool    `json:"enable_log_tracking"`
			StaleThresholdMinutes  int     `json:"stale_threshold_minutes"`
			SmartActivityEnabled   bool    `json:"smart_activity_enabled"`
			ActivityScoreThreshold float64 `json:"activity_score_threshold"`
			AnalysisWindowMinutes  int     `json:"analysis_window_minutes"`
			ForgetVanishedAfter    string  `json:"forget_vanished_after"`
			LogCycles              bool    `json:"log_cycles"`
		} `json:"tracking"`

		IPFilter struct {
			Mode   string `json:"mode"`
			Ranges string `json:"ranges"`
		} `json:"ip_filter"`

		WebUI struct {
			Log                bool `json:"log_activity"`
			Port               int  `json:"port"`
			RefreshIntervalSec int  `json:"refresh_interval_sec"`
		} `json:"web_ui"`
	}
	err := json.Unmarshal(data, &cfg)
	if err != nil {
		return err
	}

	// lease source; the Technitium server is required even with the dnsmasq
	// lease source, since query logs always come from Technitium
	switch cfg.LeaseSource.Type {
	case "", "technitium":
		o.leaseSource = "technitium"
	case "dnsmasq":
		o.leaseSource = "dnsmasq"
		o.dnsmasqLeaseFile = cfg.LeaseSource.DnsmasqLeaseFile
	default:
		return fmt.Errorf("invalid lease source type: %s", cfg.LeaseSource.Type)
	}

	if cfg.Technitium.URL == "" {
		return fmt.Errorf("missing Technitium server URL in addon config file")
	}
	o.serverURL = strings.TrimRight(cfg.Technitium.URL, "/")
	o.apiToken = cfg.Technitium.Token

	// polling interval
	pollSec := cfg.Tracking.PollIntervalSec
	if pollSec == 0 {
		pollSec = defaultPollIntervalSec
	}
	if pollSec < minPollIntervalSec || pollSec > maxPollIntervalSec {
		return fmt.Errorf("invalid poll interval %ds: must be within %d-%ds",
			pollSec, minPollIntervalSec, maxPollIntervalSec)
	}
	o.pollInterval = time.Duration(pollSec) * time.Second

	// presence tracking knobs
	o.enableLogTracking = cfg.Tracking.EnableLogTracking
	o.smartActivityEnabled = cfg.Tracking.SmartActivityEnabled
	o.staleThresholdMinutes = cfg.Tracking.StaleThresholdMinutes
	if o.staleThresholdMinutes <= 0 {
		o.staleThresholdMinutes = defaultStaleThresholdMinutes
	}
	o.activityScoreThreshold = cfg.Tracking.ActivityScoreThreshold
	if o.activityScoreThreshold == 0 {
		o.activityScoreThreshold = defaultActivityScoreThreshold
	}
	if o.activityScoreThreshold < 0 || o.activityScoreThreshold > 100 {
		return fmt.Errorf("invalid activity score threshold: %.1f must be within 0-100", o.activityScoreThreshold)
	}
	o.analysisWindowMinutes = cfg.Tracking.AnalysisWindowMinutes
	if o.analysisWindowMinutes <= 0 {
		o.analysisWindowMinutes = defaultAnalysisWindowMinutes
	}
	o.logTracking = cfg.Tracking.LogCycles

	// IP filter
	switch cfg.IPFilter.Mode {
	case "":
		o.ipFilterMode = ipfilter.ModeDisabled
	case string(ipfilter.ModeDisabled), string(ipfilter.ModeInclude), string(ipfilter.ModeExclude):
		o.ipFilterMode = ipfilter.Mode(cfg.IPFilter.Mode)
	default:
		return fmt.Errorf("invalid IP filter mode: %s", cfg.IPFilter.Mode)
	}
	if o.ipFilterMode != ipfilter.ModeDisabled {
		if ok, reason := ipfilter.Validate(cfg.IPFilter.Ranges); !ok {
			return fmt.Errorf("invalid IP filter ranges: %s", reason)
		}
	}
	o.ipRanges = cfg.IPFilter.Ranges

	// parse time duration
	if cfg.Tracking.ForgetVanishedAfter != "" {
		o.forgetVanishedAfter, err = parseDuration(cfg.Tracking.ForgetVanishedAfter)
		if err != nil {
			return fmt.Errorf("invalid time duration found inside 'forget_vanished_after': %s", cfg.Tracking.ForgetVanishedAfter)
		}
	}

	// ensure we have a valid port for web UI
	if cfg.WebUI.Port <= 0 || cfg.WebUI.Port > 32768 {
		return fmt.Errorf("invalid web UI port number: %d", cfg.WebUI.Port)
	}
	o.webUIPort = cfg.WebUI.Port
	o.webUIRefreshInterval = time.Duration(cfg.WebUI.RefreshIntervalSec) * time.Second
	o.logWebUI = cfg.WebUI.Log

	return nil
}
