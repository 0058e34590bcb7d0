// Package activity scores a device's DNS query pattern for genuine-use
// likelihood. The composite 0-100 score blends five signals: how much of the
// traffic is background noise, the transport mix, query diversity, query
// frequency and inter-arrival timing regularity. The guiding idea is that a
// human behind a device produces moderately frequent, diverse, irregular
// queries over rich transports, while idle devices produce sparse, repetitive,
// clockwork-regular lookups to a small set of infrastructure domains.
package activity

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"technitium-dhcp-backend/pkg/technitium"
)

// Default analyzer tuning; both are overridable from the addon options.
const (
	DefaultScoreThreshold        = 25
	DefaultAnalysisWindowMinutes = 30
)

// Composite score weights.
const (
	weightBackground = 0.30
	weightProtocol   = 0.25
	weightDiversity  = 0.20
	weightFrequency  = 0.15
	weightTiming     = 0.10
)

// Automated query patterns: long hex subdomains (telemetry beacons), numbered
// subdomains (CDN fan-out) and version/build subdomains.
var (
	hexSubdomainRe      = regexp.MustCompile(`[a-f0-9]{16,}\.`)
	numberedSubdomainRe = regexp.MustCompile(`\d+\.[a-z]+\.\w+$`)
	versionSubdomainRe  = regexp.MustCompile(`v\d+\.|version\d+\.`)
)

// Breakdown carries the five named sub-scores of one assessment.
type Breakdown struct {
	Background float64 `json:"background_score"`
	Protocol   float64 `json:"protocol_score"`
	Diversity  float64 `json:"diversity_score"`
	Frequency  float64 `json:"frequency_score"`
	Timing     float64 `json:"timing_score"`
}

// Assessment is the result of analyzing one device's log slice.
// Derived fresh each polling cycle; an empty log window always yields the
// zero assessment (score 0, not actively used).
type Assessment struct {
	ActivityScore     float64   `json:"activity_score"` // 0-100, one decimal
	IsActivelyUsed    bool      `json:"is_actively_used"`
	TotalQueries      int       `json:"total_queries"`
	BackgroundRatio   float64   `json:"background_ratio"`
	ProtocolDiversity int       `json:"protocol_diversity"`
	QueryRate         float64   `json:"query_rate"` // queries per minute
	AnalysisSummary   string    `json:"analysis_summary"`
	Breakdown         Breakdown `json:"score_breakdown"`
}

const noActivitySummary = "No DNS activity found"

func zeroAssessment() Assessment {
	return Assessment{
		AnalysisSummary: noActivitySummary,
	}
}

// Analyzer computes activity assessments. Instances are cheap and carry only
// configuration, so one per coordinator is the expected usage.
type Analyzer struct {
	scoreThreshold float64
	window         time.Duration
}

func NewAnalyzer(scoreThreshold float64, window time.Duration) *Analyzer {
	return &Analyzer{
		scoreThreshold: scoreThreshold,
		window:         window,
	}
}

// Window returns the configured analysis lookback window.
func (a *Analyzer) Window() time.Duration {
	return a.window
}

// Analyze scores the DNS query pattern of the device at ipAddress using the
// given shared log set. Entries outside the analysis window (relative to now)
// or with malformed timestamps are dropped silently.
func (a *Analyzer) Analyze(logs []technitium.QueryLogEntry, ipAddress string, now time.Time) Assessment {
	deviceLogs, timestamps := a.filterDeviceLogs(logs, ipAddress, now)

	if len(deviceLogs) == 0 {
		return zeroAssessment()
	}

	totalQueries := len(deviceLogs)
	background := a.backgroundScore(deviceLogs)
	protocol := a.protocolScore(deviceLogs)
	diversity := a.diversityScore(deviceLogs)
	frequency := a.frequencyScore(totalQueries, timestamps)
	timing := a.timingScore(timestamps)

	score := round1(background*weightBackground +
		protocol*weightProtocol +
		diversity*weightDiversity +
		frequency*weightFrequency +
		timing*weightTiming)

	breakdown := Breakdown{
		Background: round1(background),
		Protocol:   round1(protocol),
		Diversity:  round1(diversity),
		Frequency:  round1(frequency),
		Timing:     round1(timing),
	}

	backgroundQueries := 0
	for _, entry := range deviceLogs {
		if isBackgroundQuery(entry) {
			backgroundQueries++
		}
	}
	backgroundRatio := float64(backgroundQueries) / float64(totalQueries)

	protocols := make(map[string]struct{})
	for _, entry := range deviceLogs {
		p := entry.Protocol
		if p == "" {
			p = "UDP"
		}
		protocols[strings.ToUpper(p)] = struct{}{}
	}

	queryRate := float64(totalQueries) / timeSpanMinutes(timestamps)

	return Assessment{
		ActivityScore:     score,
		IsActivelyUsed:    score >= a.scoreThreshold,
		TotalQueries:      totalQueries,
		BackgroundRatio:   round3(backgroundRatio),
		ProtocolDiversity: len(protocols),
		QueryRate:         round2(queryRate),
		AnalysisSummary:   summarize(score, totalQueries, backgroundRatio, len(protocols)),
		Breakdown:         breakdown,
	}
}

// AnalyzeBatch analyzes many devices against one shared log set. A failure
// scoring one IP yields a zero assessment with an error note for that IP
// only; it never aborts the batch.
func (a *Analyzer) AnalyzeBatch(logs []technitium.QueryLogEntry, ipAddresses []string, now time.Time) map[string]Assessment {
	results := make(map[string]Assessment, len(ipAddresses))
	for _, ip := range ipAddresses {
		results[ip] = a.analyzeIsolated(logs, ip, now)
	}
	return results
}

func (a *Analyzer) analyzeIsolated(logs []technitium.QueryLogEntry, ipAddress string, now time.Time) (assessment Assessment) {
	defer func() {
		if r := recover(); r != nil {
			assessment = zeroAssessment()
			assessment.AnalysisSummary = fmt.Sprintf("Analysis error: %v", r)
		}
	}()
	return a.Analyze(logs, ipAddress, now)
}

// filterDeviceLogs keeps the entries for this device inside the analysis
// window. The parsed, sorted timestamps are returned alongside so the
// frequency/timing scores don't re-parse them.
func (a *Analyzer) filterDeviceLogs(logs []technitium.QueryLogEntry, ipAddress string, now time.Time) ([]technitium.QueryLogEntry, []time.Time) {
	cutoff := now.Add(-a.window)

	var deviceLogs []technitium.QueryLogEntry
	var timestamps []time.Time
	for _, entry := range logs {
		if entry.ClientIPAddress != ipAddress {
			continue
		}
		ts, ok := technitium.ParseTimestamp(entry.Timestamp)
		if !ok {
			continue
		}
		if ts.Before(cutoff) {
			continue
		}
		deviceLogs = append(deviceLogs, entry)
		timestamps = append(timestamps, ts)
	}

	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })
	return deviceLogs, timestamps
}

// backgroundScore rewards a high share of user-classified queries.
func (a *Analyzer) backgroundScore(deviceLogs []technitium.QueryLogEntry) float64 {
	userQueries := 0
	for _, entry := range deviceLogs {
		if !isBackgroundQuery(entry) {
			userQueries++
		}
	}
	userRatio := float64(userQueries) / float64(len(deviceLogs))
	return math.Min(userRatio*100, 100)
}

// protocolScore averages per-entry transport weights.
func (a *Analyzer) protocolScore(deviceLogs []technitium.QueryLogEntry) float64 {
	sum := 0.0
	for _, entry := range deviceLogs {
		sum += protocolWeight(entry.Protocol)
	}
	avg := sum / float64(len(deviceLogs))
	return math.Min(avg*100, 100)
}

// diversityScore averages domain diversity (saturating at 10 distinct
// domains) and query type diversity (saturating at 5 distinct types).
func (a *Analyzer) diversityScore(deviceLogs []technitium.QueryLogEntry) float64 {
	domains := make(map[string]struct{})
	queryTypes := make(map[string]struct{})
	for _, entry := range deviceLogs {
		if entry.Question.Name != "" {
			domains[strings.ToLower(entry.Question.Name)] = struct{}{}
		}
		if entry.Question.Type != "" {
			queryTypes[canonicalQueryType(entry.Question.Type)] = struct{}{}
		}
	}

	domainDiversity := math.Min(float64(len(domains))/10, 1.0)
	typeDiversity := math.Min(float64(len(queryTypes))/5, 1.0)
	return math.Min((domainDiversity+typeDiversity)/2*100, 100)
}

// frequencyScore rewards the interactive band of 0.5-5 queries/minute;
// near-silent and bursty-automated traffic both score lower.
func (a *Analyzer) frequencyScore(totalQueries int, timestamps []time.Time) float64 {
	perMinute := float64(totalQueries) / timeSpanMinutes(timestamps)

	var score float64
	switch {
	case perMinute >= 0.5 && perMinute <= 5:
		score = 100
	case perMinute < 0.5:
		score = perMinute * 200 // linear ramp up to the band
	default:
		score = math.Max(100-(perMinute-5)*10, 10)
	}
	return math.Min(math.Max(score, 0), 100)
}

// timingScore measures inter-arrival irregularity via the coefficient of
// variation. Humans are irregular; machines are either metronomic (low CV)
// or bursty (high CV). Fewer than 3 timestamps yields a neutral 50.
func (a *Analyzer) timingScore(timestamps []time.Time) float64 {
	if len(timestamps) < 3 {
		return 50
	}

	intervals := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		intervals = append(intervals, timestamps[i].Sub(timestamps[i-1]).Seconds())
	}

	mean := 0.0
	for _, v := range intervals {
		mean += v
	}
	mean /= float64(len(intervals))

	var cv float64
	if mean > 0 {
		variance := 0.0
		for _, v := range intervals {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(intervals))
		cv = math.Sqrt(variance) / mean
	}

	var score float64
	switch {
	case cv >= 0.3 && cv <= 2.0:
		score = 100 // human-like irregularity
	case cv < 0.3:
		score = cv * 333 // too regular: automated
	default:
		score = math.Max(100-(cv-2.0)*50, 10) // too erratic: bursts
	}
	return math.Min(math.Max(score, 0), 100)
}

// isBackgroundQuery classifies one query as automated/telemetry traffic.
func isBackgroundQuery(entry technitium.QueryLogEntry) bool {
	domain := strings.ToLower(entry.Question.Name)

	for _, bg := range backgroundDomains {
		if strings.Contains(domain, bg) {
			return true
		}
	}
	if queryTypeWeight(entry.Question.Type) <= backgroundTypeCutoff {
		return true
	}
	return isAutomatedPattern(domain)
}

func isAutomatedPattern(domain string) bool {
	return hexSubdomainRe.MatchString(domain) ||
		numberedSubdomainRe.MatchString(domain) ||
		versionSubdomainRe.MatchString(domain)
}

// timeSpanMinutes is the span of the sorted timestamps in minutes, never
// less than 1 so single-query windows don't blow up the rate.
func timeSpanMinutes(timestamps []time.Time) float64 {
	if len(timestamps) < 2 {
		return 1.0
	}
	span := timestamps[len(timestamps)-1].Sub(timestamps[0]).Minutes()
	return math.Max(span, 1.0)
}

func summarize(score float64, queries int, backgroundRatio float64, protocols int) string {
	var level string
	switch {
	case score >= 75:
		level = "High user activity"
	case score >= 50:
		level = "Moderate user activity"
	case score >= 25:
		level = "Low user activity"
	default:
		level = "Mostly background traffic"
	}
	return fmt.Sprintf("%s - %d queries, %.0f%% background, %d protocols",
		level, queries, backgroundRatio*100, protocols)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
