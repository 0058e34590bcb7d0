// Package technitium implements the HTTP client boundary towards a
// Technitium DNS server: DHCP lease listing, query-logger app discovery and
// windowed query log fetches.
//
// Note that the Technitium api/logs/query endpoint serves DNS *apps*, not the
// server's own file logs: query logs are only reachable when a DNS app with
// query-logging capability (e.g. "Query Logs (Sqlite)") is installed. The
// TestQueryLogAccess probe detects exactly that and its verdict drives the
// presence degradation chain.
package technitium

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"technitium-dhcp-backend/pkg/logger"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultRequestTimeout = 30 * time.Second

// ErrBadStatus is returned when the API answers with a non-"ok" status.
// A cycle hitting this error must be aborted as a whole.
var ErrBadStatus = fmt.Errorf("technitium API returned non-ok status")

type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	logger  *logger.CustomLogger

	// query-logger app discovered by the last successful probe
	loggerApp *LoggerApp
}

func NewClient(baseURL, token string, log *logger.CustomLogger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = defaultRequestTimeout
	rc.Logger = nil // the retry internals are too chatty for the addon log

	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    rc,
		logger:  log,
	}
}

// apiEnvelope is the envelope every Technitium API response is wrapped in.
type apiEnvelope struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"errorMessage"`
	Response     json.RawMessage `json:"response"`
}

// fetchData performs a GET against an API endpoint and unmarshals the inner
// "response" object into out (which may be nil when the payload is irrelevant).
func (c *Client) fetchData(ctx context.Context, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.token)

	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with HTTP %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	if envelope.Status != "ok" {
		msg := envelope.ErrorMessage
		if msg == "" {
			msg = envelope.Status
		}
		return fmt.Errorf("%w: %s: %s", ErrBadStatus, endpoint, msg)
	}

	if out != nil && len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", endpoint, err)
		}
	}
	return nil
}

// GetDhcpLeases returns the raw lease list of all DHCP scopes.
func (c *Client) GetDhcpLeases(ctx context.Context) ([]RawLease, error) {
	var payload struct {
		Leases []RawLease `json:"leases"`
	}
	if err := c.fetchData(ctx, "api/dhcp/scopes/listLeases", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Leases, nil
}

// getQueryLoggerApps lists the installed DNS apps that can serve query logs.
func (c *Client) getQueryLoggerApps(ctx context.Context) ([]LoggerApp, error) {
	var payload struct {
		Apps []struct {
			Name    string `json:"name"`
			DnsApps []struct {
				ClassPath     string `json:"classPath"`
				IsQueryLogger bool   `json:"isQueryLogger"`
			} `json:"dnsApps"`
		} `json:"apps"`
	}
	if err := c.fetchData(ctx, "api/apps/list", nil, &payload); err != nil {
		return nil, err
	}

	var apps []LoggerApp
	for _, app := range payload.Apps {
		for _, dnsApp := range app.DnsApps {
			if dnsApp.IsQueryLogger {
				apps = append(apps, LoggerApp{Name: app.Name, ClassPath: dnsApp.ClassPath})
			}
		}
	}
	return apps, nil
}

// TestQueryLogAccess probes whether query logs are reachable at all.
// It never returns an error: any failure is folded into an unavailable
// verdict, since log loss must degrade tracking rather than break it.
// Safe to call once per polling cycle; it has no side effects on the server.
func (c *Client) TestQueryLogAccess(ctx context.Context) LogCapability {
	apps, err := c.getQueryLoggerApps(ctx)
	if err != nil {
		c.loggerApp = nil
		return LogCapability{
			Available: false,
			Method:    "apps_api_failed",
			Message:   fmt.Sprintf("failed to list DNS apps: %s", err.Error()),
		}
	}

	if len(apps) == 0 {
		c.loggerApp = nil
		return LogCapability{
			Available: false,
			Method:    "no_query_logger",
			Message: "no DNS app with query logging installed; " +
				"install a query-logger DNS app to track device activity",
		}
	}

	// try a tiny window against the first logging app to prove it answers
	app := apps[0]
	end := time.Now().UTC()
	start := end.Add(-1 * time.Hour)
	entries, err := c.queryLogsViaApp(ctx, app, start, end, 5)
	if err != nil {
		c.loggerApp = nil
		return LogCapability{
			Available: false,
			Method:    "dns_app_logging",
			App:       &app,
			Message:   fmt.Sprintf("query logs app %s did not answer: %s", app.Name, err.Error()),
		}
	}

	c.loggerApp = &app
	return LogCapability{
		Available: true,
		Method:    "dns_app_logging",
		App:       &app,
		Message:   fmt.Sprintf("query logs accessible via %s app (%d entries found)", app.Name, len(entries)),
	}
}

func (c *Client) queryLogsViaApp(ctx context.Context, app LoggerApp, start, end time.Time, limit int) ([]QueryLogEntry, error) {
	params := url.Values{}
	params.Set("name", app.Name)
	params.Set("classPath", app.ClassPath)
	params.Set("entriesPerPage", strconv.Itoa(limit))
	params.Set("pageNumber", "1")
	params.Set("start", start.UTC().Format("2006-01-02T15:04:05")+"Z")
	params.Set("end", end.UTC().Format("2006-01-02T15:04:05")+"Z")

	var payload struct {
		Entries []QueryLogEntry `json:"entries"`
	}
	if err := c.fetchData(ctx, "api/logs/query", params, &payload); err != nil {
		return nil, err
	}
	return payload.Entries, nil
}

// GetQueryLogs fetches a bounded window of query log entries, newest first.
// It relies on the logger app discovered by the last TestQueryLogAccess call
// and re-discovers it if needed.
func (c *Client) GetQueryLogs(ctx context.Context, start, end time.Time, limit int) ([]QueryLogEntry, error) {
	if c.loggerApp == nil {
		apps, err := c.getQueryLoggerApps(ctx)
		if err != nil {
			return nil, err
		}
		if len(apps) == 0 {
			return nil, fmt.Errorf("no DNS app with query logging capability found")
		}
		c.loggerApp = &apps[0]
	}

	c.logger.Debugf("Fetching query logs via app '%s': %s to %s, limit=%d",
		c.loggerApp.Name, start.Format(time.RFC3339), end.Format(time.RFC3339), limit)

	return c.queryLogsViaApp(ctx, *c.loggerApp, start, end, limit)
}
