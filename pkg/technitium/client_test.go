package technitium

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"technitium-dhcp-backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.CustomLogger {
	return logger.NewCustomLogger("test")
}

// newTestServer builds a fake Technitium API with a DHCP scope and an
// optional query-logger DNS app.
func newTestServer(t *testing.T, withLoggerApp bool) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/dhcp/scopes/listLeases", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			fmt.Fprint(w, `{"status":"error","errorMessage":"Invalid token."}`)
			return
		}
		fmt.Fprint(w, `{
			"status": "ok",
			"response": {
				"leases": [
					{"address":"192.168.1.100","hardwareAddress":"AA-BB-CC-DD-EE-FF","hostName":"laptop","scope":"Default","type":"Dynamic"},
					{"address":"192.168.1.101","hardwareAddress":"11-22-33-44-55-66","type":"Reserved"}
				]
			}
		}`)
	})
	mux.HandleFunc("/api/apps/list", func(w http.ResponseWriter, r *http.Request) {
		if !withLoggerApp {
			fmt.Fprint(w, `{"status":"ok","response":{"apps":[]}}`)
			return
		}
		fmt.Fprint(w, `{
			"status": "ok",
			"response": {
				"apps": [
					{"name":"Query Logs (Sqlite)","dnsApps":[{"classPath":"QueryLogsSqlite.App","isQueryLogger":true}]},
					{"name":"Ad Block","dnsApps":[{"classPath":"AdBlock.App","isQueryLogger":false}]}
				]
			}
		}`)
	})
	mux.HandleFunc("/api/logs/query", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("name") == "" || q.Get("classPath") == "" {
			fmt.Fprint(w, `{"status":"error","errorMessage":"Parameter 'name' missing."}`)
			return
		}
		fmt.Fprint(w, `{
			"status": "ok",
			"response": {
				"entries": [
					{"clientIpAddress":"192.168.1.100","timestamp":"2024-01-15T10:30:00Z","protocol":"Udp","question":{"name":"example.com","type":"A"}}
				]
			}
		}`)
	})

	return httptest.NewServer(mux)
}

func TestGetDhcpLeases(t *testing.T) {
	srv := newTestServer(t, true)
	defer srv.Close()

	c := NewClient(srv.URL, "secret", testLogger())
	leases, err := c.GetDhcpLeases(context.Background())
	require.NoError(t, err)
	require.Len(t, leases, 2)

	assert.Equal(t, "192.168.1.100", leases[0].Address)
	assert.Equal(t, "AA-BB-CC-DD-EE-FF", leases[0].HardwareAddress)
	assert.Equal(t, "laptop", leases[0].HostName)
	assert.Equal(t, "Dynamic", leases[0].Type)
	assert.Equal(t, "Reserved", leases[1].Type)
	assert.Empty(t, leases[1].HostName)
}

func TestGetDhcpLeasesBadStatus(t *testing.T) {
	srv := newTestServer(t, true)
	defer srv.Close()

	c := NewClient(srv.URL, "", testLogger())
	_, err := c.GetDhcpLeases(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadStatus)
}

func TestQueryLogAccessAvailable(t *testing.T) {
	srv := newTestServer(t, true)
	defer srv.Close()

	c := NewClient(srv.URL, "secret", testLogger())
	capability := c.TestQueryLogAccess(context.Background())
	assert.True(t, capability.Available)
	assert.Equal(t, "dns_app_logging", capability.Method)
	require.NotNil(t, capability.App)
	assert.Equal(t, "Query Logs (Sqlite)", capability.App.Name)

	// the probe result is reused for the actual log fetch
	entries, err := c.GetQueryLogs(context.Background(), time.Now().Add(-time.Hour), time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "192.168.1.100", entries[0].ClientIPAddress)
	assert.Equal(t, "example.com", entries[0].Question.Name)
	assert.Equal(t, "A", entries[0].Question.Type)
}

func TestQueryLogAccessNoLoggerApp(t *testing.T) {
	srv := newTestServer(t, false)
	defer srv.Close()

	c := NewClient(srv.URL, "secret", testLogger())
	capability := c.TestQueryLogAccess(context.Background())
	assert.False(t, capability.Available)
	assert.Equal(t, "no_query_logger", capability.Method)
	assert.NotEmpty(t, capability.Message)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"2024-01-15T10:30:00Z", true},
		{"2024-01-15T10:30:00.000Z", true},
		{"2024-01-15T10:30:00+02:00", true},
		{"2024-01-15T10:30:00", true}, // zone-less, assumed UTC
		{"", false},
		{"not-a-timestamp", false},
		{"15/01/2024 10:30", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ts, ok := ParseTimestamp(tt.input)
			assert.Equal(t, tt.valid, ok)
			if ok {
				assert.False(t, ts.IsZero())
			}
		})
	}
}
