package uibackend

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"slices"
	"sync"
	"time"

	"technitium-dhcp-backend/pkg/dnsmasqsource"
	"technitium-dhcp-backend/pkg/ipfilter"
	"technitium-dhcp-backend/pkg/leases"
	"technitium-dhcp-backend/pkg/logger"
	"technitium-dhcp-backend/pkg/presence"
	"technitium-dhcp-backend/pkg/technitium"
	"technitium-dhcp-backend/pkg/tracker"
	"technitium-dhcp-backend/pkg/trackerdb"

	human_duration "github.com/davidbanham/human_duration/v3"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"
)

const (
	defaultHomeAssistantOptionsFile = "/data/options.json"
	defaultHomeAssistantConfigFile  = "/app/config.yaml"
	defaultDeviceTrackerDB          = "/data/device-tracker.db"

	websocketRelativeUrl = "/ws"

	// how often the vanished-devices purge runs
	vanishedDevicesCheckInterval = 1 * time.Hour
)

type UIBackend struct {
	logger *logger.CustomLogger

	// The configuration for this backend
	options AddonOptions
	config  AddonConfig

	// time this application was started
	startTimestamp time.Time

	// the actual HTTP server
	server   http.Server
	upgrader websocket.Upgrader

	// map of connected websockets
	clients     map[*websocket.Conn]bool
	clientsLock sync.Mutex

	// the reconciliation coordinator owning the polling loop and the
	// most updated view on tracked devices
	coordinator *tracker.Coordinator

	// DB tracking all devices ever seen, used to provide the "past devices" feature
	trackerDB trackerdb.DeviceTrackerDB

	// channel used to broadcast tabular data from backend->frontend
	broadcastCh chan struct{}
}

func NewUIBackend(logger *logger.CustomLogger) UIBackend {
	db, err := trackerdb.NewDeviceTrackerDB(defaultDeviceTrackerDB)
	if err != nil {
		logger.Fatalf("Failed to open device tracking DB: %s", err.Error())
		return UIBackend{}
	}

	logger.Infof("Successfully opened device tracking DB at %s", defaultDeviceTrackerDB)

	return UIBackend{
		logger:         logger,
		startTimestamp: time.Now(),
		clients:        make(map[*websocket.Conn]bool),
		trackerDB:      *db,
		broadcastCh:    make(chan struct{}, 1),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		server: http.Server{
			Addr:              "",
			Handler:           nil,
			ReadHeaderTimeout: 3 * time.Second,
		},
	}
}

func (b *UIBackend) logRequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// this logging is quite verbose, enable only if explicitly asked so
		if b.options.logWebUI {
			b.logger.Infof("Method: %s, URL: %s, Host: %s, RemoteAddr: %s\n",
				r.Method, r.URL.String(), r.Host, r.RemoteAddr)
		}

		// keep serving the request
		next.ServeHTTP(w, r)
	})
}

func (b *UIBackend) generateWebSocketMessage() WebSocketMessage {
	records := b.coordinator.CurrentRecords()
	delta := b.coordinator.LastDelta()

	// sort the slice by IP (the user can sort again later based on some other criteria):
	slices.SortFunc(records, func(a, b presence.Record) int {
		addrA, errA := netip.ParseAddr(a.Lease.IPAddress)
		addrB, errB := netip.ParseAddr(b.Lease.IPAddress)
		if errA != nil || errB != nil {
			return cmp.Compare(a.Lease.IPAddress, b.Lease.IPAddress)
		}
		return addrA.Compare(addrB)
	})

	currentMACs := make(map[string]struct{}, len(records))
	for _, rec := range records {
		currentMACs[rec.Lease.MACAddress] = struct{}{}
	}

	// now get from the tracker DB some historical data about vanished devices
	vanished, err := b.trackerDB.GetVanishedDevices(currentMACs)
	if err != nil {
		b.logger.Warnf("failed to get list of past devices: %s", err.Error())
		// keep going with an empty list
		vanished = []trackerdb.TrackedDevice{}
	} else if b.options.logWebUI {
		b.logger.Infof("Running query to the tracker DB: found %d past devices", len(vanished))
	}

	pastDevices := make([]PastDeviceData, len(vanished))
	for i, d := range vanished {
		pastDevices[i].PastInfo = d
		pastDevices[i].LastSeenFriendly = human_duration.ShortString(time.Since(d.LastSeen), human_duration.Minute)
	}

	// sort the slice by LastSeen (the user can sort again later based on some other criteria):
	slices.SortFunc(pastDevices, func(a, b PastDeviceData) int {
		return cmp.Compare(a.PastInfo.LastSeen.Unix(), b.PastInfo.LastSeen.Unix())
	})

	// finally build the websocket message
	return WebSocketMessage{
		Records:        records,
		NewDevices:     delta.New,
		RemovedDevices: delta.Removed,
		PastDevices:    pastDevices,
	}
}

// WebSocket connection handler
func (b *UIBackend) handleWebSocketConn(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warnf("Failed to upgrade websocket connection: %s", err)
		return
	}
	defer func() {
		_ = ws.Close()
	}()

	msg := b.generateWebSocketMessage()
	b.logger.Infof("Received new websocket client: pushing %d/%d current/past devices to it",
		len(msg.Records), len(msg.PastDevices))

	// register new client
	b.clientsLock.Lock()
	b.clients[ws] = true
	if err := ws.WriteJSON(msg); err != nil { // push the current status on the websocket
		b.logger.Warnf("failed to push initial data to the new websocket: %s", err.Error())
		// keep going, we will delete the client connection shortly in the loop below if the error
		// keeps popping up
	}
	b.clientsLock.Unlock()

	// listen till the end of the websocket
	for {
		var msg WebSocketMessage
		err := ws.ReadJSON(&msg)
		if err != nil {
			b.logger.Warnf("failed to read JSON from WebSocket: %v", err)
			b.clientsLock.Lock()
			delete(b.clients, ws)
			b.clientsLock.Unlock()
			break
		}
	}
}

// Broadcast updater: any update posted on the broadcastCh is broadcasted to all clients
func (b *UIBackend) broadcastUpdatesToClients() {
	var tickerCh <-chan time.Time
	if b.options.webUIRefreshInterval > 0 {
		ticker := time.NewTicker(b.options.webUIRefreshInterval)
		tickerCh = ticker.C
	} else {
		// refresh is disabled, create a channel that will never get a message
		tickerCh = make(<-chan time.Time)
	}

	for {
		select {
		case <-b.broadcastCh:
			// if we get a message from this channel, it means a polling cycle
			// just committed an updated device view

		case <-tickerCh:
			// let's refresh the websocket with whatever data we already have;
			// this is done for 2 reasons:
			// 1. trigger a refresh on the webpage (the JS client-side will recompute
			//    countdowns, etc)
			// 2. keep the websocket TCP connection alive (otherwise it might be
			//    considered "stale" and get reset)
		}

		if len(b.clients) > 0 {
			// regen message
			msg := b.generateWebSocketMessage()

			// loop over all clients
			numSuccess := 0
			b.clientsLock.Lock()
			for client := range b.clients {
				err := client.WriteJSON(msg)
				if err != nil {
					b.logger.Warnf("failed writing JSON to WebSocket: %v", err)
					_ = client.Close()
					delete(b.clients, client)
				} else {
					numSuccess++
				}
			}
			b.clientsLock.Unlock()

			if b.options.logWebUI {
				b.logger.Infof("Successfully pushed %d/%d current/past devices to %d websockets",
					len(msg.Records), len(msg.PastDevices), numSuccess)
			}
		}
	}
}

// handleDevices serves the read-only JSON view of the current device records.
func (b *UIBackend) handleDevices(w http.ResponseWriter, _ *http.Request) {
	msg := b.generateWebSocketMessage()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		b.logger.Warnf("failed to encode devices response: %s", err.Error())
	}
}

func (b *UIBackend) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := StatusResponse{
		AddonVersion:        b.config.Version,
		Uptime:              human_duration.ShortString(time.Since(b.startTimestamp), human_duration.Second),
		DeviceCount:         len(b.coordinator.CurrentRecords()),
		LeaseSource:         b.options.leaseSource,
		LogTrackingEnabled:  b.options.enableLogTracking,
		SmartActivity:       b.options.smartActivityEnabled,
		PollInterval:        b.options.pollInterval.String(),
		ForgetVanishedAfter: human_duration.ShortString(b.options.forgetVanishedAfter, human_duration.Minute),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		b.logger.Warnf("failed to encode status response: %s", err.Error())
	}
}

// readAddonOptions reads the OPTIONS of this Home Assistant addon and converts it
// into the validated settings stored into the UIBackend instance
func (b *UIBackend) readAddonOptions() error {
	b.logger.Infof("Reading addon options file '%s'\n", defaultHomeAssistantOptionsFile)

	optionFile, errOpen := os.Open(defaultHomeAssistantOptionsFile)
	if errOpen != nil {
		return errOpen
	}
	defer func() {
		_ = optionFile.Close()
	}()

	// read whole file
	data, err := io.ReadAll(optionFile)
	if err != nil {
		return err
	}

	// JSON parse
	err = json.Unmarshal(data, &b.options)
	if err != nil {
		return err
	}

	return nil
}

// readAddonConfig reads the CONFIG of this Home Assistant addon
func (b *UIBackend) readAddonConfig() error {
	b.logger.Infof("Reading addon config file '%s'\n", defaultHomeAssistantConfigFile)

	cfgFile, errOpen := os.Open(defaultHomeAssistantConfigFile)
	if errOpen != nil {
		return errOpen
	}
	defer func() {
		_ = cfgFile.Close()
	}()

	d := yaml.NewDecoder(cfgFile)
	for {
		addonCfg := new(AddonConfig)
		err := d.Decode(&addonCfg)
		// break the loop in case of EOF
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		// check it was parsed
		if addonCfg == nil {
			continue
		}

		// check if the version is set
		if addonCfg.Version != "" {
			b.config = *addonCfg
			break
		}
	}

	b.logger.Infof("Acquired addon version: %s\n", b.config.Version)
	return nil
}

// forgetVanishedDevices typically runs in a separate goroutine and removes past devices
// above some configurable threshold
func (b *UIBackend) forgetVanishedDevices() {
	for {
		purged, err := b.trackerDB.PurgeStale(b.options.forgetVanishedAfter)

		if err != nil {
			b.logger.Warnf("failed to purge past devices from tracker DB: %s", err.Error())
		} else if len(purged) > 0 {
			desc := ""
			for _, d := range purged {
				desc += fmt.Sprintf("%s (%s), ", d.MacAddr, d.Hostname)
			}
			b.logger.Infof("Purged %d past devices from tracker DB, last seen more than %s time ago: %s",
				len(purged), b.options.forgetVanishedAfter, desc)
		}

		time.Sleep(vanishedDevicesCheckInterval) // wait some time before next check
	}
}

// buildCoordinator wires the configured lease source, the Technitium log
// source and the normalizer into the reconciliation coordinator.
func (b *UIBackend) buildCoordinator() error {
	filter, rejected := ipfilter.NewFilter(b.options.ipFilterMode, b.options.ipRanges)
	for _, reason := range rejected {
		b.logger.Warnf("Ignoring IP filter entry: %s", reason)
	}

	if b.options.logTracking {
		b.logger.EnableDebug(true)
	}

	normalizer := leases.NewNormalizer(filter, b.logger)
	client := technitium.NewClient(b.options.serverURL, b.options.apiToken, b.logger)

	var leaseSource tracker.LeaseSource = client
	if b.options.leaseSource == "dnsmasq" {
		b.logger.Infof("Using dnsmasq lease file as lease source")
		leaseSource = dnsmasqsource.NewSource(b.options.dnsmasqLeaseFile, b.logger)
	}

	cfg := tracker.Config{
		PollInterval:           b.options.pollInterval,
		LogTrackingEnabled:     b.options.enableLogTracking,
		SmartActivityEnabled:   b.options.smartActivityEnabled,
		StaleThresholdMinutes:  b.options.staleThresholdMinutes,
		ActivityScoreThreshold: b.options.activityScoreThreshold,
		AnalysisWindow:         time.Duration(b.options.analysisWindowMinutes) * time.Minute,
	}
	b.coordinator = tracker.NewCoordinator(cfg, leaseSource, client, normalizer, &b.trackerDB, b.broadcastCh, b.logger)
	return nil
}

// ListenAndServe is starting the whole backend:
// a web server, a WebSocket server, the polling coordinator, etc
func (b *UIBackend) ListenAndServe() error {
	if err := b.readAddonOptions(); err != nil {
		b.logger.Fatalf("error while reading HomeAssistant addon options: %s\n", err.Error())
		return err
	}
	if err := b.readAddonConfig(); err != nil {
		b.logger.Fatalf("error while reading HomeAssistant addon config: %s\n", err.Error())
		return err
	}
	if err := b.buildCoordinator(); err != nil {
		b.logger.Fatalf("error while setting up the polling coordinator: %s\n", err.Error())
		return err
	}

	mux := http.NewServeMux()

	// Log requests (for debug only) + serve the read-only JSON API
	mux.Handle("/api/devices", b.logRequestMiddleware(http.HandlerFunc(b.handleDevices)))
	mux.Handle("/api/status", b.logRequestMiddleware(http.HandlerFunc(b.handleStatus)))

	// Serve Websocket requests
	mux.HandleFunc(websocketRelativeUrl, b.handleWebSocketConn)

	// Start the polling loop: one immediate cycle, then one per poll interval
	b.coordinator.Start(context.Background())

	// Read from the broadcastCh chan and push to all Websocket clients
	go b.broadcastUpdatesToClients()

	// Check old tracker DB entries and delete them
	if b.options.forgetVanishedAfter > 0 {
		go b.forgetVanishedDevices()
	}

	// Start server
	b.logger.Infof("Starting server to listen on port %d\n", b.options.webUIPort)
	b.server.Addr = fmt.Sprintf(":%d", b.options.webUIPort)
	b.server.Handler = mux
	return b.server.ListenAndServe()
}
