package uibackend

import (
	"technitium-dhcp-backend/pkg/presence"
	"technitium-dhcp-backend/pkg/trackerdb"
)

// PastDeviceData is one "past device": present in the history database but
// absent from the current lease list.
type PastDeviceData struct {
	PastInfo trackerdb.TrackedDevice `json:"past_info"`

	// LastSeenFriendly is the human-readable age of the last sighting,
	// e.g. "3 days 4 hours".
	LastSeenFriendly string `json:"last_seen_friendly"`
}

// WebSocketMessage defines which contents get transmitted over the websocket in the
// BACKEND -> UI direction.
// Any structure contained here should have a sensible JSON marshalling helper.
type WebSocketMessage struct {
	// Records contains the per-device presence view produced by the most
	// recent successful polling cycle.
	Records []presence.Record `json:"records"`

	// NewDevices / RemovedDevices are the normalized MACs that entered or
	// left the device set in the most recent cycle.
	NewDevices     []string `json:"new_devices"`
	RemovedDevices []string `json:"removed_devices"`

	// PastDevices contains the devices that held a lease in the past but
	// are absent from the current lease list.
	PastDevices []PastDeviceData `json:"past_devices"`
}

// StatusResponse is the payload of the read-only /api/status endpoint.
type StatusResponse struct {
	AddonVersion        string `json:"addon_version"`
	Uptime              string `json:"uptime"`
	DeviceCount         int    `json:"device_count"`
	LeaseSource         string `json:"lease_source"`
	LogTrackingEnabled  bool   `json:"log_tracking_enabled"`
	SmartActivity       bool   `json:"smart_activity_enabled"`
	PollInterval        string `json:"poll_interval"`
	ForgetVanishedAfter string `json:"forget_vanished_after"`
}

// AddonConfig contains the portion of the addon config.yaml this backend
// cares about.
type AddonConfig struct {
	Version string `yaml:"version"`
}
