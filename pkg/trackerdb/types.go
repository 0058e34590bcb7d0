package trackerdb

import (
	"encoding/json"
	"time"
)

// TrackedDevice represents one device ever seen by the backend.
// The device might be currently leased or not; in other words this may
// represent a device that held a lease in the past but currently does not.
type TrackedDevice struct {
	MacAddr   string // normalized AA:BB:CC:DD:EE:FF
	Hostname  string
	IPAddr    string // last known IP
	FirstSeen time.Time
	LastSeen  time.Time
}

// MarshalJSON customizes the JSON serialization for TrackedDevice
func (d TrackedDevice) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		MacAddr   string `json:"mac_addr"`
		Hostname  string `json:"hostname"`
		IPAddr    string `json:"ip_addr"`
		FirstSeen int64  `json:"first_seen"`
		LastSeen  int64  `json:"last_seen"`
	}{
		MacAddr:   d.MacAddr,
		Hostname:  d.Hostname,
		IPAddr:    d.IPAddr,
		FirstSeen: d.FirstSeen.Unix(),
		LastSeen:  d.LastSeen.Unix(),
	})
}
