package trackerdb

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	// import sqlite3 driver, so that database/sql package will know how to deal with "sqlite3" type
	_ "github.com/mattn/go-sqlite3"
)

// DeviceTrackerDB manages the database operations for tracked devices.
type DeviceTrackerDB struct {
	DB *sql.DB
}

const createTableQuery = `
CREATE TABLE IF NOT EXISTS dhcp_devices (
	mac_addr TEXT PRIMARY KEY,
	hostname TEXT,
	ip_addr TEXT,
	first_seen TEXT,
	last_seen TEXT
);
`

// NewDeviceTrackerDB opens (and if necessary initializes) the device
// history database at dbPath.
func NewDeviceTrackerDB(dbPath string) (*DeviceTrackerDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(createTableQuery); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize dhcp_devices table: %w", err)
	}

	return &DeviceTrackerDB{DB: db}, nil
}

// NewTestDB returns a mock DB for testing
func NewTestDB() DeviceTrackerDB {
	// Create an in-memory SQLite database for testing
	db, err := NewDeviceTrackerDB(":memory:")
	if err != nil {
		log.Fatal("Failed to initialize test database")
	}
	return *db
}

// NewTestDBWithData returns a mock DB for testing
func NewTestDBWithData(devicesInDB []TrackedDevice) DeviceTrackerDB {
	db := NewTestDB()

	// Insert test data into the database
	for _, device := range devicesInDB {
		err := db.UpsertDevice(device)
		if err != nil {
			log.Fatal("Failed to initialize test database")
		}
	}
	return db
}

// UpsertDevice inserts or refreshes a device row. On conflict the hostname,
// IP and last_seen are updated while first_seen keeps its original value.
func (d *DeviceTrackerDB) UpsertDevice(device TrackedDevice) error {
	insertQuery := `
	INSERT INTO dhcp_devices (mac_addr, hostname, ip_addr, first_seen, last_seen)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(mac_addr) DO UPDATE SET
		hostname=excluded.hostname,
		ip_addr=excluded.ip_addr,
		last_seen=excluded.last_seen;
	`

	firstSeen := device.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = device.LastSeen
	}

	_, err := d.DB.Exec(insertQuery, device.MacAddr, device.Hostname, device.IPAddr,
		firstSeen.UTC().Format(time.RFC3339), device.LastSeen.UTC().Format(time.RFC3339))
	if err != nil {
		return err
	}

	return nil
}

// GetDevice retrieves a tracked device by its normalized MAC address.
func (d *DeviceTrackerDB) GetDevice(macAddr string) (*TrackedDevice, error) {
	query := `SELECT mac_addr, hostname, ip_addr, first_seen, last_seen FROM dhcp_devices WHERE mac_addr = ?`
	row := d.DB.QueryRow(query, macAddr)

	var device TrackedDevice
	var firstSeen, lastSeen string

	err := row.Scan(&device.MacAddr, &device.Hostname, &device.IPAddr, &firstSeen, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("device with mac_addr %s not found", macAddr)
		}
		return nil, err
	}

	device.FirstSeen, err = parseTime(firstSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FirstSeen: %w", err)
	}
	device.LastSeen, err = parseTime(lastSeen)
	if err != nil {
		return nil, fmt.Errorf("failed to parse LastSeen: %w", err)
	}

	return &device, nil
}

// GetVanishedDevices finds devices in the database that are NOT appearing in
// the given set of normalized MAC addresses identifying the currently-leased
// devices. These are the "past devices" shown in the web UI.
func (d *DeviceTrackerDB) GetVanishedDevices(aliveMACs map[string]struct{}) ([]TrackedDevice, error) {
	rows, err := d.DB.Query("SELECT mac_addr, hostname, ip_addr, first_seen, last_seen FROM dhcp_devices")
	if err != nil {
		return nil, fmt.Errorf("failed to query dhcp_devices: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	// in case of errors, or zero results return an empty slice, not nil
	vanished := make([]TrackedDevice, 0)
	for rows.Next() {
		var device TrackedDevice
		var firstSeen, lastSeen string

		err := rows.Scan(&device.MacAddr, &device.Hostname, &device.IPAddr, &firstSeen, &lastSeen)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		device.FirstSeen, err = parseTime(firstSeen)
		if err != nil {
			return nil, fmt.Errorf("failed to parse FirstSeen: %w", err)
		}
		device.LastSeen, err = parseTime(lastSeen)
		if err != nil {
			return nil, fmt.Errorf("failed to parse LastSeen: %w", err)
		}

		if _, exists := aliveMACs[device.MacAddr]; !exists {
			vanished = append(vanished, device)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return vanished, nil
}

// PurgeStale deletes devices whose last_seen is older than the given
// retention and returns them, so the caller can log what was forgotten.
func (d *DeviceTrackerDB) PurgeStale(retention time.Duration) ([]TrackedDevice, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	rows, err := d.DB.Query("SELECT mac_addr, hostname, ip_addr, first_seen, last_seen FROM dhcp_devices WHERE last_seen < ?", cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query dhcp_devices: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	purged := make([]TrackedDevice, 0)
	for rows.Next() {
		var device TrackedDevice
		var firstSeen, lastSeen string
		if err := rows.Scan(&device.MacAddr, &device.Hostname, &device.IPAddr, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		device.FirstSeen, _ = parseTime(firstSeen)
		device.LastSeen, _ = parseTime(lastSeen)
		purged = append(purged, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(purged) > 0 {
		if _, err := d.DB.Exec("DELETE FROM dhcp_devices WHERE last_seen < ?", cutoff); err != nil {
			return nil, fmt.Errorf("failed to delete stale devices: %w", err)
		}
	}

	return purged, nil
}

// Helper function to parse a time string (assuming stored as ISO 8601 or RFC3339 format)
func parseTime(timeStr string) (time.Time, error) {
	return time.Parse(time.RFC3339, timeStr)
}
