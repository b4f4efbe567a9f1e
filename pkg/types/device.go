package types

import "time"

// DeviceKind distinguishes simulators from physical devices.
type DeviceKind string

const (
	DeviceSimulator DeviceKind = "simulator"
	DevicePhysical  DeviceKind = "device"
)

// BootState mirrors simctl/device boot states Quern cares about.
type BootState string

const (
	BootStateBooted   BootState = "booted"
	BootStateShutdown BootState = "shutdown"
	BootStateUnknown  BootState = "unknown"
)

// DeviceRecord is one entry in the device pool, persisted under a file lock
// on device-pool.json. A record with ClaimedBy set is held exclusively by
// that session.
type DeviceRecord struct {
	UDID       string            `json:"udid"`
	Name       string            `json:"name"`
	Family     string            `json:"family"`
	OSVersion  string            `json:"os_version"`
	Kind       DeviceKind        `json:"kind"`
	BootState  BootState         `json:"boot_state"`
	ClaimedBy  string            `json:"claimed_by,omitempty"`
	ClaimedAt  time.Time         `json:"claimed_at,omitempty"`
	LastSeen   time.Time         `json:"last_seen"`
	Stale      bool              `json:"stale,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Claimed reports whether the record currently has an owning session.
func (d *DeviceRecord) Claimed() bool {
	return d.ClaimedBy != ""
}

// DevicePoolFile is the on-disk shape of device-pool.json.
type DevicePoolFile struct {
	Version   int                     `json:"version"`
	UpdatedAt time.Time               `json:"updated_at"`
	Devices   map[string]DeviceRecord `json:"devices"`
}

// ServerState is the single record describing the one running daemon
// instance, written atomically after the HTTP listener binds and deleted on
// clean shutdown.
type ServerState struct {
	PID            int       `json:"pid"`
	HTTPPort       int       `json:"http_port"`
	ProxyPort      int       `json:"proxy_port"`
	ProxyEnabled   bool      `json:"proxy_enabled"`
	ProxyRunning   bool      `json:"proxy_running"`
	StartedAt      time.Time `json:"started_at"`
	APIKey         string    `json:"api_key"`
	ActiveDevices  []string  `json:"active_devices,omitempty"`
}
