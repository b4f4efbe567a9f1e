package devicepool

import (
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"quern/pkg/types"
)

// PlatformDevice is one row simctl reports about a simulator.
type PlatformDevice struct {
	UDID      string
	Name      string
	OSVersion string
	Family    string
	Booted    bool
}

// Platform abstracts the simctl/idevice tooling refresh reconciles
// against, so tests can stub it without shelling out.
type Platform interface {
	List(ctx context.Context) ([]PlatformDevice, error)
	Boot(ctx context.Context, udid string) error
	Shutdown(ctx context.Context, udid string) error
}

// SimctlPlatform shells out to xcrun simctl for the real device inventory.
type SimctlPlatform struct{}

type simctlDevice struct {
	UDID       string `json:"udid"`
	Name       string `json:"name"`
	State      string `json:"state"`
	IsAvailable bool  `json:"isAvailable"`
}

type simctlList struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

func (SimctlPlatform) List(ctx context.Context) ([]PlatformDevice, error) {
	cmd := exec.CommandContext(ctx, "xcrun", "simctl", "list", "devices", "-j")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var parsed simctlList
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, err
	}

	var devices []PlatformDevice
	for runtime, entries := range parsed.Devices {
		for _, d := range entries {
			if !d.IsAvailable {
				continue
			}
			devices = append(devices, PlatformDevice{
				UDID:      d.UDID,
				Name:      d.Name,
				OSVersion: runtime,
				Family:    "simulator",
				Booted:    d.State == "Booted",
			})
		}
	}
	return devices, nil
}

func (SimctlPlatform) Boot(ctx context.Context, udid string) error {
	return exec.CommandContext(ctx, "xcrun", "simctl", "boot", udid).Run()
}

func (SimctlPlatform) Shutdown(ctx context.Context, udid string) error {
	return exec.CommandContext(ctx, "xcrun", "simctl", "shutdown", udid).Run()
}

func bootStateOf(booted bool) types.BootState {
	if booted {
		return types.BootStateBooted
	}
	return types.BootStateShutdown
}

// refreshCacheTTL is how long Refresh results are reused before the next
// call re-queries the platform, per spec.md §4.J's "~2 s cache".
const refreshCacheTTL = 2 * time.Second
