package queue

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Gate decides whether a processing pass may run. Ready returns false
// with a short reason when a resource precondition is unmet; an unmet
// gate is not an error, the pass reschedules and exits quietly.
type Gate interface {
	Ready(ctx context.Context) (ok bool, reason string)
}

// AllowAll is a gate with no preconditions.
type AllowAll struct{}

func (AllowAll) Ready(context.Context) (bool, string) { return true, "" }

// SystemGate checks the host's power and network state against the
// configured constraints.
type SystemGate struct {
	RequireCharging bool
	RequireNetwork  bool

	// PowerSupplyDir is the sysfs power-supply root, overridable in tests.
	// Empty selects /sys/class/power_supply.
	PowerSupplyDir string
	// ProbeAddr is the host:port dialed for the network check. Empty
	// selects a public DNS endpoint.
	ProbeAddr string
}

const (
	defaultPowerSupplyDir = "/sys/class/power_supply"
	defaultProbeAddr      = "1.1.1.1:443"
	probeTimeout          = 3 * time.Second
)

// Ready checks each configured precondition in turn.
func (g *SystemGate) Ready(ctx context.Context) (bool, string) {
	if g.RequireCharging && !g.charging() {
		return false, "power: not charging"
	}
	if g.RequireNetwork && !g.online(ctx) {
		return false, "network: unreachable"
	}
	return true, ""
}

// charging reports whether any battery is charging or full, or whether
// a mains supply is online. A host with no power-supply entries (a
// desktop or a container) counts as powered.
func (g *SystemGate) charging() bool {
	dir := g.PowerSupplyDir
	if dir == "" {
		dir = defaultPowerSupplyDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		return true
	}
	for _, e := range entries {
		base := filepath.Join(dir, e.Name())
		if data, err := os.ReadFile(filepath.Join(base, "online")); err == nil {
			if strings.TrimSpace(string(data)) == "1" {
				return true
			}
			continue
		}
		if data, err := os.ReadFile(filepath.Join(base, "status")); err == nil {
			switch strings.TrimSpace(string(data)) {
			case "Charging", "Full":
				return true
			}
		}
	}
	return false
}

func (g *SystemGate) online(ctx context.Context) bool {
	addr := g.ProbeAddr
	if addr == "" {
		addr = defaultProbeAddr
	}
	dialCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
