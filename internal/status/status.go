// Package status collects host health data for the beacon status payload.
package status

import (
	"net"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// ServerStatus is the health snapshot advertised in beacons.
type ServerStatus struct {
	Hostname          string  `msgpack:"hostname"`
	CPUPercent        float64 `msgpack:"cpu_percent"`
	MemoryUsedPercent float64 `msgpack:"memory_used_percent"`
	Load1             float64 `msgpack:"load1"`
	UptimeSeconds     uint64  `msgpack:"uptime_seconds"`
}

// Provider implements the beacon ServerStatusProvider against the local host.
type Provider struct{}

// NewProvider returns a host-backed status provider.
func NewProvider() *Provider {
	return &Provider{}
}

// ServerStatus gathers the snapshot. Individual collectors may fail (exotic
// platforms, containers without /proc); their fields stay zero.
func (p *Provider) ServerStatus() (interface{}, error) {
	s := &ServerStatus{}
	s.Hostname, _ = os.Hostname()

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryUsedPercent = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		s.Load1 = avg.Load1
	}
	if up, err := host.Uptime(); err == nil {
		s.UptimeSeconds = up
	}
	return s, nil
}

// PrimaryIP returns the IPv4 (or, failing that, global IPv6) address of the
// first non-loopback interface that is up. Used to pick the advertised server
// address when the transport binds a wildcard.
func PrimaryIP() net.IP {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.To4() != nil {
				return ipNet.IP
			}
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.To16() != nil && !ipNet.IP.IsLinkLocalUnicast() {
				return ipNet.IP
			}
		}
	}
	return nil
}
