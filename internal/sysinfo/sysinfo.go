// Package sysinfo collects host details for the node's status surfaces.
package sysinfo

import (
	"net"
	"os"
	"runtime"
	"time"
)

// Version is the daemon version, overridden at release time via
// -ldflags "-X github.com/axonlab/axond/internal/sysinfo.Version=...".
var Version = "dev"

var startTime = time.Now()

// maxAdvertisedIPs caps the address list in status payloads.
const maxAdvertisedIPs = 10

// Info describes the host a node is running on.
type Info struct {
	Hostname    string   `json:"hostname"`
	OS          string   `json:"os"`
	Arch        string   `json:"arch"`
	NumCPU      int      `json:"num_cpu"`
	GoVersion   string   `json:"go_version"`
	Version     string   `json:"version"`
	StartTime   int64    `json:"start_time"`
	IPAddresses []string `json:"ip_addresses,omitempty"`
}

// Collect gathers local host information.
func Collect() *Info {
	hostname, _ := os.Hostname()

	return &Info{
		Hostname:    hostname,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		NumCPU:      runtime.NumCPU(),
		GoVersion:   runtime.Version(),
		Version:     Version,
		StartTime:   startTime.Unix(),
		IPAddresses: localIPs(),
	}
}

// localIPs returns the host's IPv4 addresses, skipping loopback and
// interfaces that are down, capped at maxAdvertisedIPs.
func localIPs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var ips []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ipv4 := ipNet.IP.To4(); ipv4 != nil {
				ips = append(ips, ipv4.String())
				if len(ips) == maxAdvertisedIPs {
					return ips
				}
			}
		}
	}
	return ips
}
