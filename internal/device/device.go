// Package device resolves the identity this install reports to the relay.
package device

import (
	"net"
	"os"
	"strings"

	"tezgah/backend/internal/domain"
)

const UnknownName = "Unknown"

var (
	interfaces = net.Interfaces
	hostname   = os.Hostname
)

// Identify returns the device identity. Overrides win; otherwise the id is
// the first non-loopback hardware address and the name is the hostname.
func Identify(overrideID, overrideName string) domain.Device {
	id := strings.TrimSpace(overrideID)
	if id == "" {
		id = primaryMAC()
	}
	if id == "" {
		id = UnknownName
	}

	name := strings.TrimSpace(overrideName)
	if name == "" {
		if h, err := hostname(); err == nil && strings.TrimSpace(h) != "" {
			name = strings.TrimSpace(h)
		} else {
			name = UnknownName
		}
	}
	return domain.Device{Identifier: id, Name: name}
}

func primaryMAC() string {
	ifaces, err := interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ToUpper(iface.HardwareAddr.String())
	}
	return ""
}
