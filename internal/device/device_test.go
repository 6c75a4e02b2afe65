package device

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stub(t *testing.T, ifaces []net.Interface, ifaceErr error, host string, hostErr error) {
	t.Helper()
	origIfaces, origHost := interfaces, hostname
	t.Cleanup(func() { interfaces, hostname = origIfaces, origHost })
	interfaces = func() ([]net.Interface, error) { return ifaces, ifaceErr }
	hostname = func() (string, error) { return host, hostErr }
}

func TestIdentify_Overrides(t *testing.T) {
	stub(t, nil, errors.New("unused"), "host", nil)
	dev := Identify(" kasa-01 ", " Ön Kasa ")
	assert.Equal(t, "kasa-01", dev.Identifier)
	assert.Equal(t, "Ön Kasa", dev.Name)
}

func TestIdentify_FirstNonLoopbackMAC(t *testing.T) {
	loop := net.Interface{Name: "lo", Flags: net.FlagLoopback | net.FlagUp, HardwareAddr: net.HardwareAddr{0, 0, 0, 0, 0, 0}}
	noAddr := net.Interface{Name: "tun0", Flags: net.FlagUp}
	eth := net.Interface{Name: "eth0", Flags: net.FlagUp, HardwareAddr: net.HardwareAddr{0xaa, 0xbb, 0xcc, 0x01, 0x02, 0x0f}}
	wlan := net.Interface{Name: "wlan0", Flags: net.FlagUp, HardwareAddr: net.HardwareAddr{1, 2, 3, 4, 5, 6}}
	stub(t, []net.Interface{loop, noAddr, eth, wlan}, nil, "pos-host", nil)

	dev := Identify("", "")
	assert.Equal(t, "AA:BB:CC:01:02:0F", dev.Identifier)
	assert.Equal(t, "pos-host", dev.Name)
}

func TestIdentify_Fallbacks(t *testing.T) {
	stub(t, nil, errors.New("no interfaces"), "", errors.New("no hostname"))
	dev := Identify("", "")
	assert.Equal(t, UnknownName, dev.Identifier)
	assert.Equal(t, UnknownName, dev.Name)
}
