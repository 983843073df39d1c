//go:build linux && !baremetal

package link

import (
	"net/netip"

	"github.com/packetgrove/swrouter/internal"
)

// OpenTap opens (creating if necessary) a TAP device named name and assigns
// it ip. Use it for interfaces the router owns end to end, such as in
// integration tests or a lab topology.
func OpenTap(name string, ip netip.Prefix) (Device, error) {
	return internal.NewTap(name, ip)
}

// OpenBridge attaches a raw AF_PACKET socket to the already-existing
// interface named name. Use it to bind the router to a real host NIC; ip is
// ignored since the interface's address is assumed already configured.
func OpenBridge(name string, _ netip.Prefix) (Device, error) {
	return internal.NewBridge(name)
}
