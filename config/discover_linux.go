//go:build linux

package config

import (
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/packetgrove/swrouter/iface"
)

// DiscoverInterfaces builds an Interface list from the real host interfaces
// named in names, reading their hardware address and first IPv4/netmask
// via netlink instead of a YAML fixture. It is meant for operators who want
// the router bound to genuine NICs rather than a configuration file.
func DiscoverInterfaces(names []string) ([]iface.Interface, error) {
	out := make([]iface.Interface, 0, len(names))
	for _, name := range names {
		link, err := netlink.LinkByName(name)
		if err != nil {
			return nil, fmt.Errorf("config: discovering %q: %w", name, err)
		}
		addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
		if err != nil {
			return nil, fmt.Errorf("config: listing addresses of %q: %w", name, err)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("config: interface %q has no IPv4 address", name)
		}
		var mac [6]byte
		copy(mac[:], link.Attrs().HardwareAddr)

		ones, _ := addrs[0].Mask.Size()
		maskBits := uint32(0xffffffff) << uint(32-ones)
		mask := netip.AddrFrom4([4]byte{
			byte(maskBits >> 24), byte(maskBits >> 16), byte(maskBits >> 8), byte(maskBits),
		})
		addr, ok := netip.AddrFromSlice(addrs[0].IP.To4())
		if !ok {
			return nil, fmt.Errorf("config: interface %q address %s is not IPv4", name, addrs[0].IP)
		}
		out = append(out, iface.Interface{Name: name, MAC: mac, Addr: addr, Mask: mask})
	}
	return out, nil
}
