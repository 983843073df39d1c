//go:build !linux || baremetal

package link

import (
	"errors"
	"net/netip"
)

func OpenTap(name string, ip netip.Prefix) (Device, error) {
	return nil, errors.ErrUnsupported
}

func OpenBridge(name string, ip netip.Prefix) (Device, error) {
	return nil, errors.ErrUnsupported
}
