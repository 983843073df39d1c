// Package link provides the router's link-layer shim: reading and writing
// raw Ethernet frames on a TAP device or a bridged NIC, with a reconnect
// loop that backs off when the underlying device goes away.
package link

import "net/netip"

// Device is anything the router can send and receive raw Ethernet frames
// on. internal.Tap and internal.Bridge both satisfy it.
type Device interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	HardwareAddress6() ([6]byte, error)
	Close() error
}

// Opener constructs a Device for a named interface, optionally assigning it
// ip (a TAP device needs an address; a Bridge attaches to an existing one
// and ip is ignored). Opener is the seam the Runner reconnects through.
type Opener func(name string, ip netip.Prefix) (Device, error)

// FrameHandler processes one received frame. frame is only valid for the
// duration of the call; implementations that need to keep it must copy.
type FrameHandler func(frame []byte) error
