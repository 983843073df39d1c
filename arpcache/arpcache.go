// Package arpcache implements the router's ARP resolution subsystem: a
// fixed-capacity address cache with TTL-based aging, a queue of pending
// resolution requests each holding the frames deferred behind it, and the
// periodic sweeper that ages out cache entries and drives retransmission.
//
// All cache and pending-queue state is guarded by a single mutex. Per the
// redesign guidance for a safe reimplementation of the original recursive-
// mutex design, Tick never performs I/O (building packets, invoking the
// Sender callback) while holding the lock: it records the work to do under
// the lock, releases it, then sends. This sidesteps the need for a
// recursive mutex entirely, since the Sender callback is guaranteed to run
// outside any lock held by this package.
package arpcache

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/packetgrove/swrouter/arp"
	"github.com/packetgrove/swrouter/ethernet"
	"github.com/packetgrove/swrouter/internal"
	"github.com/packetgrove/swrouter/ipv4"
	"github.com/packetgrove/swrouter/ipv4/icmpv4"
)

const (
	// CacheSize is the fixed capacity of the ARP address cache.
	CacheSize = 100
	// EntryTTL is how long a resolved cache entry remains valid.
	EntryTTL = 15 * time.Second
	// RetransmitInterval is the minimum spacing between ARP request
	// retransmissions for a single pending resolution.
	RetransmitInterval = 1 * time.Second
	// MaxAttempts is the number of ARP requests sent for a pending
	// resolution before it is abandoned and an ICMP error is synthesized
	// for every frame queued behind it.
	MaxAttempts = 5
)

type arpEntry struct {
	ip      [4]byte
	mac     [6]byte
	addedAt time.Time
	valid   bool
}

// PendingFrame is an owned copy of a frame deferred behind an in-flight
// ARP resolution, along with the interfaces it arrived on and must leave
// on once resolved.
type PendingFrame struct {
	Data         []byte
	IngressIface string
	EgressIface  string
}

// PendingRequest is a snapshot of an ARP resolution taken out of the
// pending queue by Insert, handed to the caller to replay.
type PendingRequest struct {
	IP     [4]byte
	Frames []PendingFrame
}

type pendingRequest struct {
	ip          [4]byte
	firstSentAt time.Time
	lastSentAt  time.Time
	timesSent   uint32
	frames      []PendingFrame
}

// IfaceInfo is the minimal interface identity arpcache needs to build ARP
// requests and ICMP errors: its MAC and IPv4 address. Kept as a tiny local
// type instead of importing the iface package, so arpcache.Tick can build
// and send packets without depending on the dispatcher's interface
// registry type.
type IfaceInfo struct {
	MAC [6]byte
	IP  [4]byte
}

// IfaceLookup resolves an interface name to its identity, as known by the
// caller's interface registry.
type IfaceLookup func(name string) (IfaceInfo, bool)

// Sender transmits a complete Ethernet frame out the named interface. It
// mirrors the link layer's send_frame collaborator.
type Sender func(frame []byte, ifaceName string) error

// Cache is the ARP resolution subsystem: the fixed-capacity address cache
// plus the pending-request queue, both guarded by a single mutex.
//
// The zero value is not usable; construct one with New.
type Cache struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	ifaces  IfaceLookup
	log     *slog.Logger
	entries [CacheSize]arpEntry
	pending []*pendingRequest
	rng     uint32
}

// New constructs a Cache. ifaces resolves interface names to their
// MAC/IPv4 identity for building outbound ARP requests and ICMP errors
// during Tick; clock supplies the subsystem's notion of "now", defaulting
// to the real wall clock if nil.
func New(ifaces IfaceLookup, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{
		ifaces: ifaces,
		clock:  clock,
		rng:    0x9e3779b9, // arbitrary nonzero xorshift seed.
		log:    slog.Default(),
	}
}

// SetLogger overrides the logger used by Cache, defaulting to slog.Default().
func (c *Cache) SetLogger(log *slog.Logger) { c.log = log }

// Lookup returns the MAC address of the valid cache entry matching ip, if
// any. The returned MAC is a copy.
func (c *Cache) Lookup(ip [4]byte) (mac [6]byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.valid && e.ip == ip {
			return e.mac, true
		}
	}
	return mac, false
}

// Queue finds or creates the pending resolution request for ip and
// prepends an owned copy of frame to its list of deferred frames, so that
// frames queued behind a resolution are flushed in LIFO order of arrival
// once it completes. On creation, the request's lastSentAt is left at the
// zero time so the very next Tick sends the first request immediately.
func (c *Cache) Queue(ip [4]byte, frame []byte, ingressIface, egressIface string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := c.findPendingLocked(ip)
	if req == nil {
		req = &pendingRequest{ip: ip}
		c.pending = append(c.pending, req)
	}
	pf := PendingFrame{Data: bytes.Clone(frame), IngressIface: ingressIface, EgressIface: egressIface}
	req.frames = append([]PendingFrame{pf}, req.frames...)
}

func (c *Cache) findPendingLocked(ip [4]byte) *pendingRequest {
	for _, r := range c.pending {
		if r.ip == ip {
			return r
		}
	}
	return nil
}

// Insert writes the ip→mac mapping into the cache. An existing valid entry
// for ip is overwritten in place, so a fresh reply for an already-cached IP
// refreshes it instead of creating a second valid entry; the cache never
// holds two valid entries with the same IP. Otherwise the first invalid
// slot is used, or, if the cache is full, a pseudo-randomly chosen slot is
// evicted instead. If a pending resolution request exists for ip, it is
// removed from the pending queue and returned for the caller to replay and
// then discard; the request's frames remain allocated until the caller is
// done with them.
func (c *Cache) Insert(mac [6]byte, ip [4]byte) (*PendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := -1
	for i, e := range c.entries {
		if e.valid && e.ip == ip {
			slot = i
			break
		}
	}
	if slot < 0 {
		for i, e := range c.entries {
			if !e.valid {
				slot = i
				break
			}
		}
	}
	if slot < 0 {
		c.rng = internal.Prand32(c.rng)
		slot = int(c.rng % CacheSize)
	}
	c.entries[slot] = arpEntry{ip: ip, mac: mac, addedAt: c.clock.Now(), valid: true}

	for i, r := range c.pending {
		if r.ip != ip {
			continue
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		return &PendingRequest{IP: r.ip, Frames: r.frames}, true
	}
	return nil, false
}

// Destroy removes the pending request for ip from the queue, if present,
// discarding its queued frames. It is a no-op if no such request exists,
// which is the common case after Insert has already removed it.
func (c *Cache) Destroy(ip [4]byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.pending {
		if r.ip == ip {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

// PendingDepth returns the number of outstanding pending resolution
// requests, for metrics reporting.
func (c *Cache) PendingDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// exhaustedWork and retryWork are the two kinds of I/O Tick must perform
// after releasing the lock.
type exhaustedWork struct {
	req *pendingRequest
}

type retryWork struct {
	ip          [4]byte
	egressIface string
}

// Tick ages out expired cache entries and advances every pending
// resolution request: requests due for retransmission either get a fresh
// broadcast ARP request, or — once MaxAttempts is reached — have every
// queued frame answered with an ICMP Destination Host Unreachable sent
// back to its original sender, and are then discarded. send transmits the
// frames Tick builds; it is always called without the subsystem's lock
// held.
func (c *Cache) Tick(now time.Time, send Sender) {
	var exhausted []exhaustedWork
	var retries []retryWork

	c.mu.Lock()
	for i := range c.entries {
		if c.entries[i].valid && now.Sub(c.entries[i].addedAt) > EntryTTL {
			c.entries[i].valid = false
		}
	}
	remaining := c.pending[:0]
	for _, r := range c.pending {
		if now.Sub(r.lastSentAt) < RetransmitInterval {
			remaining = append(remaining, r)
			continue
		}
		if r.timesSent >= MaxAttempts {
			exhausted = append(exhausted, exhaustedWork{req: r})
			continue // dropped from pending, not re-added to remaining.
		}
		r.lastSentAt = now
		r.timesSent++
		if r.firstSentAt.IsZero() {
			r.firstSentAt = now
		}
		egress := ""
		if len(r.frames) > 0 {
			egress = r.frames[0].EgressIface
		}
		retries = append(retries, retryWork{ip: r.ip, egressIface: egress})
		remaining = append(remaining, r)
	}
	c.pending = remaining
	c.mu.Unlock()

	for _, w := range retries {
		c.sendARPRequest(w.ip, w.egressIface, send)
	}
	for _, w := range exhausted {
		c.sendExhaustionErrors(w.req, send)
	}
}

func (c *Cache) sendARPRequest(targetIP [4]byte, egressIface string, send Sender) {
	info, ok := c.ifaces(egressIface)
	if !ok {
		c.log.Warn("arpcache: unknown egress interface for retry", slog.String("iface", egressIface))
		return
	}
	var buf [42]byte // 14 ethernet + 28 ARP.
	efrm, err := ethernet.NewFrame(buf[:])
	if err != nil {
		return
	}
	efrm.ClearHeader()
	*efrm.DestinationHardwareAddr() = ethernet.BroadcastAddr()
	*efrm.SourceHardwareAddr() = info.MAC
	efrm.SetEtherType(ethernet.TypeARP)
	_, err = arp.BuildRequest(buf[14:], info.MAC, info.IP, targetIP)
	if err != nil {
		c.log.Warn("arpcache: failed to build retry ARP request", slog.Any("error", err))
		return
	}
	if err := send(buf[:], egressIface); err != nil {
		c.log.Warn("arpcache: send_frame failed for ARP request", slog.Any("error", err))
	}
}

func (c *Cache) sendExhaustionErrors(req *pendingRequest, send Sender) {
	for _, pf := range req.frames {
		ingressInfo, ok := c.ifaces(pf.IngressIface)
		if !ok {
			c.log.Warn("arpcache: unknown ingress interface for exhausted resolution", slog.String("iface", pf.IngressIface))
			continue
		}
		c.sendHostUnreachable(pf, ingressInfo, send)
	}
}

func (c *Cache) sendHostUnreachable(pf PendingFrame, ingress IfaceInfo, send Sender) {
	efrm, err := ethernet.NewFrame(pf.Data)
	if err != nil || efrm.EtherTypeOrSize() != ethernet.TypeIPv4 {
		return
	}
	origIP, err := ipv4.NewFrame(efrm.Payload())
	if err != nil {
		return
	}
	var buf [14 + 20 + 8 + 28]byte
	outEth, _ := ethernet.NewFrame(buf[:14])
	outEth.ClearHeader()
	*outEth.DestinationHardwareAddr() = *efrm.SourceHardwareAddr()
	*outEth.SourceHardwareAddr() = ingress.MAC
	outEth.SetEtherType(ethernet.TypeIPv4)

	outIP, _ := ipv4.NewFrame(buf[14 : 14+20])
	outIP.ClearHeader()
	outIP.SetVersionAndIHL(4, 5)
	outIP.SetTotalLength(20 + 8 + 28)
	outIP.SetFlags(ipv4.Flags(0x4000)) // DF
	outIP.SetTTL(64)
	outIP.SetProtocol(icmpProto)
	*outIP.SourceAddr() = ingress.IP
	*outIP.DestinationAddr() = *origIP.SourceAddr()
	outIP.SetCRC(0)
	outIP.SetCRC(outIP.CalculateHeaderCRC())

	n := icmpv4.BuildError(buf[14+20:], icmpv4.TypeDestinationUnreachable, uint8(icmpv4.CodeHostUnreachable), origIP.RawData())
	if n == 0 {
		return
	}
	if err := send(buf[:14+20+n], pf.IngressIface); err != nil {
		c.log.Warn("arpcache: send_frame failed for host-unreachable", slog.Any("error", err))
	}
}

// icmpProto is swrouter.IPProtoICMP, duplicated here as a plain constant
// to avoid importing the root package solely for one protocol number
// (ipv4 already re-exports swrouter.IPProto as its Protocol field type).
const icmpProto = 1
