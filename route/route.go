// Package route holds the router's static routing table: an ordered list
// of CIDR routes resolved by longest-prefix-match. The table is built once
// at startup and never mutated, mirroring the Interface Registry's
// read-only contract.
package route

import "net/netip"

// Route is a single static routing table entry. Gateway may be the zero
// Addr, meaning the destination is on-link and should be resolved via its
// own address rather than through a next-hop gateway.
type Route struct {
	Dest      netip.Addr
	Mask      netip.Addr
	Gateway   netip.Addr
	IfaceName string
}

// matches reports whether dst, masked with the route's mask, equals the
// route's network address.
func (r Route) matches(dst netip.Addr) bool {
	if !r.Dest.Is4() || !dst.Is4() || !r.Mask.Is4() {
		return false
	}
	d := dst.As4()
	net := r.Dest.As4()
	m := r.Mask.As4()
	for i := range d {
		if d[i]&m[i] != net[i]&m[i] {
			return false
		}
	}
	return true
}

func (r Route) prefixLen() int {
	if !r.Mask.Is4() {
		return 0
	}
	m := r.Mask.As4()
	n := 0
	for _, byt := range m {
		for mbit := byte(0x80); mbit != 0; mbit >>= 1 {
			if byt&mbit == 0 {
				return n
			}
			n++
		}
	}
	return n
}

// Table is an ordered, read-only set of routes.
type Table struct {
	routes []Route
}

// NewTable freezes routes into a Table, preserving their input order for
// first-match tie-breaking during longest-prefix-match lookups.
func NewTable(routes []Route) *Table {
	t := &Table{routes: make([]Route, len(routes))}
	copy(t.routes, routes)
	return t
}

// LongestPrefixMatch scans every route for one whose masked network
// matches dst, and returns the match with the longest netmask prefix.
// Ties (equal prefix length) are broken by table order: the first
// matching route wins. Returns false if no route matches, meaning the
// caller must treat dst as unroutable.
func (t *Table) LongestPrefixMatch(dst netip.Addr) (Route, bool) {
	var best Route
	bestLen := -1
	found := false
	for _, r := range t.routes {
		if !r.matches(dst) {
			continue
		}
		if pl := r.prefixLen(); pl > bestLen {
			best = r
			bestLen = pl
			found = true
		}
	}
	return best, found
}

// Routes returns the routes held by the table in configuration order. The
// returned slice is owned by the Table and must not be mutated.
func (t *Table) Routes() []Route {
	return t.routes
}
