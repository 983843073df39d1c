// Package config loads the router's startup configuration — the interface
// list and static route table — from a YAML document, the format shared by
// the wider example pack's own config loaders.
package config

import (
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/packetgrove/swrouter/iface"
	"github.com/packetgrove/swrouter/route"
)

// Document is the top-level shape of a router configuration file.
type Document struct {
	Interfaces []InterfaceSpec `yaml:"interfaces"`
	Routes     []RouteSpec     `yaml:"routes"`
}

// InterfaceSpec is the YAML representation of one configured interface.
type InterfaceSpec struct {
	Name    string `yaml:"name"`
	MAC     string `yaml:"mac"`
	Address string `yaml:"address"`
	Netmask string `yaml:"netmask"`
}

// RouteSpec is the YAML representation of one static route. Gateway may be
// omitted or set to "0.0.0.0" to mean an on-link destination.
type RouteSpec struct {
	Dest      string `yaml:"dest"`
	Netmask   string `yaml:"netmask"`
	Gateway   string `yaml:"gateway"`
	Interface string `yaml:"interface"`
}

// Load reads and parses the YAML configuration file at path, returning the
// resulting Interface Registry and Route Table. Both are validated:
// duplicate or malformed interfaces are rejected by iface.NewRegistry, and
// a route naming an interface absent from the registry is rejected here.
func Load(path string) (*iface.Registry, *route.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return FromDocument(doc)
}

// FromDocument validates doc and builds the Interface Registry and Route
// Table it describes.
func FromDocument(doc Document) (*iface.Registry, *route.Table, error) {
	ifaces := make([]iface.Interface, len(doc.Interfaces))
	for i, spec := range doc.Interfaces {
		ifc, err := spec.toInterface()
		if err != nil {
			return nil, nil, fmt.Errorf("config: interface %q: %w", spec.Name, err)
		}
		ifaces[i] = ifc
	}
	registry, err := iface.NewRegistry(ifaces)
	if err != nil {
		return nil, nil, err
	}

	routes := make([]route.Route, len(doc.Routes))
	for i, spec := range doc.Routes {
		r, err := spec.toRoute()
		if err != nil {
			return nil, nil, fmt.Errorf("config: route #%d: %w", i, err)
		}
		if _, ok := registry.ByName(r.IfaceName); !ok {
			return nil, nil, fmt.Errorf("config: route #%d references unknown interface %q", i, r.IfaceName)
		}
		routes[i] = r
	}
	return registry, route.NewTable(routes), nil
}

func (spec InterfaceSpec) toInterface() (iface.Interface, error) {
	mac, err := parseMAC(spec.MAC)
	if err != nil {
		return iface.Interface{}, err
	}
	addr, err := netip.ParseAddr(spec.Address)
	if err != nil {
		return iface.Interface{}, fmt.Errorf("bad address %q: %w", spec.Address, err)
	}
	mask, err := netip.ParseAddr(spec.Netmask)
	if err != nil {
		return iface.Interface{}, fmt.Errorf("bad netmask %q: %w", spec.Netmask, err)
	}
	return iface.Interface{Name: spec.Name, MAC: mac, Addr: addr, Mask: mask}, nil
}

func (spec RouteSpec) toRoute() (route.Route, error) {
	dest, err := netip.ParseAddr(spec.Dest)
	if err != nil {
		return route.Route{}, fmt.Errorf("bad dest %q: %w", spec.Dest, err)
	}
	mask, err := netip.ParseAddr(spec.Netmask)
	if err != nil {
		return route.Route{}, fmt.Errorf("bad netmask %q: %w", spec.Netmask, err)
	}
	gw := netip.IPv4Unspecified()
	if spec.Gateway != "" {
		gw, err = netip.ParseAddr(spec.Gateway)
		if err != nil {
			return route.Route{}, fmt.Errorf("bad gateway %q: %w", spec.Gateway, err)
		}
	}
	if spec.Interface == "" {
		return route.Route{}, fmt.Errorf("route missing interface")
	}
	return route.Route{Dest: dest, Mask: mask, Gateway: gw, IfaceName: spec.Interface}, nil
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x",
		&mac[0], &mac[1], &mac[2], &mac[3], &mac[4], &mac[5])
	if err != nil || n != 6 {
		return mac, fmt.Errorf("bad MAC %q", s)
	}
	return mac, nil
}
