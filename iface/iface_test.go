package iface

import (
	"net/netip"
	"testing"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestRegistryByNameAndLocalIP(t *testing.T) {
	eth0 := Interface{Name: "eth0", MAC: [6]byte{1, 2, 3, 4, 5, 6}, Addr: mustAddr(t, "10.0.0.1"), Mask: mustAddr(t, "255.255.255.0")}
	eth1 := Interface{Name: "eth1", MAC: [6]byte{6, 5, 4, 3, 2, 1}, Addr: mustAddr(t, "10.0.1.1"), Mask: mustAddr(t, "255.255.255.0")}
	reg, err := NewRegistry([]Interface{eth0, eth1})
	if err != nil {
		t.Fatal(err)
	}

	got, ok := reg.ByName("eth1")
	if !ok || got != eth1 {
		t.Fatalf("ByName(eth1) = %+v, %v", got, ok)
	}
	if _, ok := reg.ByName("eth2"); ok {
		t.Fatal("ByName(eth2) should not be found")
	}

	got, ok = reg.IsLocalIP(mustAddr(t, "10.0.1.1"))
	if !ok || got != eth1 {
		t.Fatalf("IsLocalIP match failed: %+v, %v", got, ok)
	}
	if _, ok := reg.IsLocalIP(mustAddr(t, "192.168.1.1")); ok {
		t.Fatal("IsLocalIP should not match unregistered IP")
	}

	all := reg.All()
	if len(all) != 2 || all[0] != eth0 || all[1] != eth1 {
		t.Fatalf("All() order not preserved: %+v", all)
	}
}

func TestNewRegistryRejectsDuplicateName(t *testing.T) {
	eth0 := Interface{Name: "eth0", Addr: mustAddr(t, "10.0.0.1"), Mask: mustAddr(t, "255.255.255.0")}
	_, err := NewRegistry([]Interface{eth0, eth0})
	if err == nil {
		t.Fatal("expected error on duplicate interface name")
	}
}

func TestNewRegistryRejectsNonIPv4(t *testing.T) {
	bad := Interface{Name: "eth0", Addr: mustAddr(t, "::1"), Mask: mustAddr(t, "255.255.255.0")}
	_, err := NewRegistry([]Interface{bad})
	if err == nil {
		t.Fatal("expected error on non-IPv4 address")
	}
}

func TestMaskBits(t *testing.T) {
	ifc := Interface{Mask: mustAddr(t, "255.255.255.0")}
	if got := ifc.MaskBits(); got != 24 {
		t.Fatalf("want 24 bits, got %d", got)
	}
}
