package netinfo

import (
	"context"
	"reflect"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
)

func iface(name string, flags []string, addrs ...string) psnet.InterfaceStat {
	list := make(psnet.InterfaceAddrList, 0, len(addrs))
	for _, a := range addrs {
		list = append(list, psnet.InterfaceAddr{Addr: a})
	}
	return psnet.InterfaceStat{Name: name, Flags: flags, Addrs: list}
}

func TestSelectAddresses(t *testing.T) {
	ifaces := psnet.InterfaceStatList{
		iface("lo", []string{"up", "loopback"}, "127.0.0.1/8", "::1/128"),
		iface("docker0", []string{"up", "broadcast"}, "172.17.0.1/16"),
		iface("veth12ab", []string{"up"}, "10.200.0.1/24"),
		iface("eth1", []string{"broadcast"}, "192.168.50.2/24"),
		iface("wlan0", []string{"up", "broadcast", "multicast"}, "fe80::1/64", "2001:db8::5/64", "192.168.1.23/24"),
		iface("ens3", []string{"up"}, "172.18.4.4/16", "10.0.0.8/8", "not-an-ip"),
	}

	got := selectAddresses(ifaces)

	want := []Address{
		{Interface: "wlan0", IP: "192.168.1.23", Family: FamilyIPv4},
		{Interface: "ens3", IP: "10.0.0.8", Family: FamilyIPv4},
		{Interface: "wlan0", IP: "2001:db8::5", Family: FamilyIPv6},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("selectAddresses=%+v, want %+v", got, want)
	}
}

func TestSelectAddresses_Empty(t *testing.T) {
	if got := selectAddresses(nil); len(got) != 0 {
		t.Fatalf("selectAddresses(nil)=%+v, want empty", got)
	}
}

func TestPreferred(t *testing.T) {
	t.Run("private ipv4 wins", func(t *testing.T) {
		addrs := []Address{
			{Interface: "eth0", IP: "203.0.113.7", Family: FamilyIPv4},
			{Interface: "wlan0", IP: "192.168.1.23", Family: FamilyIPv4},
		}
		got, ok := Preferred(addrs)
		if !ok || got.IP != "192.168.1.23" {
			t.Fatalf("Preferred=%+v,%v, want 192.168.1.23", got, ok)
		}
	})

	t.Run("public ipv4 before ipv6", func(t *testing.T) {
		addrs := []Address{
			{Interface: "eth0", IP: "2001:db8::5", Family: FamilyIPv6},
			{Interface: "eth0", IP: "203.0.113.7", Family: FamilyIPv4},
		}
		got, ok := Preferred(addrs)
		if !ok || got.IP != "203.0.113.7" {
			t.Fatalf("Preferred=%+v,%v, want 203.0.113.7", got, ok)
		}
	})

	t.Run("ipv6 only", func(t *testing.T) {
		got, ok := Preferred([]Address{{Interface: "eth0", IP: "2001:db8::5", Family: FamilyIPv6}})
		if !ok || got.Family != FamilyIPv6 {
			t.Fatalf("Preferred=%+v,%v, want the ipv6 address", got, ok)
		}
	})

	t.Run("none", func(t *testing.T) {
		if got, ok := Preferred(nil); ok {
			t.Fatalf("Preferred(nil)=%+v, want none", got)
		}
	})
}

func TestURL(t *testing.T) {
	if got := URL(Address{IP: "192.168.1.23"}, "3000"); got != "http://192.168.1.23:3000" {
		t.Fatalf("URL(ipv4)=%q", got)
	}
	if got := URL(Address{IP: "2001:db8::5"}, "3000"); got != "http://[2001:db8::5]:3000" {
		t.Fatalf("URL(ipv6)=%q", got)
	}
}

func TestDiscover_NoLoopback(t *testing.T) {
	addrs, err := Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	for _, a := range addrs {
		if a.IP == "127.0.0.1" || a.IP == "::1" {
			t.Fatalf("Discover returned loopback address %+v", a)
		}
	}
}
