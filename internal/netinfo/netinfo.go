// Package netinfo discovers the LAN addresses other devices can use to reach
// the relay.
package netinfo

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

const (
	FamilyIPv4 = "ipv4"
	FamilyIPv6 = "ipv6"
)

type Address struct {
	Interface string `json:"interface"`
	IP        string `json:"ip"`
	Family    string `json:"family"`
}

// containerCIDRs are the default docker bridge networks. Addresses in them
// are not reachable from other machines on the LAN.
var containerCIDRs = []net.IPNet{
	{IP: net.IPv4(172, 17, 0, 0), Mask: net.CIDRMask(16, 32)},
	{IP: net.IPv4(172, 18, 0, 0), Mask: net.CIDRMask(16, 32)},
	{IP: net.IPv4(172, 19, 0, 0), Mask: net.CIDRMask(16, 32)},
}

// Discover lists usable unicast addresses of interfaces that are up, skipping
// loopback and container bridge interfaces. IPv4 addresses come first.
func Discover(ctx context.Context) ([]Address, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	return selectAddresses(ifaces), nil
}

func selectAddresses(ifaces psnet.InterfaceStatList) []Address {
	var v4, v6 []Address
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		if isContainerInterface(iface.Name) {
			continue
		}

		for _, addr := range iface.Addrs {
			ip := parseAddr(addr.Addr)
			if ip == nil || !ip.IsGlobalUnicast() {
				continue
			}
			if ip4 := ip.To4(); ip4 != nil {
				if inContainerCIDR(ip4) {
					continue
				}
				v4 = append(v4, Address{Interface: iface.Name, IP: ip4.String(), Family: FamilyIPv4})
				continue
			}
			v6 = append(v6, Address{Interface: iface.Name, IP: ip.String(), Family: FamilyIPv6})
		}
	}
	return append(v4, v6...)
}

// Preferred picks the address to advertise: the first private IPv4 address,
// then any IPv4 address, then anything else.
func Preferred(addrs []Address) (Address, bool) {
	for _, a := range addrs {
		if a.Family == FamilyIPv4 && net.ParseIP(a.IP).IsPrivate() {
			return a, true
		}
	}
	for _, a := range addrs {
		if a.Family == FamilyIPv4 {
			return a, true
		}
	}
	if len(addrs) > 0 {
		return addrs[0], true
	}
	return Address{}, false
}

// URL builds an http URL for addr on port.
func URL(addr Address, port string) string {
	return "http://" + net.JoinHostPort(addr.IP, port)
}

func parseAddr(raw string) net.IP {
	raw = strings.TrimSpace(raw)
	if ip, _, err := net.ParseCIDR(raw); err == nil {
		return ip
	}
	// Zone suffixes ("fe80::1%eth0") never reach here as global unicast.
	return net.ParseIP(raw)
}

func hasFlag(flags []string, want string) bool {
	return slices.ContainsFunc(flags, func(f string) bool {
		return strings.EqualFold(f, want)
	})
}

func isContainerInterface(name string) bool {
	name = strings.ToLower(name)
	return strings.HasPrefix(name, "docker") || strings.HasPrefix(name, "br-") || strings.HasPrefix(name, "veth")
}

func inContainerCIDR(ip net.IP) bool {
	for _, cidr := range containerCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
