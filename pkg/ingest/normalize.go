package ingest

import (
	"net/netip"
	"strings"
)

// Prefix lengths addresses are reduced to by MinimizeAddress.
const (
	ipv4ClientBits = 24
	ipv6ClientBits = 48
)

// NormalizeDomain lowercases name and strips the trailing root dot. When
// labels is positive only the rightmost labels labels are kept, so
// "www.Example.COM." with labels=2 becomes "example.com".
func NormalizeDomain(name string, labels int) string {
	name = strings.ToLower(strings.TrimSuffix(name, "."))

	if labels <= 0 {
		return name
	}

	parts := strings.Split(name, ".")
	if len(parts) <= labels {
		return name
	}

	return strings.Join(parts[len(parts)-labels:], ".")
}

// MinimizeAddress reduces an IP address to its /24 (IPv4) or /48 (IPv6)
// network address, so clients in the same network count once and no full
// address is retained. IPv4-mapped IPv6 addresses are treated as IPv4.
// Keys that do not parse as IP addresses are returned unchanged.
func MinimizeAddress(addr string) string {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return addr
	}

	ip = ip.Unmap().WithZone("")

	bits := ipv6ClientBits
	if ip.Is4() {
		bits = ipv4ClientBits
	}

	prefix, err := ip.Prefix(bits)
	if err != nil {
		return addr
	}

	return prefix.Addr().String()
}
