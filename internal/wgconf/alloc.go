package wgconf

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
)

var ErrPoolExhausted = errors.New("no free address in interface subnet")

// InterfacePrefix returns the first IPv4 prefix of the interface Address
// key, e.g. 10.8.1.1/24.
func (f *File) InterfacePrefix() (netip.Prefix, error) {
	iface, err := f.Interface()
	if err != nil {
		return netip.Prefix{}, err
	}
	value, ok := iface.Get(KeyAddress)
	if !ok {
		return netip.Prefix{}, fmt.Errorf("interface has no %s", KeyAddress)
	}
	for _, item := range splitList(value) {
		prefix, err := netip.ParsePrefix(item)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid interface address %q: %w", item, err)
		}
		if prefix.Addr().Is4() {
			return prefix, nil
		}
	}
	return netip.Prefix{}, fmt.Errorf("interface has no IPv4 address in %q", value)
}

// UsedAddresses returns every address taken by the interface itself or by
// an existing peer's AllowedIPs.
func (f *File) UsedAddresses() map[netip.Addr]struct{} {
	used := make(map[netip.Addr]struct{})
	if iface, err := f.Interface(); err == nil {
		if value, ok := iface.Get(KeyAddress); ok {
			addAddrs(used, value)
		}
	}
	for _, peer := range f.Peers() {
		if value, ok := peer.Get(KeyAllowedIPs); ok {
			addAddrs(used, value)
		}
	}
	return used
}

func addAddrs(used map[netip.Addr]struct{}, list string) {
	for _, item := range splitList(list) {
		if prefix, err := netip.ParsePrefix(item); err == nil {
			used[prefix.Addr()] = struct{}{}
			continue
		}
		if addr, err := netip.ParseAddr(item); err == nil {
			used[addr] = struct{}{}
		}
	}
}

// AllocateAddress returns the lowest free host address in the interface
// subnet as a /32. The network address, the first host (server) and the
// broadcast address are never handed out.
func (f *File) AllocateAddress() (netip.Prefix, error) {
	prefix, err := f.InterfacePrefix()
	if err != nil {
		return netip.Prefix{}, err
	}
	prefix = prefix.Masked()
	used := f.UsedAddresses()

	network := prefix.Addr()
	server := network.Next()
	broadcast := lastAddr(prefix)

	for addr := server.Next(); addr.IsValid() && prefix.Contains(addr) && addr != broadcast; addr = addr.Next() {
		if _, taken := used[addr]; taken {
			continue
		}
		return netip.PrefixFrom(addr, 32), nil
	}

	slog.Error("Address allocation failed: pool exhausted", "subnet", prefix.String(), "used", len(used))
	return netip.Prefix{}, fmt.Errorf("%w: %s", ErrPoolExhausted, prefix)
}

func lastAddr(prefix netip.Prefix) netip.Addr {
	raw := prefix.Addr().As4()
	hostBits := 32 - prefix.Bits()
	for i := 3; i >= 0 && hostBits > 0; i-- {
		bits := min(hostBits, 8)
		raw[i] |= byte(1<<bits - 1)
		hostBits -= bits
	}
	return netip.AddrFrom4(raw)
}

// FormatAllowedIPs joins prefixes the way the daemon writes them.
func FormatAllowedIPs(prefixes ...netip.Prefix) string {
	parts := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		parts = append(parts, p.String())
	}
	return strings.Join(parts, ", ")
}
