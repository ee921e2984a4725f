// Package sourcecheck admits or refuses SMTP peers by source address
// against a configured list of IPs and CIDR ranges.
package sourcecheck

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Checker holds the parsed allow-list. Loopback peers are always admitted,
// as is the empty/unknown source some transports report.
type Checker struct {
	enabled  bool
	prefixes []netip.Prefix
	addrs    []netip.Addr
}

// New parses a comma-separated list of IPs and CIDR ranges into a Checker.
// With enabled false the list is still parsed (so bad config fails at boot)
// but every source is admitted.
func New(enabled bool, list string) (*Checker, error) {
	c := &Checker{enabled: enabled}

	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR range %q: %w", entry, err)
			}
			c.prefixes = append(c.prefixes, prefix)
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid IP address %q: %w", entry, err)
		}
		c.addrs = append(c.addrs, addr)
	}

	return c, nil
}

// Enabled reports whether the allow-list is enforced
func (c *Checker) Enabled() bool {
	return c.enabled
}

// Allowed reports whether the source address may create traffic. The source
// may be a bare IP or a host:port pair. Unparseable non-empty sources are
// refused when enforcement is on.
func (c *Checker) Allowed(source string) bool {
	if !c.enabled {
		return true
	}
	if source == "" || source == "unknown" || source == "localhost" {
		return true
	}

	host := source
	if h, _, err := net.SplitHostPort(source); err == nil {
		host = h
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	if addr.IsLoopback() {
		return true
	}

	for _, a := range c.addrs {
		if addr == a {
			return true
		}
	}
	for _, p := range c.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
