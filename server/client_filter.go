package server

import (
	"net/netip"
	"strings"

	"github.com/pkg/errors"
)

type addrMatcher struct {
	addrs    []netip.Addr
	prefixes []netip.Prefix
}

func newAddrMatcher(filters []string) (*addrMatcher, error) {
	m := &addrMatcher{}
	for _, filter := range filters {
		filter = strings.TrimSpace(filter)
		if filter == "" {
			continue
		}
		if strings.Contains(filter, "/") {
			prefix, err := netip.ParsePrefix(filter)
			if err != nil {
				return nil, err
			}
			m.prefixes = append(m.prefixes, prefix.Masked())
		} else {
			addr, err := netip.ParseAddr(filter)
			if err != nil {
				return nil, err
			}
			m.addrs = append(m.addrs, addr.Unmap())
		}
	}
	return m, nil
}

func (m *addrMatcher) Match(addr netip.Addr) bool {
	// clients arrive on udp4 sockets, but ::ffff:a.b.c.d forms must match too
	addr = addr.Unmap()
	for _, a := range m.addrs {
		if a == addr {
			return true
		}
	}
	for _, p := range m.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (m *addrMatcher) Empty() bool {
	return m == nil || (len(m.addrs) == 0 && len(m.prefixes) == 0)
}

// ClientFilter decides which client addresses may open a session or query
// the listener. A denied address is always rejected; when an allow list is
// given only addresses on it pass.
type ClientFilter struct {
	allow *addrMatcher
	deny  *addrMatcher
}

func NewClientFilterAllowAll() *ClientFilter {
	return &ClientFilter{}
}

// NewClientFilter accepts addresses and CIDR prefixes. Either list may be empty.
func NewClientFilter(allows []string, denies []string) (*ClientFilter, error) {
	allow, err := newAddrMatcher(allows)
	if err != nil {
		return nil, errors.Wrap(err, "invalid allow filter")
	}
	deny, err := newAddrMatcher(denies)
	if err != nil {
		return nil, errors.Wrap(err, "invalid deny filter")
	}
	return &ClientFilter{
		allow: allow,
		deny:  deny,
	}, nil
}

func (f *ClientFilter) Allow(client netip.AddrPort) bool {
	if f == nil {
		return true
	}
	if !f.deny.Empty() && f.deny.Match(client.Addr()) {
		return false
	}
	if !f.allow.Empty() {
		return f.allow.Match(client.Addr())
	}
	return true
}
