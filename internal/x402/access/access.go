// Package access classifies caller IPs against the configured blocklist and
// allowlist. Blocklisted callers are refused outright, allowlisted callers
// bypass payment, everyone else pays.
package access

import (
	"fmt"
	"net/netip"
	"strings"
)

type Classification string

const (
	Blocked Classification = "blocked"
	Free    Classification = "free"
	Payable Classification = "payable"
)

// List holds the parsed block and allow lists. Built once at startup;
// read-only afterwards and safe for concurrent use.
type List struct {
	block []netip.Prefix
	allow []netip.Prefix
}

// New parses the configured entries. Each entry is a single IP or a CIDR
// range. A malformed entry is a startup error, never a per-request one.
func New(blocklist, allowlist []string) (*List, error) {
	block, err := parseEntries(blocklist)
	if err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}
	allow, err := parseEntries(allowlist)
	if err != nil {
		return nil, fmt.Errorf("allowlist: %w", err)
	}
	return &List{block: block, allow: allow}, nil
}

// Classify resolves a caller IP. The blocklist wins when an address appears
// on both lists. An unparseable caller address is treated as payable; it
// will fail later checks on its own.
func (l *List) Classify(callerIP string) Classification {
	addr, err := netip.ParseAddr(strings.TrimSpace(callerIP))
	if err != nil {
		return Payable
	}

	for _, p := range l.block {
		if p.Contains(addr) {
			return Blocked
		}
	}
	for _, p := range l.allow {
		if p.Contains(addr) {
			return Free
		}
	}
	return Payable
}

// Status summarises the configured lists for the operator surface.
type Status struct {
	BlocklistCount   int      `json:"blocklist_count"`
	AllowlistCount   int      `json:"allowlist_count"`
	BlocklistEntries []string `json:"blocklist_entries"`
	AllowlistEntries []string `json:"allowlist_entries"`
}

func (l *List) Status() Status {
	return Status{
		BlocklistCount:   len(l.block),
		AllowlistCount:   len(l.allow),
		BlocklistEntries: prefixStrings(l.block),
		AllowlistEntries: prefixStrings(l.allow),
	}
}

func parseEntries(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid IP %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func prefixStrings(prefixes []netip.Prefix) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p.IsSingleIP() {
			out = append(out, p.Addr().String())
		} else {
			out = append(out, p.String())
		}
	}
	return out
}
