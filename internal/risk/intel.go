package risk

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// IPIntel classifies peer addresses for the analyzer. Implementations must
// be safe for concurrent use and must not block; the analyzer calls them
// on every scored request.
type IPIntel interface {
	// IsAnonymizer reports whether the address belongs to a known Tor exit
	// or commercial VPN range.
	IsAnonymizer(addr netip.Addr) bool

	// IsSuspicious reports whether the address appears on a threat list
	// for reasons other than anonymization (botnets, scanners, abuse).
	IsSuspicious(addr netip.Addr) bool
}

// StaticIntel answers from fixed CIDR lists loaded at startup. It covers
// deployments that ship curated ranges in configuration; richer feeds can
// implement IPIntel directly.
type StaticIntel struct {
	anonymizers []netip.Prefix
	suspicious  []netip.Prefix
}

// NewStaticIntel parses the given CIDR lists. Entries may be prefixes
// ("10.0.0.0/8") or bare addresses, which match exactly. Any entry that
// parses as neither fails construction.
func NewStaticIntel(anonymizers, suspicious []string) (*StaticIntel, error) {
	an, err := parsePrefixes(anonymizers)
	if err != nil {
		return nil, fmt.Errorf("anonymizer list: %w", err)
	}
	su, err := parsePrefixes(suspicious)
	if err != nil {
		return nil, fmt.Errorf("suspicious list: %w", err)
	}
	return &StaticIntel{anonymizers: an, suspicious: su}, nil
}

func (s *StaticIntel) IsAnonymizer(addr netip.Addr) bool {
	return matchesAny(s.anonymizers, addr)
}

func (s *StaticIntel) IsSuspicious(addr netip.Addr) bool {
	return matchesAny(s.suspicious, addr)
}

func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("parse %q: %w", entry, domain.ErrInvalidInput)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", entry, domain.ErrInvalidInput)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func matchesAny(prefixes []netip.Prefix, addr netip.Addr) bool {
	// Unmap so 4-in-6 peers match their IPv4 ranges.
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

var _ IPIntel = (*StaticIntel)(nil)
