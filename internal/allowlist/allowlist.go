// Package allowlist matches client addresses against a fixed set of
// addresses and networks. Lookups go through radix trees, so a CIDR entry
// covers every address inside it.
package allowlist

import (
	"net"
	"strings"

	"github.com/kentik/patricia"
	"github.com/kentik/patricia/uint8_tree"
	"github.com/pkg/errors"
)

const (
	ipv4Bits = 32
	ipv6Bits = 128
)

// List is immutable once built and safe for concurrent lookups.
type List struct {
	treeV4  *uint8_tree.TreeV4
	treeV6  *uint8_tree.TreeV6
	literal map[string]struct{}
	size    int
}

// New builds a list from plain addresses ("10.0.0.1", "::1") or networks
// ("10.0.0.0/8"). An entry that parses as neither is kept as an exact string
// so opaque client identities still match themselves.
func New(entries []string) (*List, error) {
	l := &List{
		treeV4:  uint8_tree.NewTreeV4(),
		treeV6:  uint8_tree.NewTreeV6(),
		literal: make(map[string]struct{}),
	}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		l.size++
		l.literal[entry] = struct{}{}
		if net.ParseIP(entry) == nil && !strings.Contains(entry, "/") {
			continue
		}
		ip4, ip6, err := patricia.ParseIPFromString(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "could not parse allow-list entry `%s`", entry)
		}
		if ip4 != nil {
			if _, _, err := l.treeV4.Add(*ip4, 1, keepExisting); err != nil {
				return nil, errors.Wrapf(err, "could not add `%s` to the allow-list", entry)
			}
		} else if ip6 != nil {
			if _, _, err := l.treeV6.Add(*ip6, 1, keepExisting); err != nil {
				return nil, errors.Wrapf(err, "could not add `%s` to the allow-list", entry)
			}
		}
	}
	return l, nil
}

// keepExisting tells the tree a duplicate prefix is already present.
func keepExisting(uint8, uint8) bool { return true }

func matchAll(uint8) bool { return true }

// Len is the number of configured entries. A zero-length list allows everyone.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return l.size
}

func (l *List) Contains(addr string) bool {
	if l == nil {
		return false
	}
	if _, ok := l.literal[addr]; ok {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	// To4 must be tried first: To16 also succeeds for IPv4 addresses.
	if ip4 := ip.To4(); ip4 != nil {
		tags, err := l.treeV4.FindTagsWithFilter(patricia.NewIPv4AddressFromBytes(ip4, ipv4Bits), matchAll)
		return err == nil && len(tags) > 0
	}
	tags, err := l.treeV6.FindTagsWithFilter(patricia.NewIPv6Address(ip.To16(), ipv6Bits), matchAll)
	return err == nil && len(tags) > 0
}
