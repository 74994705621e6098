package inventory

import (
	"log/slog"
	"net"
	"strings"
	"unicode"
)

// Node is one satellite for the duration of a run.
type Node struct {
	Address string
	User    string
}

func (n Node) String() string {
	return n.User + "@" + n.Address
}

// EnabledNodes returns the configured satellites for mode, in configured
// order. It returns nil when the mode is disabled. Blank or malformed slots
// are skipped; nothing here aborts a run.
func (inv *Inventory) EnabledNodes(mode Mode, logger *slog.Logger) []Node {
	if !inv.Enabled(mode) {
		logger.Info("sync mode disabled", "mode", mode)
		return nil
	}

	slots := inv.Satellites
	if len(slots) > MaxSatellites {
		logger.Warn("too many satellites configured, ignoring the rest",
			"configured", len(slots), "max", MaxSatellites)
		slots = slots[:MaxSatellites]
	}

	nodes := make([]Node, 0, len(slots))
	for i, raw := range slots {
		addr := strings.TrimSpace(raw)
		if addr == "" {
			continue
		}
		if !validAddress(addr) {
			logger.Warn("skipping malformed satellite address", "slot", i+1, "address", raw)
			continue
		}
		nodes = append(nodes, Node{Address: addr, User: inv.SSH.User})
	}
	return nodes
}

// validAddress accepts hostnames, IPv4 and bare IPv6 literals (with an
// optional %zone). Anything that could be read as an ssh option, a host:port
// or a user@host form is rejected.
func validAddress(addr string) bool {
	if strings.HasPrefix(addr, "-") {
		return false
	}
	if strings.ContainsAny(addr, ":%") {
		ip, zone, hasZone := strings.Cut(addr, "%")
		if hasZone && zone == "" {
			return false
		}
		parsed := net.ParseIP(ip)
		return parsed != nil && strings.Contains(ip, ":") && validZone(zone)
	}
	for _, r := range addr {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
		case r == '.' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

func validZone(zone string) bool {
	for _, r := range zone {
		if r >= unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}
