package connectivity

import (
	"context"
	"net"
	"strings"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
)

// Prober supplies connectivity snapshots for the Monitor to poll.
type Prober interface {
	Probe(ctx context.Context) (State, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) (State, error)

func (f ProberFunc) Probe(ctx context.Context) (State, error) { return f(ctx) }

// InterfaceProber derives connectivity from the machine's network interfaces.
// An interface counts when it is up, not loopback and has at least one
// address; when several qualify the best classification wins
// (wifi > cellular > ethernet > other).
type InterfaceProber struct {
	// ListInterfaces overrides interface discovery. Defaults to net.Interfaces.
	ListInterfaces func() ([]net.Interface, error)

	// HasAddress overrides the address check. Defaults to querying the
	// interface for its addresses.
	HasAddress func(net.Interface) bool
}

// Compile-time check to ensure InterfaceProber satisfies Prober
var _ Prober = (*InterfaceProber)(nil)

func (p *InterfaceProber) Probe(ctx context.Context) (State, error) {
	list := p.ListInterfaces
	if list == nil {
		list = net.Interfaces
	}
	hasAddr := p.HasAddress
	if hasAddr == nil {
		hasAddr = interfaceHasAddress
	}

	ifaces, err := list()
	if err != nil {
		return State{}, syncErrors.WrapOpComponent(err, opProbe, "connectivity")
	}

	best := None
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if !hasAddr(ifc) {
			continue
		}
		if t := Classify(ifc.Name); typeRank(t) > typeRank(best) {
			best = t
		}
	}

	return State{Online: best != None, Type: best}, nil
}

func interfaceHasAddress(ifc net.Interface) bool {
	addrs, err := ifc.Addrs()
	return err == nil && len(addrs) > 0
}

// Classify maps an interface name to a connection type by its prefix.
// Classic Linux names (wlan0, eth0), predictable names (wlp2s0, enp3s0),
// mobile modems (wwan0, rmnet0, ppp0) and BSD/macOS names (en0, ath0)
// are recognized; everything else is Other.
func Classify(name string) ConnectionType {
	name = strings.ToLower(name)
	switch {
	case hasAnyPrefix(name, "wlan", "wlp", "wlx", "wl", "ath", "wifi"):
		return Wifi
	case hasAnyPrefix(name, "wwan", "wwp", "rmnet", "ppp"):
		return Cellular
	case hasAnyPrefix(name, "eth", "enp", "eno", "ens", "enx", "en", "em"):
		return Ethernet
	default:
		return Other
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// typeRank orders connection types for best-interface selection.
func typeRank(t ConnectionType) int {
	switch t {
	case Wifi:
		return 4
	case Cellular:
		return 3
	case Ethernet:
		return 2
	case Other:
		return 1
	default:
		return 0
	}
}
