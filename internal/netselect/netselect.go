// Package netselect resolves which local network interface to dial the
// glasses from. Grounded on a sibling UDP listener's address resolution
// (internal/lidar/network/listener.go: net.ResolveUDPAddr / interface
// binding) adapted from "bind a listening address" to "pick a dialing
// interface preferring link-local candidates".
package netselect

import (
	"net"
	"strings"

	"github.com/xreal-go/glasses/internal/xrerr"
)

const linkLocalPrefix = "169.254."

// Dialer opens a TCP connection to addr, having already chosen a source
// interface per the link-local preference rule.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

// InterfaceLister abstracts net.Interfaces for testability.
type InterfaceLister interface {
	Interfaces() ([]net.Interface, error)
}

type systemInterfaceLister struct{}

func (systemInterfaceLister) Interfaces() ([]net.Interface, error) { return net.Interfaces() }

// defaultDialer dials through whichever local address SelectSourceIP
// chooses, or through the system default if none is found.
type defaultDialer struct {
	lister InterfaceLister
}

// NewDialer returns the default Dialer, which consults the host's network
// interfaces at dial time.
func NewDialer() Dialer {
	return &defaultDialer{lister: systemInterfaceLister{}}
}

func (d *defaultDialer) Dial(network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	localIP, err := SelectSourceIP(d.lister, host)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{}
	if localIP != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: localIP}
	}
	conn, err := dialer.Dial(network, addr)
	if err != nil {
		return nil, xrerr.New(xrerr.ConnectionFailed, "netselect: dial failed", err)
	}
	return conn, nil
}

// SelectSourceIP returns the local IP to dial host from: if host begins
// with the link-local prefix, only interfaces with a link-local address
// are considered (NetworkUnavailable if none exist); otherwise the first
// available non-loopback interface address is used, or nil (system
// default) if none can be enumerated.
func SelectSourceIP(lister InterfaceLister, host string) (net.IP, error) {
	ifaces, err := lister.Interfaces()
	if err != nil {
		return nil, xrerr.New(xrerr.NetworkUnavailable, "netselect: failed to enumerate interfaces", err)
	}

	wantLinkLocal := strings.HasPrefix(host, linkLocalPrefix)

	var fallback net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil {
				continue
			}
			if wantLinkLocal && strings.HasPrefix(ip.String(), linkLocalPrefix) {
				return ip, nil
			}
			if fallback == nil {
				fallback = ip
			}
		}
	}

	if wantLinkLocal {
		return nil, xrerr.New(xrerr.NetworkUnavailable, "netselect: no link-local interface candidate found", nil)
	}
	return fallback, nil
}
