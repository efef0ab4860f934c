package conf

import (
	"fmt"
	"net"
)

// Listen holds the local addresses this instance accepts clients on.
type Listen struct {
	Addr_   string     `yaml:"addr"`
	SOCKS5_ string     `yaml:"socks5"`
	KCP     *ListenKCP `yaml:"kcp"`

	Addr   *net.TCPAddr `yaml:"-"`
	SOCKS5 *net.TCPAddr `yaml:"-"`
}

// ListenKCP accepts tunnels from downstream proxies whose forward transport is kcp.
// Both sides must agree on the KCP parameters and key.
type ListenKCP struct {
	Addr_ string `yaml:"addr"`
	KCP   `yaml:",inline"`

	Addr *net.UDPAddr `yaml:"-"`
}

func (l *Listen) setDefaults() {
	if l.KCP != nil {
		l.KCP.KCP.setDefaults()
	}
}

func (l *Listen) validate() []error {
	var errors []error

	addr, err := validateAddr(l.Addr_, true)
	if err != nil {
		errors = append(errors, fmt.Errorf("listen addr: %w", err))
	}
	l.Addr = addr

	if l.KCP != nil {
		addr, err := validateAddr(l.KCP.Addr_, true)
		if err != nil {
			errors = append(errors, fmt.Errorf("listen kcp addr: %w", err))
		} else {
			l.KCP.Addr = &net.UDPAddr{IP: addr.IP, Port: addr.Port, Zone: addr.Zone}
		}
		errors = append(errors, l.KCP.KCP.validate()...)
	}

	if l.SOCKS5_ != "" {
		addr, err := validateAddr(l.SOCKS5_, true)
		if err != nil {
			errors = append(errors, fmt.Errorf("listen socks5: %w", err))
		}
		l.SOCKS5 = addr
		if addr != nil && !addr.IP.IsLoopback() {
			errors = append(errors, fmt.Errorf("SOCKS5 listen address '%s' is not loopback; the SOCKS5 front-end has no authentication", l.SOCKS5_))
		}
	}

	return errors
}
