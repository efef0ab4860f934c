package conf

import (
	"fmt"
	"net"
	"slices"
)

// Forward is the next hop. When it equals the listen address this instance is
// the terminal hop and connects to targets directly.
type Forward struct {
	Addr_     string `yaml:"addr"`
	Transport string `yaml:"transport"`
	KCP       *KCP   `yaml:"kcp"`

	Addr *net.TCPAddr `yaml:"-"`
}

func (f *Forward) setDefaults(listenAddr string) {
	if f.Addr_ == "" {
		f.Addr_ = listenAddr
	}
	if f.Transport == "" {
		f.Transport = "tcp"
	}
	if f.Transport == "kcp" && f.KCP == nil {
		f.KCP = &KCP{}
	}
	if f.KCP != nil {
		f.KCP.setDefaults()
	}
}

func (f *Forward) validate() []error {
	var errors []error

	addr, err := validateAddr(f.Addr_, true)
	if err != nil {
		errors = append(errors, fmt.Errorf("forward addr: %w", err))
	}
	f.Addr = addr

	validTransports := []string{"tcp", "kcp"}
	if !slices.Contains(validTransports, f.Transport) {
		errors = append(errors, fmt.Errorf("forward transport must be one of: %v", validTransports))
	}

	if f.KCP != nil {
		errors = append(errors, f.KCP.validate()...)
	}

	return errors
}
