package conf

import (
	"fmt"
	"time"
)

type Limits struct {
	// MaxConns bounds the number of simultaneously serviced connections.
	MaxConns int `yaml:"max_conns"`
	// ReadTimeout bounds each read of the initial CONNECT request.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// DialTimeout bounds outbound connects. Zero leaves it to the OS.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func (l *Limits) setDefaults() {
	if l.MaxConns == 0 {
		l.MaxConns = 1000
	}
	if l.ReadTimeout == 0 {
		l.ReadTimeout = 2 * time.Second
	}
}

func (l *Limits) validate() []error {
	var errors []error
	if l.MaxConns < 1 || l.MaxConns > 1_000_000 {
		errors = append(errors, fmt.Errorf("limits max_conns must be between 1-1000000"))
	}
	if l.ReadTimeout <= 0 || l.ReadTimeout > time.Hour {
		errors = append(errors, fmt.Errorf("limits read_timeout must be between 1ns-1h"))
	}
	if l.DialTimeout < 0 {
		errors = append(errors, fmt.Errorf("limits dial_timeout must be >= 0"))
	}
	return errors
}
