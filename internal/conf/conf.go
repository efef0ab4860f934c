package conf

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

type Conf struct {
	Log       Log       `yaml:"log"`
	Listen    Listen    `yaml:"listen"`
	Forward   Forward   `yaml:"forward"`
	Blocklist Blocklist `yaml:"blocklist"`
	Limits    Limits    `yaml:"limits"`
	Debug     Debug     `yaml:"debug"`
}

func LoadFromFile(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Load(data)
}

func Load(data []byte) (*Conf, error) {
	var c Conf
	dec := yaml.NewDecoder(bytes.NewReader(data), yaml.DisallowUnknownField())
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Conf) setDefaults() {
	c.Log.setDefaults()
	c.Listen.setDefaults()
	c.Forward.setDefaults(c.Listen.Addr_)
	c.Blocklist.setDefaults()
	c.Limits.setDefaults()
	c.Debug.setDefaults()
}

func (c *Conf) validate() error {
	var errs []error
	errs = append(errs, c.Log.validate()...)
	errs = append(errs, c.Listen.validate()...)
	errs = append(errs, c.Forward.validate()...)
	errs = append(errs, c.Blocklist.validate()...)
	errs = append(errs, c.Limits.validate()...)
	errs = append(errs, c.Debug.validate()...)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}

// Terminal reports whether this instance connects to requested targets itself
// instead of relaying through another proxy.
func (c *Conf) Terminal() bool {
	if c.Forward.Transport != "tcp" {
		return false
	}
	l, f := c.Listen.Addr, c.Forward.Addr
	if l == nil || f == nil {
		return c.Listen.Addr_ == c.Forward.Addr_
	}
	return l.Port == f.Port && l.IP.Equal(f.IP) && l.Zone == f.Zone
}
