package conf

import (
	"fmt"
	"slices"
)

type Blocklist struct {
	Driver   string `yaml:"driver"`
	Database string `yaml:"database"`
	Source   string `yaml:"source"`
	// Key is the redis set holding blocked domains.
	Key string `yaml:"key"`
}

func (b *Blocklist) setDefaults() {
	if b.Driver == "" {
		b.Driver = "sqlite"
	}
	if b.Key == "" {
		b.Key = "noadproxy:blocklist"
	}
}

func (b *Blocklist) validate() []error {
	var errors []error

	validDrivers := []string{"sqlite", "redis"}
	if !slices.Contains(validDrivers, b.Driver) {
		errors = append(errors, fmt.Errorf("blocklist driver must be one of: %v", validDrivers))
	}
	if b.Database == "" {
		errors = append(errors, fmt.Errorf("blocklist database is required"))
	}
	return errors
}
