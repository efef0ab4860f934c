package conf

import (
	"fmt"

	"noadproxy/internal/flog"
)

type Log struct {
	Level_     string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`

	Level int `yaml:"-"`
}

func (l *Log) setDefaults() {
	if l.Level_ == "" {
		l.Level_ = "info"
	}
	if l.MaxSizeMB == 0 {
		l.MaxSizeMB = 10
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = 5
	}
	if l.MaxAgeDays == 0 {
		l.MaxAgeDays = 30
	}
}

func (l *Log) validate() []error {
	var errors []error

	lvl, ok := flog.ParseLevel(l.Level_)
	if !ok {
		errors = append(errors, fmt.Errorf("log level must be one of: none, debug, info, warn, error, fatal"))
	}
	l.Level = int(lvl)

	if l.MaxSizeMB < 1 {
		errors = append(errors, fmt.Errorf("log max_size_mb must be >= 1"))
	}
	if l.MaxBackups < 0 {
		errors = append(errors, fmt.Errorf("log max_backups must be >= 0"))
	}
	if l.MaxAgeDays < 0 {
		errors = append(errors, fmt.Errorf("log max_age_days must be >= 0"))
	}
	return errors
}
