// Package blocklist stores the domains tunnels must not be opened to.
package blocklist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"noadproxy/internal/conf"
)

var ErrUnknownDriver = errors.New("unknown blocklist driver")

// Checker answers whether a domain is blocked. Implementations do their own
// locking and are safe for concurrent use.
type Checker interface {
	IsDomainBlocked(ctx context.Context, domain string) (bool, error)
}

// Store is a Checker that can also be rebuilt from a domain list.
type Store interface {
	Checker
	// Reset drops every stored domain and recreates the schema.
	Reset(ctx context.Context) error
	// Load adds the domains read from r and returns how many were new.
	Load(ctx context.Context, r io.Reader) (int, error)
	// Replace swaps the whole list for the domains read from r in one step.
	// Lookups see either the old list or the new one. On error the old list
	// stays in place.
	Replace(ctx context.Context, r io.Reader) (int, error)
	Close() error
}

func Open(cfg *conf.Blocklist) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(cfg.Database)
	case "redis":
		return OpenRedis(cfg.Database, cfg.Key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// Populate rebuilds s from the domain list at path.
func Populate(ctx context.Context, s Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open blocklist source: %w", err)
	}
	defer f.Close()

	n, err := s.Replace(ctx, f)
	if err != nil {
		return n, fmt.Errorf("load blocklist: %w", err)
	}
	return n, nil
}

// scanDomains calls fn for every domain line in r. Blank lines and '#'
// comments are skipped.
func scanDomains(r io.Reader, fn func(domain string) error) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		domain := strings.TrimSpace(sc.Text())
		if domain == "" || strings.HasPrefix(domain, "#") {
			continue
		}
		if err := fn(domain); err != nil {
			return err
		}
	}
	return sc.Err()
}
