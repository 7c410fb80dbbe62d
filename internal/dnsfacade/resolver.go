// Package dnsfacade wraps net.Resolver behind the configured recursive
// resolver list, per-query timeout and total lifetime budget spec §4.2
// calls for. It is grounded on the teacher's lookup.CheckDNS, which dialed
// a single hardcoded recursor directly; this generalizes that dialer into
// an ordered resolver list with failover.
package dnsfacade

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"cascade/internal/models"
)

// FailureKind classifies a DNS failure so the decision engine can react to
// it specifically instead of treating every lookup error alike (spec §4.2).
type FailureKind string

const (
	FailureNXDomain FailureKind = "NXDOMAIN"
	FailureNoAnswer FailureKind = "NoAnswer"
	FailureTimeout  FailureKind = "Timeout"
	FailureOther    FailureKind = "Other"
)

// LookupError wraps a DNS failure together with its classification.
type LookupError struct {
	Kind FailureKind
	Err  error
}

func (e *LookupError) Error() string { return fmt.Sprintf("dns %s: %v", e.Kind, e.Err) }
func (e *LookupError) Unwrap() error { return e.Err }

// Config is the resolver facade's tunable set: an ordered list of recursive
// resolver addresses (host:port) and the timeouts spec §4.2 names.
type Config struct {
	Resolvers     []string
	QueryTimeout  time.Duration
	LifetimeBudget time.Duration
}

// DefaultConfig mirrors the public recursors the original Python sorter
// configured (original_source email_sorter.py: 8.8.8.8, 8.8.4.4, 1.1.1.1,
// 1.0.0.1) with the timeouts spec §4.2 specifies as defaults.
func DefaultConfig() Config {
	return Config{
		Resolvers:      []string{"8.8.8.8:53", "8.8.4.4:53", "1.1.1.1:53", "1.0.0.1:53"},
		QueryTimeout:   3 * time.Second,
		LifetimeBudget: 5 * time.Second,
	}
}

// Facade resolves A and MX records against the configured resolver list.
type Facade struct {
	cfg Config
}

func New(cfg Config) *Facade {
	if len(cfg.Resolvers) == 0 {
		cfg.Resolvers = DefaultConfig().Resolvers
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}
	if cfg.LifetimeBudget <= 0 {
		cfg.LifetimeBudget = DefaultConfig().LifetimeBudget
	}
	return &Facade{cfg: cfg}
}

// resolverFor builds a net.Resolver pinned to the given recursor address.
// PreferGo forces the pure-Go resolver so the custom Dial (pointed at our
// configured recursor rather than the system one) is actually honored.
func (f *Facade) resolverFor(addr string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: f.cfg.QueryTimeout}
			return d.DialContext(ctx, network, addr)
		},
	}
}

// ResolveA resolves the domain's A records, trying each configured
// recursor in order until one answers.
func (f *Facade) ResolveA(ctx context.Context, domain string) ([]net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.LifetimeBudget)
	defer cancel()

	var lastErr error
	for _, recursor := range f.cfg.Resolvers {
		ips, err := f.resolverFor(recursor).LookupIP(ctx, "ip4", domain)
		if err == nil && len(ips) > 0 {
			return ips, nil
		}
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, classify(lastErr)
}

// ResolveMX resolves the domain's MX records and returns them sorted by
// preference ascending (lowest preference first), per spec §4.2.
func (f *Facade) ResolveMX(ctx context.Context, domain string) ([]models.MXRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.LifetimeBudget)
	defer cancel()

	var lastErr error
	for _, recursor := range f.cfg.Resolvers {
		records, err := f.resolverFor(recursor).LookupMX(ctx, domain)
		if err == nil && len(records) > 0 {
			out := make([]models.MXRecord, 0, len(records))
			for _, r := range records {
				out = append(out, models.MXRecord{
					Host: strings.TrimSuffix(r.Host, "."),
					Pref: r.Pref,
				})
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Pref < out[j].Pref })
			return out, nil
		}
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no MX records found for domain")
	}
	return nil, classify(lastErr)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return &LookupError{Kind: FailureNXDomain, Err: err}
		case dnsErr.IsTimeout:
			return &LookupError{Kind: FailureTimeout, Err: err}
		case !dnsErr.IsTemporary:
			return &LookupError{Kind: FailureNoAnswer, Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &LookupError{Kind: FailureTimeout, Err: err}
	}
	return &LookupError{Kind: FailureOther, Err: err}
}
