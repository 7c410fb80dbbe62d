// Package domainlists holds the static disposable-domain, role-based-local-
// part, and known-catch-all-domain tables spec §6 calls "static inputs at
// startup ... reloadable without restart". Grounded on the teacher's
// lookup/static.go maps and on original_source/backend/app/services/
// catch_all_db.py (whose KNOWN_CATCH_ALL_DOMAINS entry for
// penniesuntouched.com is the exact domain spec §8 scenario 2 names).
package domainlists

import (
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// defaultDisposableDomains seeds the set with the same burner providers the
// teacher's lookup/static.go recognized.
var defaultDisposableDomains = []string{
	"temp-mail.org", "10minutemail.com", "guerrillamail.com",
	"mailinator.com", "yopmail.com", "throwawaymail.com",
	"tempmail.net", "sharklasers.com", "dispostable.com", "tempmail.com",
}

// defaultRoleAccounts mirrors the teacher's roleAccounts map.
var defaultRoleAccounts = []string{
	"admin", "support", "info", "sales",
	"contact", "help", "office", "marketing",
	"jobs", "billing", "abuse", "postmaster",
	"noreply", "no-reply", "webmaster", "hostmaster", "hr",
}

// defaultCatchAllDomains mirrors original_source's KNOWN_CATCH_ALL_DOMAINS.
var defaultCatchAllDomains = []string{
	"penniesuntouched.com",
}

// file is the on-disk shape a Lists reload expects: one YAML document with
// a key per list. Any list omitted or empty in the document is reset to
// its built-in default.
type file struct {
	Disposable []string `yaml:"disposable_domains"`
	Roles      []string `yaml:"role_local_parts"`
	CatchAll   []string `yaml:"catch_all_domains"`
}

// Lists holds the three static tables behind a RWMutex so a Reload can
// swap them in atomically while lookups proceed lock-free-ish (a brief
// read lock) on the hot verification path.
type Lists struct {
	mu         sync.RWMutex
	disposable map[string]struct{}
	roles      map[string]struct{}
	catchAll   map[string]struct{}
}

// NewDefault seeds Lists with the built-in tables above, used when no
// on-disk override is configured.
func NewDefault() *Lists {
	l := &Lists{}
	l.replace(defaultDisposableDomains, defaultRoleAccounts, defaultCatchAllDomains)
	return l
}

// LoadFile seeds Lists from a YAML file, falling back to the built-in
// defaults for any list the file leaves empty.
func LoadFile(path string) (*Lists, error) {
	l := NewDefault()
	if err := l.Reload(path); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads path and atomically swaps in its contents. Safe to call
// concurrently with IsDisposable/IsRoleAccount/IsKnownCatchAll — spec §6
// requires the static inputs be "reloadable without restart".
func (l *Lists) Reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}

	disposable := f.Disposable
	if len(disposable) == 0 {
		disposable = defaultDisposableDomains
	}
	roles := f.Roles
	if len(roles) == 0 {
		roles = defaultRoleAccounts
	}
	catchAll := f.CatchAll
	if len(catchAll) == 0 {
		catchAll = defaultCatchAllDomains
	}

	l.replace(disposable, roles, catchAll)
	return nil
}

func (l *Lists) replace(disposable, roles, catchAll []string) {
	newDisposable := toLowerSet(disposable)
	newRoles := toLowerSet(roles)
	newCatchAll := toLowerSet(catchAll)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.disposable = newDisposable
	l.roles = newRoles
	l.catchAll = newCatchAll
}

func toLowerSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = struct{}{}
	}
	return set
}

// IsDisposable reports whether domain is a known burner-mailbox provider.
func (l *Lists) IsDisposable(domain string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.disposable[strings.ToLower(domain)]
	return ok
}

// IsRoleAccount reports whether localPart names a function rather than a
// person (admin, info, support, ...).
func (l *Lists) IsRoleAccount(localPart string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.roles[strings.ToLower(localPart)]
	return ok
}

// IsKnownCatchAll reports whether domain is on the static catch-all
// allowlist, used as the catch-all detector's fallback when SMTP is
// unreachable (spec §4.6).
func (l *Lists) IsKnownCatchAll(domain string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.catchAll[strings.ToLower(domain)]
	return ok
}
