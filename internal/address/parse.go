// Package address implements the syntax validator: it parses and validates
// an email address's local and domain parts against RFC-5321-style
// grammar, without performing any DNS or network I/O (spec §4.1).
package address

import (
	"errors"
	"fmt"
	"strings"

	"cascade/internal/models"
)

// ErrInvalidSyntax is the sentinel wrapped with the specific violation, so
// the returned error's text names what was wrong. The engine's cascade
// does not read that text: its verdict reason for any syntax failure is
// the fixed "Invalid syntax".
var ErrInvalidSyntax = errors.New("invalid email syntax")

const (
	maxLocalLen  = 64
	maxDomainLen = 253
	maxLabelLen  = 63
)

// Parse trims surrounding whitespace, validates the address against the
// local-part + "@" + domain grammar, and returns an immutable Address.
// Case is preserved in Original; all other fields are lowercased so every
// downstream comparison is case-insensitive without re-deriving it.
func Parse(raw string) (models.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return models.Address{}, fmt.Errorf("%w: empty address", ErrInvalidSyntax)
	}

	at := strings.LastIndexByte(trimmed, '@')
	if at <= 0 || at == len(trimmed)-1 {
		return models.Address{}, fmt.Errorf("%w: missing or misplaced '@'", ErrInvalidSyntax)
	}

	local := trimmed[:at]
	domain := trimmed[at+1:]

	if strings.Count(trimmed, "@") != 1 {
		return models.Address{}, fmt.Errorf("%w: address must contain exactly one '@'", ErrInvalidSyntax)
	}

	if err := validateLocal(local); err != nil {
		return models.Address{}, err
	}
	if err := validateDomain(domain); err != nil {
		return models.Address{}, err
	}

	return models.Address{
		Original:   trimmed,
		Normalized: strings.ToLower(trimmed),
		Local:      strings.ToLower(local),
		Domain:     strings.ToLower(domain),
	}, nil
}

func validateLocal(local string) error {
	if local == "" {
		return fmt.Errorf("%w: empty local part", ErrInvalidSyntax)
	}
	if len(local) > maxLocalLen {
		return fmt.Errorf("%w: local part exceeds %d bytes", ErrInvalidSyntax, maxLocalLen)
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") || strings.Contains(local, "..") {
		return fmt.Errorf("%w: local part has a stray '.'", ErrInvalidSyntax)
	}
	if strings.ContainsAny(local, " \t\r\n") {
		return fmt.Errorf("%w: local part contains whitespace", ErrInvalidSyntax)
	}
	for _, r := range local {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: local part contains a control character", ErrInvalidSyntax)
		}
		if strings.ContainsRune(`()<>[]\,;:"@`, r) {
			return fmt.Errorf("%w: local part contains an unquoted special character", ErrInvalidSyntax)
		}
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("%w: empty domain", ErrInvalidSyntax)
	}
	if len(domain) > maxDomainLen {
		return fmt.Errorf("%w: domain exceeds %d bytes", ErrInvalidSyntax, maxDomainLen)
	}
	if !strings.Contains(domain, ".") {
		return fmt.Errorf("%w: domain has no top-level label", ErrInvalidSyntax)
	}
	labels := strings.Split(domain, ".")
	for _, label := range labels {
		if label == "" {
			return fmt.Errorf("%w: empty domain label", ErrInvalidSyntax)
		}
		if len(label) > maxLabelLen {
			return fmt.Errorf("%w: domain label exceeds %d bytes", ErrInvalidSyntax, maxLabelLen)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("%w: domain label starts or ends with '-'", ErrInvalidSyntax)
		}
		for _, r := range label {
			isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !isAlnum && r != '-' {
				return fmt.Errorf("%w: domain label contains an invalid character", ErrInvalidSyntax)
			}
		}
	}
	return nil
}
