// Package smtpprobe implements spec §4.5's SMTP conversation probe:
// connect, EHLO, MAIL FROM, RCPT TO, then disconnect — never DATA, so no
// message is ever sent. Grounded closely on the teacher's
// lookup.CheckSMTP/IsNoSuchUserError/IsRateLimitError (internal/lookup/smtp.go),
// including its strict-enterprise-gateway tarpit handling and its layered
// keyword/status-code classification of "no such user" vs. transient
// blocks. The proxy-dialing branch is dropped (spec carries no proxy
// rotation requirement, and the teacher's proxy package isn't a direct
// go.mod dependency); everything else keeps the teacher's shape.
package smtpprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"cascade/internal/models"
)

const heloHost = "mta1.cascade-verify.local"

// strictGateways lists enterprise mail-security gateways known to tarpit
// or rate-limit rapid-fire SMTP commands; probes against these MX hosts
// slow down between commands to avoid tripping their abuse heuristics.
var strictGateways = []string{
	"mimecast.com",
	"pphosted.com",
	"barracudanetworks.com",
	"messagelabs.com",
	"iphmx.com",
	"trendmicro.com",
	"trendmicro.eu",
	"sophos.com",
	"mailcontrol.com",
	"mxlogic.net",
	"fireeye.com",
	"mx.cloudflare.net",
}

// Prober runs the SMTP conversation probe. Semaphore bounds the number of
// concurrent outbound SMTP connections process-wide, so a large bulk job
// doesn't get the verifying host's IP banned by receiving providers for
// opening too many simultaneous connections (spec §7's shared-resource
// note).
type Prober struct {
	semaphore  chan struct{}
	dialTimeout time.Duration
}

// New constructs a Prober with maxConcurrent simultaneous SMTP
// connections. The teacher hardcodes 15; spec leaves the pool size to the
// deployment, so it is a constructor argument here.
func New(maxConcurrent int) *Prober {
	if maxConcurrent <= 0 {
		maxConcurrent = 15
	}
	return &Prober{
		semaphore:   make(chan struct{}, maxConcurrent),
		dialTimeout: 10 * time.Second,
	}
}

// Outcome is the full SMTP probe result: the coarse models.SMTPOutcome
// bucket plus the raw conversation error and elapsed time, so the engine
// can log diagnostics without the decision engine needing to parse errors
// itself.
type Outcome struct {
	Status  models.SMTPOutcome
	Elapsed time.Duration
	Err     error
}

// Check connects to mxHost and runs EHLO/MAIL FROM/RCPT TO against
// targetEmail. It never issues DATA, so no message is ever transmitted.
func (p *Prober) Check(ctx context.Context, mxHost, targetEmail string) Outcome {
	select {
	case p.semaphore <- struct{}{}:
	case <-ctx.Done():
		return Outcome{Status: models.SMTPUnreachable, Err: ctx.Err()}
	}
	defer func() { <-p.semaphore }()

	d := net.Dialer{Timeout: p.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", mxHost+":25")
	if err != nil {
		return Outcome{Status: models.SMTPUnreachable, Err: fmt.Errorf("connection failed: %w", err)}
	}

	start := time.Now()
	strict := isStrictEnterprise(mxHost)

	deadlineOffset := 12 * time.Second
	if strict {
		deadlineOffset = 15 * time.Second
	}
	deadline := time.Now().Add(deadlineOffset)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, mxHost)
	if err != nil {
		conn.Close()
		return Outcome{Status: models.SMTPUnreachable, Elapsed: time.Since(start), Err: fmt.Errorf("client handshake failed: %w", err)}
	}
	defer client.Close()

	smartDelay := func() error {
		if !strict {
			return nil
		}
		select {
		case <-time.After(1 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := smartDelay(); err != nil {
		return Outcome{Status: models.SMTPUnreachable, Elapsed: time.Since(start), Err: err}
	}
	if err = client.Hello(heloHost); err != nil {
		return Outcome{Status: models.SMTPUnreachable, Elapsed: time.Since(start), Err: fmt.Errorf("HELO failed: %w", err)}
	}

	if err := smartDelay(); err != nil {
		return Outcome{Status: models.SMTPUnreachable, Elapsed: time.Since(start), Err: err}
	}
	if err = client.Mail(""); err != nil {
		return Outcome{Status: models.SMTPUnreachable, Elapsed: time.Since(start), Err: fmt.Errorf("MAIL FROM failed: %w", err)}
	}

	if err := smartDelay(); err != nil {
		return Outcome{Status: models.SMTPUnreachable, Elapsed: time.Since(start), Err: err}
	}
	err = client.Rcpt(targetEmail)
	elapsed := time.Since(start)

	if err != nil {
		if IsNoSuchUserError(err) {
			return Outcome{Status: models.SMTPRejected, Elapsed: elapsed, Err: err}
		}
		return Outcome{Status: models.SMTPUnreachable, Elapsed: elapsed, Err: err}
	}

	_ = client.Quit()
	return Outcome{Status: models.SMTPResponsive, Elapsed: elapsed}
}

func isStrictEnterprise(mxHost string) bool {
	lower := strings.ToLower(mxHost)
	for _, gw := range strictGateways {
		if strings.Contains(lower, gw) {
			return true
		}
	}
	return false
}

// IsNoSuchUserError classifies an SMTP conversation error as a definitive
// "mailbox does not exist" (hard bounce) versus a transient or
// policy-driven block. Block keywords are checked first because a server
// that explicitly complains about reputation or rate limiting is never
// telling us the mailbox is missing — it's refusing to answer at all.
func IsNoSuchUserError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	blockKeywords := []string{
		"spam", "block", "banned", "blacklisted", "policy",
		"relay", "access denied", "rejected by network", "unauthenticated",
		"sender", "reputation", "spf", "dmarc", "dkim", "quota",
		"rate limit", "temporarily", "reverse dns", "ptr", "helo",
		"spamhaus", "barracuda", "sorbs", "client host rejected",
		"not permitted", "connection refused", "timeout", "greylist",
	}
	for _, kw := range blockKeywords {
		if strings.Contains(errStr, kw) {
			return false
		}
	}
	// "ip" is matched as a whole word so that words containing it, such as
	// "recipient", are not read as a block complaint.
	for _, word := range strings.FieldsFunc(errStr, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if word == "ip" {
			return false
		}
	}

	if strings.Contains(errStr, "5.1.1") || strings.Contains(errStr, "5.1.0") {
		return true
	}

	keywords := []string{
		"does not exist", "user unknown", "no such user",
		"recipient rejected", "not found", "invalid mailbox",
		"not a valid mailbox", "mailbox unavailable", "unrouteable address",
		"no mailbox here", "unknown user", "bad destination",
		"address rejected",
	}
	for _, kw := range keywords {
		if strings.Contains(errStr, kw) {
			return true
		}
	}

	return hasSMTPCode(err, 550, 551, 553)
}

// IsRateLimitError reports whether err represents a transient "slow down"
// response (SMTP 450/451/452) rather than a definitive outcome.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if hasSMTPCode(err, 450, 451, 452) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "450") ||
		strings.Contains(errStr, "451") ||
		strings.Contains(errStr, "452") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit")
}

func hasSMTPCode(err error, codes ...int) bool {
	var textErr *textproto.Error
	if errors.As(err, &textErr) {
		for _, c := range codes {
			if textErr.Code == c {
				return true
			}
		}
	}
	return false
}

// CheckPostmaster probes postmaster@domain as a cheap domain-health
// signal. Fails open (returns true) on transient errors so a busy gateway
// never gets misread as "domain rejects everyone."
func (p *Prober) CheckPostmaster(ctx context.Context, mxHost, domain string) bool {
	outcome := p.Check(ctx, mxHost, "postmaster@"+domain)
	if outcome.Status == models.SMTPResponsive {
		return true
	}
	if IsNoSuchUserError(outcome.Err) {
		return false
	}
	return true
}
