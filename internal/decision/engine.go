// Package decision implements the decision engine: the top-to-bottom
// first-match state machine spec §4.7 specifies, merging the probe
// cascade's outputs into a final status, safety score, and reason.
//
// This REDESIGNS the teacher's validator.CalculateRobustScore, which was a
// weighted-evidence accumulator (many independent boosters/penalties
// summed into a 0-99 score). Spec §4.7 instead names a strict ordered
// rule list where the first matching rule wins outright — a different
// shape of function, not a tuning of the same one. The teacher's breakdown
// map is not carried over: a Verdict explains itself with a single Reason
// string, and the control flow follows spec §4.7 exactly instead of
// accumulating weights.
package decision

import "cascade/internal/models"

// Inputs is everything the decision engine needs to evaluate spec §4.7's
// rule list for one address. Each field corresponds to one probe's output
// plus the static list lookups.
type Inputs struct {
	SyntaxValid bool

	Disposable bool
	RoleBased  bool

	DomainResolved bool
	MXFound        bool
	MXRecords      []models.MXRecord

	// ProviderExists is the tri-state conclusiveness of the Microsoft
	// credential-type / Google calendar probe: nil means the probe was
	// inconclusive or not applicable, and the cascade must fall back to
	// SMTP (spec §4.4).
	ProviderExists *bool
	IsO365         bool
	SMTPProvider   string

	SMTP     models.SMTPOutcome
	CatchAll bool
}

// Verdict is the decision engine's output: the three fields spec §4.7
// guarantees stay mutually consistent, plus the spam-risk bucket.
type Verdict struct {
	FinalStatus models.FinalStatus
	SafetyScore int
	Reason      string
	SpamRisk    models.SpamRisk
}

// Evaluate runs spec §4.7's ordered rule list against in, returning the
// first matching verdict. Rules are evaluated top-to-bottom; the first
// match wins.
func Evaluate(in Inputs) Verdict {
	switch {
	case !in.SyntaxValid:
		return finalize(models.StatusInvalidSyntax, 0, "Invalid syntax")

	case in.Disposable:
		return finalize(models.StatusDisposable, 30, "Disposable address")

	case !in.DomainResolved:
		return finalize(models.StatusInvalidDomain, 10, "Domain does not resolve")

	case !in.MXFound:
		return finalize(models.StatusNoMX, 15, "No MX records for domain")

	case in.ProviderExists != nil && !*in.ProviderExists:
		return finalize(models.StatusInvalid, 10, "Provider probe confirmed mailbox does not exist")

	case in.ProviderExists != nil && *in.ProviderExists:
		if in.CatchAll {
			return finalize(models.StatusValidRisky, 60, "Provider probe confirmed mailbox exists on a catch-all domain")
		}
		score := 95
		reason := "Provider probe confirmed mailbox exists"
		if in.RoleBased {
			score = 85
			reason = "Provider probe confirmed mailbox exists (role-based address)"
		}
		return finalize(models.StatusValidSafe, score, reason)

	case in.SMTP == models.SMTPRejected:
		return finalize(models.StatusInvalid, 20, "SMTP server rejected the recipient")

	case in.SMTP == models.SMTPUnreachable && in.CatchAll:
		return finalize(models.StatusRisky, 50, "Accept-all / unverifiable")

	case in.SMTP == models.SMTPResponsive:
		base := 95
		if in.CatchAll {
			base -= 20
		}
		if in.RoleBased {
			base -= 10
		}
		status := models.StatusValidSafe
		reason := "SMTP accepted the recipient"
		if in.CatchAll {
			status = models.StatusValidRisky
			reason = "SMTP accepted the recipient on a catch-all domain"
		}
		return finalize(status, base, reason)

	case in.SMTP == models.SMTPUnreachable:
		score := 65
		if in.RoleBased {
			score -= 10
		}
		return finalize(models.StatusRisky, score, "SMTP server unreachable")

	default:
		return finalize(models.StatusRisky, 50, "Inconclusive probe results")
	}
}

// finalize computes the spam_risk bucket from score (spec §4.7's closing
// paragraph) and packages the verdict. Disposable results are handled by
// their own rule branch above and always carry spam_risk high regardless
// of their fixed score, per spec: "Disposable always upgrades to high
// regardless of score."
func finalize(status models.FinalStatus, score int, reason string) Verdict {
	risk := spamRiskFor(score)
	if status == models.StatusDisposable {
		risk = models.SpamRiskHigh
	}
	return Verdict{
		FinalStatus: status,
		SafetyScore: clamp(score),
		Reason:      reason,
		SpamRisk:    risk,
	}
}

func spamRiskFor(score int) models.SpamRisk {
	switch {
	case score >= 80:
		return models.SpamRiskLow
	case score >= 60:
		return models.SpamRiskMedium
	default:
		return models.SpamRiskHigh
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
