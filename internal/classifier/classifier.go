// Package classifier assigns a provider tag to a domain from its MX
// records and name, per spec §4.3. Grounded on the teacher's
// lookup.IdentifyProvider (MX substring scan) and on
// original_source/backend/app/services/email_sorter.py, whose
// PROVIDER_MX_PATTERNS / *_CONSUMER_DOMAINS tables supply the exact
// substrings and the consumer-domain shortcut the teacher's version never
// had.
package classifier

import (
	"strings"

	"cascade/internal/models"
)

// consumerMicrosoftDomains are domains that are always Microsoft consumer
// mailboxes regardless of MX — no lookup needed.
var consumerMicrosoftDomains = map[string]struct{}{
	"outlook.com":    {},
	"hotmail.com":    {},
	"live.com":       {},
	"msn.com":        {},
	"office365.com":  {},
	"onmicrosoft.com": {},
}

// consumerGoogleDomains are domains that are always Google consumer
// mailboxes regardless of MX.
var consumerGoogleDomains = map[string]struct{}{
	"gmail.com":     {},
	"googlemail.com": {},
}

// mxPatterns lists, in match-priority order, the MX hostname substrings
// that identify each hosted provider. First match wins, per spec §4.3 step 3.
var mxPatterns = []struct {
	tag        models.ProviderTag
	substrings []string
}{
	{models.ProviderMicrosoft365, []string{"mail.protection.outlook.com", "outlook.com", "onmicrosoft.com"}},
	{models.ProviderGoogleWorkspace, []string{"aspmx.l.google.com", "google.com", "googlemail.com"}},
	{models.ProviderTitan, []string{"titan.email", "flock.email"}},
	{models.ProviderZoho, []string{"zoho.com", "zoho.eu", "mx.zoho.com"}},
	{models.ProviderProtonMail, []string{"protonmail.ch"}},
	{models.ProviderYahoo, []string{"yahoodns.net"}},
}

// gatewayPatterns identifies enterprise security gateways that sit in
// front of a domain's real mailbox provider. These are not part of the
// spec's closed ProviderTag set; they are retained as supplementary
// diagnostic data (spec §3 "details") rather than dropped, since the
// teacher's IdentifyProvider treated them as first-class providers.
var gatewayPatterns = []struct {
	tag        string
	substrings []string
}{
	{"proofpoint", []string{"pphosted.com"}},
	{"mimecast", []string{"mimecast.com"}},
	{"barracuda", []string{"barracudanetworks.com"}},
}

// Result is the classifier's verdict: the closed provider tag plus an
// optional gateway tag surfaced only as diagnostic detail.
type Result struct {
	Provider   models.ProviderTag
	GatewayTag string
}

// Classify assigns a provider tag following spec §4.3's ordered rules:
// consumer-domain shortcuts first, then an MX substring scan, else generic.
func Classify(domain string, mxRecords []models.MXRecord) Result {
	lower := strings.ToLower(domain)

	if _, ok := consumerMicrosoftDomains[lower]; ok {
		return Result{Provider: models.ProviderConsumerMicrosoft}
	}
	if _, ok := consumerGoogleDomains[lower]; ok {
		return Result{Provider: models.ProviderConsumerGoogle}
	}

	var gateway string
	for _, mx := range mxRecords {
		host := strings.ToLower(mx.Host)
		if gateway == "" {
			for _, gw := range gatewayPatterns {
				if containsAny(host, gw.substrings) {
					gateway = gw.tag
					break
				}
			}
		}
	}

	for _, mx := range mxRecords {
		host := strings.ToLower(mx.Host)
		for _, p := range mxPatterns {
			if containsAny(host, p.substrings) {
				return Result{Provider: p.tag, GatewayTag: gateway}
			}
		}
	}

	return Result{Provider: models.ProviderGeneric, GatewayTag: gateway}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
