// Package providerprobe implements spec §4.4's provider-specific probes:
// the Microsoft credential-type check and the Google calendar check. These
// run only when the classifier (internal/classifier) has tagged the
// domain as Microsoft (365 or consumer) or Google (Workspace or consumer),
// and their result — when
// conclusive — lets the decision engine skip the SMTP probe entirely.
//
// Grounded on the teacher's lookup.CheckMicrosoftLogin (probes.go), which
// this package keeps close to verbatim for the request/response shape,
// and on original_source's office365_checker.py/gmail_checker.py for the
// autodiscover-junk-user and iCal/X-Frame-Options techniques the teacher
// never implemented. Social probes (Teams, SharePoint, Gravatar, GitHub,
// HIBP breach) are out of scope per spec's Non-goals and are not ported.
package providerprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Result is the tri-state outcome of a provider probe: Exists is nil when
// the probe could not reach a conclusion (HTTP error, unexpected status,
// rate limiting) and the cascade must fall back to SMTP.
type Result struct {
	Exists   *bool
	CatchAll bool
	Method   string
	Detail   string
}

func inconclusive(method, detail string) Result {
	return Result{Method: method, Detail: detail}
}

func conclusive(exists, catchAll bool, method, detail string) Result {
	e := exists
	return Result{Exists: &e, CatchAll: catchAll, Method: method, Detail: detail}
}

// Prober runs the HTTP-based provider probes. A Prober is safe for
// concurrent use; Client is shared across calls the way the teacher shares
// its package-level sharedClient.
type Prober struct {
	Client    *http.Client
	UserAgent string
}

// New constructs a Prober with the teacher's timeout/idle-conn tuning,
// minus the proxy-routing transport (spec's scope has no proxy rotation
// requirement, and the teacher's proxy package is not a direct go.mod
// dependency).
func New() *Prober {
	return &Prober{
		Client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

type microsoftCredentialResponse struct {
	Username       string `json:"Username"`
	IfExistsResult int    `json:"IfExistsResult"`
}

// CheckMicrosoft asks login.microsoftonline.com's GetCredentialType
// endpoint whether email exists in its home tenant. IfExistsResult 0 means
// the user exists; 1 means it does not; any other code (5/6 federated,
// non-200 status, decode failure) is inconclusive, per
// office365_checker.py's documented code table.
func (p *Prober) CheckMicrosoft(ctx context.Context, email string) Result {
	return p.checkMicrosoftAt(ctx, email, "https://login.microsoftonline.com/common/GetCredentialType")
}

// checkMicrosoftAt is CheckMicrosoft with the endpoint broken out so tests
// can point it at an httptest server instead of the live Microsoft API.
func (p *Prober) checkMicrosoftAt(ctx context.Context, email, endpoint string) Result {
	const method = "microsoft_login_api"

	payload, _ := json.Marshal(map[string]string{"username": email})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return inconclusive(method, fmt.Sprintf("request construction failed: %v", err))
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return inconclusive(method, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return inconclusive(method, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var result microsoftCredentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return inconclusive(method, fmt.Sprintf("decode failed: %v", err))
	}

	switch result.IfExistsResult {
	case 0:
		return conclusive(true, false, method, "user confirmed via Microsoft login API")
	case 1:
		return conclusive(false, false, method, "user not found via Microsoft login API")
	default:
		return inconclusive(method, fmt.Sprintf("federated or ambiguous IfExistsResult=%d", result.IfExistsResult))
	}
}

// CheckGoogle issues a HEAD request against the public iCal feed for email
// and a second one against a random local part at the same domain, per
// gmail_checker.py's technique: the presence of the X-Frame-Options header
// signals the mailbox exists, and whether the same header also appears for
// a random address distinguishes a genuine hit from a catch-all domain.
func (p *Prober) CheckGoogle(ctx context.Context, email, randomLocalPart string) Result {
	const method = "google_calendar_ical"

	domain := domainOf(email)
	if domain == "" {
		return inconclusive(method, "malformed address")
	}

	exists, err := p.hasPublicCalendar(ctx, email)
	if err != nil {
		return inconclusive(method, fmt.Sprintf("request failed: %v", err))
	}
	if !exists {
		return conclusive(false, false, method, "no calendar X-Frame-Options header")
	}

	ghost := randomLocalPart + "@" + domain
	ghostExists, err := p.hasPublicCalendar(ctx, ghost)
	if err != nil {
		// The real address was conclusive; a failed ghost probe just means
		// catch-all status is unknown, not that the real address is invalid.
		return conclusive(true, false, method, "address valid; catch-all probe failed")
	}

	return conclusive(true, ghostExists, method, "address valid via calendar probe")
}

func (p *Prober) hasPublicCalendar(ctx context.Context, email string) (bool, error) {
	url := fmt.Sprintf("https://calendar.google.com/calendar/ical/%s/public/basic.ics", email)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", p.UserAgent)

	resp, err := p.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.Header.Get("X-Frame-Options") != "", nil
}

// CheckO365Autodiscover probes Microsoft's autodiscover endpoint with a
// junk local part to learn whether domain is on Office 365 infrastructure
// and, incidentally, whether it behaves as a catch-all — a junk user
// returning 200 means every address at domain resolves, per
// office365_checker.py's get_domain_info.
func (p *Prober) CheckO365Autodiscover(ctx context.Context, domain, randomLocalPart string) (isO365, catchAll bool, err error) {
	url := fmt.Sprintf("https://outlook.office365.com/autodiscover/autodiscover.json/v1.0/%s@%s?Protocol=rest", randomLocalPart, domain)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if reqErr != nil {
		return false, false, reqErr
	}
	req.Header.Set("User-Agent", "Microsoft Office/16.0 (Windows NT 10.0; Microsoft Outlook 16.0.12026; Pro)")
	req.Header.Set("Accept", "application/json")

	// Redirects are not followed, so a 302 and its Location reach the
	// switch below.
	client := *p.Client
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, doErr := client.Do(req)
	if doErr != nil {
		return false, false, doErr
	}
	defer resp.Body.Close()

	body := make([]byte, 4096)
	n, _ := resp.Body.Read(body)
	text := strings.ToLower(string(body[:n]))

	switch {
	case resp.StatusCode == http.StatusOK && (strings.Contains(text, "outlook") || strings.Contains(text, "office")):
		return true, true, nil
	case resp.StatusCode == http.StatusFound:
		loc := strings.ToLower(resp.Header.Get("Location"))
		if strings.Contains(loc, "outlook") || strings.Contains(loc, "office365") || strings.Contains(loc, "office.com") {
			return true, false, nil
		}
	}
	return false, false, nil
}

func domainOf(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return email[i+1:]
}
