// Package diagnostics supplies non-authoritative probe-specific detail
// data the decision engine never consumes, per spec §6's "details: open
// map for probe-specific diagnostics". Grounded on the teacher's
// probes_extended.go CheckDomainAge (RDAP lookup, attempt-1/attempt-2
// retry), adapted to use internal/retry instead of an inline sleep loop
// and to drop the proxy parameter.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cascade/internal/retry"
)

var errNoRegistrationEvent = errors.New("no registration event in RDAP response")

// DomainAge queries rdap.org for domain's registration date and returns
// its age in days, or 0 if the lookup fails or no registration event is
// present in the response.
func DomainAge(ctx context.Context, client *http.Client, domain string) int {
	target := "https://rdap.org/domain/" + domain

	var ageDays int
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

	_ = retry.Do(ctx, policy, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/rdap+json")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected RDAP status %d", resp.StatusCode)
		}

		var rdap struct {
			Events []struct {
				Action string `json:"eventAction"`
				Date   string `json:"eventDate"`
			} `json:"events"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&rdap); err != nil {
			return err
		}

		var created time.Time
		for _, event := range rdap.Events {
			if event.Action == "registration" || event.Action == "creation" {
				t, err := time.Parse(time.RFC3339, event.Date)
				if err != nil {
					continue
				}
				if created.IsZero() || t.Before(created) {
					created = t
				}
			}
		}
		if created.IsZero() {
			return errNoRegistrationEvent
		}
		ageDays = int(time.Since(created).Hours() / 24)
		return nil
	})

	return ageDays
}
