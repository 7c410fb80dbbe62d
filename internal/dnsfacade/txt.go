package dnsfacade

import (
	"context"
	"net"
	"strings"
)

// CheckSPF looks for a v=spf1 TXT record on domain. Grounded on the
// teacher's lookup.CheckSPF; kept as a context-aware TXT lookup rather than
// the legacy net.LookupTXT call that ignored ctx entirely. This is a
// non-authoritative diagnostic (spec §3 "details": open map), not a
// decision-engine input.
func (f *Facade) CheckSPF(ctx context.Context, domain string) bool {
	txts, err := net.DefaultResolver.LookupTXT(ctx, domain)
	if err != nil {
		return false
	}
	for _, txt := range txts {
		if strings.HasPrefix(txt, "v=spf1") {
			return true
		}
	}
	return false
}

// CheckDMARC looks for a DMARC policy record at _dmarc.<domain>. Same
// diagnostic-only status as CheckSPF.
func (f *Facade) CheckDMARC(ctx context.Context, domain string) bool {
	txts, err := net.DefaultResolver.LookupTXT(ctx, "_dmarc."+domain)
	if err != nil {
		return false
	}
	for _, txt := range txts {
		if strings.HasPrefix(txt, "v=DMARC1") {
			return true
		}
	}
	return false
}
