// Package engine is the verification orchestrator spec §9 describes: the
// single place that wires the syntax validator, DNS facade, classifier,
// provider probes, SMTP prober, catch-all detector, domain cache, domain
// lists, decision engine, credit ledger, and job store into the four
// operations external callers use (VerifyOne, SubmitBulk, GetJob,
// CancelJob).
//
// Grounded on the teacher's worker.Start/processTask (BLPop loop, per-job
// timeout context, transactional progress commit), generalized per
// spec §9's redesign: the teacher's package-level singletons
// (cache.DomainCache, proxy.Global, store.DB, queue.Client) become fields
// on this explicit Engine struct built from injected dependencies instead
// of global state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"cascade/internal/address"
	"cascade/internal/catchall"
	"cascade/internal/classifier"
	"cascade/internal/config"
	"cascade/internal/decision"
	"cascade/internal/diagnostics"
	"cascade/internal/dnsfacade"
	"cascade/internal/domaincache"
	"cascade/internal/domainlists"
	"cascade/internal/jobstore"
	"cascade/internal/ledger"
	"cascade/internal/models"
	"cascade/internal/providerprobe"
	"cascade/internal/queue"
	"cascade/internal/smtpprobe"
)

// ErrInvalidInput is returned when a caller-supplied argument fails basic
// validation before any probe or ledger work begins (spec §7's "Internal"
// kind is reserved for everything downstream of this check).
var ErrInvalidInput = errors.New("invalid input")

// ErrJobNotFound is returned by GetJob/CancelJob for an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// Ledger is the subset of *ledger.Ledger the engine depends on, declared
// as an interface so a durable, externally-backed ledger implementation
// can stand in without changing engine code (spec §6).
type Ledger interface {
	Reserve(ctx context.Context, owner string, n int) (ledger.Token, error)
	Commit(ctx context.Context, token ledger.Token, nUsed int) error
	Refund(ctx context.Context, token ledger.Token, nUsed int) error
}

// BulkQueue is the subset of *queue.Queue the engine depends on, declared
// as an interface so tests can exercise the queue-backed transport
// without a live Redis instance. *queue.Queue satisfies this directly.
type BulkQueue interface {
	EnqueueBatch(ctx context.Context, jobID string, emails []string) error
	Dequeue(ctx context.Context, timeout time.Duration) (queue.Task, error)
}

// Engine ties every probe-cascade component together behind the four
// operations spec §6/§9 names.
type Engine struct {
	cfg config.Config

	dns      *dnsfacade.Facade
	lists    *domainlists.Lists
	cache    *domaincache.Store
	provider *providerprobe.Prober
	smtp     *smtpprobe.Prober
	catchall *catchall.Detector

	ledger Ledger
	store  jobstore.JobStore

	limiter    *rate.Limiter
	httpClient *http.Client

	jobs *jobRegistry

	// queue is nil by default, in which case SubmitBulk runs jobs with the
	// in-process worker pool. A caller that wants the Redis-backed
	// transport instead sets this via UseQueue.
	queue     BulkQueue
	queueMu   sync.Mutex
	queueJobs map[string]*queuedJob
}

// New builds an Engine from cfg, the ledger and the job store. It always
// constructs its own DNS facade (cfg.DNSResolvers, or the public-recursor
// defaults when that list is empty), an empty domain cache and the
// built-in disposable/role/catch-all tables.
func New(cfg config.Config, l Ledger, store jobstore.JobStore) *Engine {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	smtpProber := smtpprobe.New(cfg.SMTPConcurrency)
	return &Engine{
		cfg:      cfg,
		dns:      dnsfacade.New(dnsfacade.Config{Resolvers: cfg.DNSResolvers}),
		lists:    domainlists.NewDefault(),
		cache:    domaincache.New(),
		provider: providerprobe.New(),
		smtp:     smtpProber,
		catchall: catchall.New(smtpProber),
		ledger:   l,
		store:    store,
		// 20 probe-starts/sec sustained, bursting to 40 — spec §5's "global
		// rate limit per worker pool", grounded on the DevyanshuNegi
		// email-validator's use of golang.org/x/time/rate for the same
		// concern (see SPEC_FULL.md's domain-stack table).
		limiter:    rate.NewLimiter(rate.Limit(20), 40),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		jobs:       newJobRegistry(),
		queueJobs:  make(map[string]*queuedJob),
	}
}

// StartBackgroundSweep launches the domain cache's eviction goroutine.
// Call once per Engine lifetime; ctx cancellation stops it (spec §9).
func (e *Engine) StartBackgroundSweep(ctx context.Context, interval time.Duration) {
	e.cache.StartCleanup(ctx, interval)
}

// ReloadDomainLists re-reads the disposable/role/catch-all tables from
// path, atomically replacing the built-in defaults. Intended to be called
// once at startup when cfg.DomainListPath is set; safe to call again later
// against a file that has since changed.
func (e *Engine) ReloadDomainLists(path string) error {
	return e.lists.Reload(path)
}

// VerifyOne verifies a single address on behalf of owner, charging one
// credit from the ledger. The credit is committed once the cascade
// completes regardless of the resulting verdict — an "invalid" result is
// still a completed piece of work — and refunded only if a system error
// (not a probe outcome) prevents the cascade from running at all.
func (e *Engine) VerifyOne(ctx context.Context, owner, rawEmail string) (*models.VerificationResult, error) {
	if owner == "" || rawEmail == "" {
		return nil, fmt.Errorf("%w: owner and email are required", ErrInvalidInput)
	}

	token, err := e.ledger.Reserve(ctx, owner, 1)
	if err != nil {
		return nil, fmt.Errorf("reserve credit: %w", err)
	}

	result, cascadeErr := e.cascade(ctx, rawEmail)
	if cascadeErr != nil {
		// A system-level failure (not a probe outcome) — refund instead of
		// committing, since no billable work actually happened.
		if refundErr := e.ledger.Refund(ctx, token, 0); refundErr != nil {
			return nil, fmt.Errorf("cascade failed (%v) and refund failed: %w", cascadeErr, refundErr)
		}
		return nil, fmt.Errorf("verification failed: %w", cascadeErr)
	}

	if err := e.ledger.Commit(ctx, token, 1); err != nil {
		return nil, fmt.Errorf("commit credit: %w", err)
	}
	result.CreditsUsed = 1
	return result, nil
}

// cascade runs the full probe cascade for one address and returns a
// populated VerificationResult. It never returns an error for a
// low-quality verdict (invalid syntax, no MX, etc.) — those are encoded
// in the result itself. An error here means the cascade could not run to
// a verdict: the context was cancelled before it started, or the rate
// limiter's wait failed before the DNS probes.
func (e *Engine) cascade(ctx context.Context, rawEmail string) (*models.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := models.NewPendingResult(rawEmail)

	addr, err := address.Parse(rawEmail)
	if err != nil {
		verdict := decision.Evaluate(decision.Inputs{SyntaxValid: false})
		applyVerdict(&result, verdict)
		return &result, nil
	}
	result.Syntax = models.SyntaxValid
	result.Email = addr.Normalized

	disposable := e.lists.IsDisposable(addr.Domain)
	roleBased := e.lists.IsRoleAccount(addr.Local)
	result.Disposable = disposable
	result.RoleBased = roleBased

	if disposable {
		verdict := decision.Evaluate(decision.Inputs{SyntaxValid: true, Disposable: true})
		applyVerdict(&result, verdict)
		return &result, nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if _, dnsErr := e.dns.ResolveA(ctx, addr.Domain); dnsErr != nil {
		result.Domain = models.DomainInvalid
		verdict := decision.Evaluate(decision.Inputs{SyntaxValid: true, Disposable: false, DomainResolved: false})
		applyVerdict(&result, verdict)
		return &result, nil
	}
	result.Domain = models.DomainValid

	mxRecords, mxErr := e.dns.ResolveMX(ctx, addr.Domain)
	if mxErr != nil || len(mxRecords) == 0 {
		result.MX = models.MXNotFound
		verdict := decision.Evaluate(decision.Inputs{SyntaxValid: true, DomainResolved: true, MXFound: false})
		applyVerdict(&result, verdict)
		return &result, nil
	}
	result.MX = models.MXFound
	result.MXRecords = mxRecords
	primaryMX := mxRecords[0].Host

	// Diagnostic-only detail data (spec §3's open "details" map): never
	// consumed by the decision engine, surfaced purely for operators.
	result.Details["spf"] = e.dns.CheckSPF(ctx, addr.Domain)
	result.Details["dmarc"] = e.dns.CheckDMARC(ctx, addr.Domain)
	if days := diagnostics.DomainAge(ctx, e.httpClient, addr.Domain); days > 0 {
		result.Details["domain_age_days"] = days
	}

	cached, hit := e.cache.Get(addr.Domain)
	var provider models.ProviderTag
	var cachedCatchAll models.CatchAllState
	if hit {
		provider = cached.Provider
		cachedCatchAll = cached.CatchAll
	} else {
		cls := classifier.Classify(addr.Domain, mxRecords)
		provider = cls.Provider
		if cls.GatewayTag != "" {
			result.Details["gateway"] = cls.GatewayTag
		}
	}
	result.Details["provider"] = string(provider)
	result.SMTPProvider = string(provider)
	result.IsO365 = provider == models.ProviderMicrosoft365 || provider == models.ProviderConsumerMicrosoft

	var providerExists *bool
	var catchAllState models.CatchAllState = cachedCatchAll

	switch provider {
	case models.ProviderMicrosoft365, models.ProviderConsumerMicrosoft:
		if err := e.limiter.Wait(ctx); err == nil {
			isO365, adCatchAll, adErr := e.provider.CheckO365Autodiscover(ctx, addr.Domain, catchall.GhostLocalPart())
			if adErr == nil {
				result.IsO365 = isO365
				if adCatchAll {
					catchAllState = models.CatchAllTrue
				}
				result.Details["o365_autodiscover"] = fmt.Sprintf("is_o365=%v catch_all=%v", isO365, adCatchAll)
			} else {
				result.Details["o365_autodiscover"] = adErr.Error()
			}
		}
		if err := e.limiter.Wait(ctx); err == nil {
			res := e.provider.CheckMicrosoft(ctx, addr.Normalized)
			if res.Exists != nil {
				providerExists = res.Exists
			}
			result.Details["microsoft_probe"] = res.Detail
		}
	case models.ProviderGoogleWorkspace, models.ProviderConsumerGoogle:
		if err := e.limiter.Wait(ctx); err == nil {
			res := e.provider.CheckGoogle(ctx, addr.Normalized, catchall.GhostLocalPart())
			if res.Exists != nil {
				providerExists = res.Exists
				if *res.Exists {
					catchAllState = boolToCatchAll(res.CatchAll)
				}
			}
			result.Details["google_probe"] = res.Detail
		}
	}

	var smtpOutcome models.SMTPOutcome = models.SMTPNoMX
	if providerExists == nil {
		if err := e.limiter.Wait(ctx); err == nil {
			outcome := e.smtp.Check(ctx, primaryMX, addr.Normalized)
			smtpOutcome = outcome.Status
			result.SMTP = smtpOutcome
			if outcome.Err != nil {
				result.Details["smtp_error"] = outcome.Err.Error()
			}
		}
	}

	if catchAllState == "" || catchAllState == models.CatchAllUnknown {
		needsCatchAll := (providerExists != nil && *providerExists) || smtpOutcome == models.SMTPResponsive || smtpOutcome == models.SMTPUnreachable
		if needsCatchAll {
			if err := e.limiter.Wait(ctx); err == nil {
				catchAllState = e.catchall.Check(ctx, primaryMX, addr.Domain)
			}
		}
		if catchAllState == "" || catchAllState == models.CatchAllUnknown {
			if e.lists.IsKnownCatchAll(addr.Domain) {
				catchAllState = models.CatchAllTrue
			}
		}
	}
	result.CatchAll = catchAllState == models.CatchAllTrue

	e.cache.SetIfFresher(models.DomainCacheEntry{
		Domain:   addr.Domain,
		Provider: provider,
		CatchAll: catchAllState,
	}, domaincache.DefaultTTL)

	verdict := decision.Evaluate(decision.Inputs{
		SyntaxValid:    true,
		Disposable:     false,
		RoleBased:      roleBased,
		DomainResolved: true,
		MXFound:        true,
		MXRecords:      mxRecords,
		ProviderExists: providerExists,
		IsO365:         result.IsO365,
		SMTPProvider:   result.SMTPProvider,
		SMTP:           smtpOutcome,
		CatchAll:       result.CatchAll,
	})
	applyVerdict(&result, verdict)
	return &result, nil
}

func applyVerdict(result *models.VerificationResult, v decision.Verdict) {
	result.FinalStatus = v.FinalStatus
	result.SafetyScore = v.SafetyScore
	result.Reason = v.Reason
	result.SpamRisk = v.SpamRisk
	result.Timestamp = time.Now()
}

func boolToCatchAll(b bool) models.CatchAllState {
	if b {
		return models.CatchAllTrue
	}
	return models.CatchAllFalse
}

func newJobID() string {
	return uuid.New().String()
}
