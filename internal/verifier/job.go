// Package verifier drives the custom-domain verification state machine:
// a periodic batch over pending domains, one DNS ownership check each,
// bounded retries, and cache invalidation on every state transition.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/storeward/tenant-edge/internal/core"
	"github.com/storeward/tenant-edge/internal/metrics"
)

// DomainStore is the slice of the domain store the loop needs.
type DomainStore interface {
	GetPendingVerification(ctx context.Context) ([]core.TenantDomain, error)
	GetDomain(ctx context.Context, id uuid.UUID) (*core.TenantDomain, error)
	UpdateDomain(ctx context.Context, domain *core.TenantDomain) error
}

// CacheInvalidator removes a domain's cached mapping after a state change.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, domainName string) error
}

type outcome string

const (
	outcomeVerified outcome = "verified"
	outcomePending  outcome = "pending"
	outcomeFailed   outcome = "failed"
	outcomeError    outcome = "error"
)

type Job struct {
	store   DomainStore
	dns     DNSVerifier
	cache   CacheInvalidator
	metrics *metrics.Collector
	limiter *rate.Limiter
	logger  *zap.Logger
	running atomic.Bool
}

func NewJob(store DomainStore, dns DNSVerifier, cache CacheInvalidator, collector *metrics.Collector, queriesPerSecond float64, logger *zap.Logger) *Job {
	return &Job{
		store:   store,
		dns:     dns,
		cache:   cache,
		metrics: collector,
		limiter: rate.NewLimiter(rate.Limit(queriesPerSecond), 1),
		logger:  logger,
	}
}

// Run executes one verification cycle. Overlapping invocations are
// dropped rather than queued so a slow DNS batch never doubles attempt
// counters. A failure to even list pending domains aborts the run and is
// returned to the scheduler; per-domain failures never do.
func (j *Job) Run(ctx context.Context) error {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Warn("verification run still in progress, skipping")
		j.metrics.RecordRunSkipped()
		return nil
	}
	defer j.running.Store(false)

	start := time.Now()

	domains, err := j.store.GetPendingVerification(ctx)
	if err != nil {
		j.metrics.RecordRun("error", time.Since(start))
		return fmt.Errorf("list pending domains: %w", err)
	}

	if len(domains) == 0 {
		j.metrics.SetPendingDomains(0)
		j.metrics.RecordRun("ok", time.Since(start))
		return nil
	}

	j.logger.Info("verification run started", zap.Int("pending", len(domains)))

	var verified, failed, pending int
	for i := range domains {
		switch j.processDomain(ctx, &domains[i]) {
		case outcomeVerified:
			verified++
		case outcomeFailed:
			failed++
		default:
			pending++
		}
	}

	j.metrics.SetPendingDomains(pending)
	j.metrics.RecordRun("ok", time.Since(start))

	j.logger.Info("verification run finished",
		zap.Int("verified", verified),
		zap.Int("failed", failed),
		zap.Int("still_pending", pending),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

// processDomain advances one domain's state machine. Every error is
// contained here: a DNS timeout or store hiccup costs this domain one
// attempt and the batch moves on.
func (j *Job) processDomain(ctx context.Context, domain *core.TenantDomain) outcome {
	log := j.logger.With(
		zap.String("domain", domain.DomainName),
		zap.String("domain_id", domain.ID.String()),
	)

	if domain.VerificationToken == nil {
		// Violates the token/expiry invariant; nothing to check against.
		log.Error("pending domain has no verification token")
		j.metrics.RecordDomainOutcome(string(outcomeError))
		return outcomeError
	}

	if err := j.limiter.Wait(ctx); err != nil {
		j.metrics.RecordDomainOutcome(string(outcomeError))
		return outcomeError
	}

	result, err := j.dns.Verify(ctx, domain.DomainName, *domain.VerificationToken)
	if err != nil {
		log.Warn("dns check errored, counting as failed attempt", zap.Error(err))
		return j.recordFailure(ctx, domain, log)
	}

	if !result.Verified {
		log.Info("domain not yet verified",
			zap.String("reason", result.FailureReason),
			zap.Int("attempts", domain.VerificationAttempts+1),
		)
		return j.recordFailure(ctx, domain, log)
	}

	if err := j.persist(ctx, domain, (*core.TenantDomain).MarkVerified); err != nil {
		log.Error("failed to persist verified domain", zap.Error(err))
		j.metrics.RecordDomainOutcome(string(outcomeError))
		return outcomeError
	}

	// Invalidate so the very next request observes the new state.
	if err := j.cache.Invalidate(ctx, domain.DomainName); err != nil {
		log.Warn("cache invalidation failed after verification", zap.Error(err))
	}

	log.Info("domain verified")
	j.metrics.RecordDomainOutcome(string(outcomeVerified))
	return outcomeVerified
}

func (j *Job) recordFailure(ctx context.Context, domain *core.TenantDomain, log *zap.Logger) outcome {
	if err := j.persist(ctx, domain, (*core.TenantDomain).MarkVerificationFailed); err != nil {
		log.Error("failed to persist verification attempt", zap.Error(err))
		j.metrics.RecordDomainOutcome(string(outcomeError))
		return outcomeError
	}

	if domain.VerificationStatus == core.VerificationFailed {
		log.Warn("domain verification failed terminally",
			zap.Int("attempts", domain.VerificationAttempts))
		j.metrics.RecordDomainOutcome(string(outcomeFailed))
		return outcomeFailed
	}

	j.metrics.RecordDomainOutcome(string(outcomePending))
	return outcomePending
}

// persist applies a transition and writes it under optimistic
// concurrency. On a version conflict the row is re-read and the
// transition retried once against fresh state; a second conflict is
// deferred to the next cycle.
func (j *Job) persist(ctx context.Context, domain *core.TenantDomain, apply func(*core.TenantDomain)) error {
	apply(domain)

	err := j.store.UpdateDomain(ctx, domain)
	if !errors.Is(err, core.ErrVersionConflict) {
		return err
	}

	fresh, err := j.store.GetDomain(ctx, domain.ID)
	if err != nil {
		return err
	}

	if fresh.VerificationStatus != core.VerificationPending {
		// An administrative action already moved the domain on; its
		// writer owns the cache invalidation.
		*domain = *fresh
		return nil
	}

	apply(fresh)
	if err := j.store.UpdateDomain(ctx, fresh); err != nil {
		return err
	}

	*domain = *fresh
	return nil
}
