package verifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storeward/tenant-edge/internal/core"
	"github.com/storeward/tenant-edge/internal/metrics"
)

type fakeStore struct {
	mu           sync.Mutex
	pending      []core.TenantDomain
	listErr      error
	updateCalls  int
	conflictOnce bool
	byID         map[uuid.UUID]*core.TenantDomain
}

func (f *fakeStore) GetPendingVerification(context.Context) ([]core.TenantDomain, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pending, nil
}

func (f *fakeStore) GetDomain(_ context.Context, id uuid.UUID) (*core.TenantDomain, error) {
	d, ok := f.byID[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (f *fakeStore) UpdateDomain(_ context.Context, domain *core.TenantDomain) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updateCalls++
	if f.conflictOnce {
		f.conflictOnce = false
		return core.ErrVersionConflict
	}
	if f.byID == nil {
		f.byID = map[uuid.UUID]*core.TenantDomain{}
	}
	copied := *domain
	f.byID[domain.ID] = &copied
	return nil
}

type fakeDNS struct {
	mu      sync.Mutex
	results map[string]Result
	errs    map[string]error
	calls   int
	block   chan struct{}
}

func (f *fakeDNS) Verify(_ context.Context, domainName, _ string) (Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if err, ok := f.errs[domainName]; ok {
		return Result{}, err
	}
	return f.results[domainName], nil
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (f *fakeCache) Invalidate(_ context.Context, domainName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, domainName)
	return nil
}

func pendingDomain(attempts int) core.TenantDomain {
	d := core.TenantDomain{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		Type:      core.DomainTypeCustom,
		SSLStatus: core.SSLNone,
	}
	d.DomainName = "shop-" + d.ID.String()[:8] + ".example.com"
	d.GenerateVerificationToken()
	d.VerificationAttempts = attempts
	return d
}

func newTestJob(store *fakeStore, dns *fakeDNS, cache *fakeCache) *Job {
	collector := metrics.NewCollector(prometheus.NewRegistry())
	return NewJob(store, dns, cache, collector, 1000, zap.NewNop())
}

func TestRun_NoPendingDomains(t *testing.T) {
	store := &fakeStore{}
	dns := &fakeDNS{}
	cache := &fakeCache{}

	err := newTestJob(store, dns, cache).Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, dns.calls)
	assert.Empty(t, cache.invalidated)
}

func TestRun_VerificationSucceeds(t *testing.T) {
	domain := pendingDomain(0)
	store := &fakeStore{pending: []core.TenantDomain{domain}}
	dns := &fakeDNS{results: map[string]Result{domain.DomainName: {Verified: true}}}
	cache := &fakeCache{}

	err := newTestJob(store, dns, cache).Run(context.Background())
	require.NoError(t, err)

	saved := store.byID[domain.ID]
	require.NotNil(t, saved)
	assert.Equal(t, core.VerificationVerified, saved.VerificationStatus)
	assert.Nil(t, saved.VerificationToken)
	assert.Nil(t, saved.VerificationExpiresAt)
	assert.NotNil(t, saved.VerifiedAt)
	assert.NotNil(t, saved.LastVerificationCheck)
	assert.Equal(t, 0, saved.VerificationAttempts)

	assert.Equal(t, []string{domain.DomainName}, cache.invalidated)
}

func TestRun_VerificationFails_IncrementsAttempts(t *testing.T) {
	domain := pendingDomain(0)
	store := &fakeStore{pending: []core.TenantDomain{domain}}
	dns := &fakeDNS{results: map[string]Result{domain.DomainName: {FailureReason: "no TXT record"}}}
	cache := &fakeCache{}

	err := newTestJob(store, dns, cache).Run(context.Background())
	require.NoError(t, err)

	saved := store.byID[domain.ID]
	require.NotNil(t, saved)
	assert.Equal(t, core.VerificationPending, saved.VerificationStatus)
	assert.Equal(t, 1, saved.VerificationAttempts)
	assert.NotNil(t, saved.LastVerificationCheck)
	assert.Empty(t, cache.invalidated)
}

func TestRun_MaxAttemptsReached_MarksFailed(t *testing.T) {
	domain := pendingDomain(9)
	store := &fakeStore{pending: []core.TenantDomain{domain}}
	dns := &fakeDNS{results: map[string]Result{domain.DomainName: {FailureReason: "token mismatch"}}}
	cache := &fakeCache{}

	err := newTestJob(store, dns, cache).Run(context.Background())
	require.NoError(t, err)

	saved := store.byID[domain.ID]
	require.NotNil(t, saved)
	assert.Equal(t, core.VerificationFailed, saved.VerificationStatus)
	assert.Equal(t, 10, saved.VerificationAttempts)
	assert.Empty(t, cache.invalidated)
}

func TestRun_DNSErrorDoesNotAbortBatch(t *testing.T) {
	broken := pendingDomain(0)
	healthy := pendingDomain(0)
	store := &fakeStore{pending: []core.TenantDomain{broken, healthy}}
	dns := &fakeDNS{
		errs:    map[string]error{broken.DomainName: errors.New("dns lookup timeout")},
		results: map[string]Result{healthy.DomainName: {Verified: true}},
	}
	cache := &fakeCache{}

	err := newTestJob(store, dns, cache).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, store.byID[broken.ID].VerificationAttempts)
	assert.Equal(t, core.VerificationPending, store.byID[broken.ID].VerificationStatus)

	assert.Equal(t, core.VerificationVerified, store.byID[healthy.ID].VerificationStatus)
	assert.Equal(t, []string{healthy.DomainName}, cache.invalidated)
}

func TestRun_ListFailureAbortsAndSurfaces(t *testing.T) {
	store := &fakeStore{listErr: errors.New("connection refused")}
	dns := &fakeDNS{}

	err := newTestJob(store, dns, &fakeCache{}).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list pending domains")
	assert.Zero(t, dns.calls)
}

func TestRun_VersionConflictRetriedOnce(t *testing.T) {
	domain := pendingDomain(0)
	store := &fakeStore{
		pending:      []core.TenantDomain{domain},
		conflictOnce: true,
		byID:         map[uuid.UUID]*core.TenantDomain{},
	}
	fresh := domain
	store.byID[domain.ID] = &fresh

	dns := &fakeDNS{results: map[string]Result{domain.DomainName: {Verified: true}}}
	cache := &fakeCache{}

	err := newTestJob(store, dns, cache).Run(context.Background())
	require.NoError(t, err)

	// first write conflicts, re-read row is written again
	assert.Equal(t, 2, store.updateCalls)
	assert.Equal(t, core.VerificationVerified, store.byID[domain.ID].VerificationStatus)
	assert.Equal(t, []string{domain.DomainName}, cache.invalidated)
}

func TestRun_OverlappingRunSkipped(t *testing.T) {
	domain := pendingDomain(0)
	store := &fakeStore{pending: []core.TenantDomain{domain}}
	dns := &fakeDNS{
		results: map[string]Result{domain.DomainName: {Verified: true}},
		block:   make(chan struct{}),
	}
	job := newTestJob(store, dns, &fakeCache{})

	done := make(chan error, 1)
	go func() {
		done <- job.Run(context.Background())
	}()

	// wait for the first run to be mid-flight inside the DNS check
	require.Eventually(t, func() bool {
		dns.mu.Lock()
		defer dns.mu.Unlock()
		return dns.calls == 1
	}, time.Second, 5*time.Millisecond)

	// the overlapping run is dropped without touching the store
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 0, store.updateCalls)

	close(dns.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, store.updateCalls)
}
