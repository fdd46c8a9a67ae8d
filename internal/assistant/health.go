package assistant

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultProbeTimeout = 2 * time.Second
	defaultHealthTTL    = 5 * time.Second
)

// ProviderHealth is an immutable probe verdict, valid for one TTL window.
type ProviderHealth struct {
	Available bool
	LatencyMs int64
	Kind      ErrorKind
	CheckedAt time.Time
}

// Prober checks reachability of the local inference backend and caches the
// verdict so the hot path never probes per request. Health is always a
// value, never an error.
type Prober struct {
	baseURL string
	ttl     time.Duration
	client  *http.Client
	now     func() time.Time

	mu      sync.Mutex
	cached  ProviderHealth
	haveOne bool

	onCacheHit func()
}

// NewProber builds a prober for the backend at baseURL. ttl <= 0 selects the
// default window. onCacheHit, when non-nil, is invoked for every served
// cached verdict (telemetry hook).
func NewProber(baseURL string, ttl time.Duration, onCacheHit func()) *Prober {
	if ttl <= 0 {
		ttl = defaultHealthTTL
	}
	return &Prober{
		baseURL:    strings.TrimRight(baseURL, "/"),
		ttl:        ttl,
		client:     &http.Client{Timeout: defaultProbeTimeout},
		now:        time.Now,
		onCacheHit: onCacheHit,
	}
}

// Check returns the backend health, serving a cached verdict when it is
// still inside the TTL window. force bypasses the cache.
func (p *Prober) Check(ctx context.Context, force bool) ProviderHealth {
	p.mu.Lock()
	if !force && p.haveOne && p.now().Sub(p.cached.CheckedAt) < p.ttl {
		cached := p.cached
		p.mu.Unlock()
		if p.onCacheHit != nil {
			p.onCacheHit()
		}
		return cached
	}
	p.mu.Unlock()

	health := p.probe(ctx)

	p.mu.Lock()
	p.cached = health
	p.haveOne = true
	p.mu.Unlock()

	return health
}

func (p *Prober) probe(ctx context.Context) ProviderHealth {
	started := p.now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/version", nil)
	if err != nil {
		return ProviderHealth{Kind: KindUnknown, CheckedAt: started}
	}

	resp, err := p.client.Do(req)
	latency := p.now().Sub(started).Milliseconds()
	if err != nil {
		pe := classifyError(ProviderNameLocal, err)
		return ProviderHealth{LatencyMs: latency, Kind: pe.Kind, CheckedAt: started}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 400 {
		return ProviderHealth{LatencyMs: latency, Kind: KindHTTPError, CheckedAt: started}
	}
	return ProviderHealth{Available: true, LatencyMs: latency, CheckedAt: started}
}
