package assistant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProberReportsAvailableBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/version", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewProber(server.URL, time.Second, nil)
	health := p.Check(context.Background(), false)
	assert.True(t, health.Available)
	assert.GreaterOrEqual(t, health.LatencyMs, int64(0))
}

func TestProberReportsUnreachableBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	server.Close() // refuse all connections

	p := NewProber(server.URL, time.Second, nil)
	health := p.Check(context.Background(), false)
	assert.False(t, health.Available)
	assert.Equal(t, KindConnectionRefused, health.Kind)
}

func TestProberReportsHTTPErrorBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := NewProber(server.URL, time.Second, nil)
	health := p.Check(context.Background(), false)
	assert.False(t, health.Available)
	assert.Equal(t, KindHTTPError, health.Kind)
}

func TestProberServesCachedVerdictInsideTTL(t *testing.T) {
	var probes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	var cacheHits atomic.Int32
	p := NewProber(server.URL, time.Hour, func() { cacheHits.Add(1) })

	first := p.Check(context.Background(), false)
	second := p.Check(context.Background(), false)

	require.True(t, first.Available)
	assert.Equal(t, first.CheckedAt, second.CheckedAt, "second verdict must come from cache")
	assert.Equal(t, int32(1), probes.Load())
	assert.Equal(t, int32(1), cacheHits.Load())
}

func TestProberForceBypassesCache(t *testing.T) {
	var probes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewProber(server.URL, time.Hour, nil)
	p.Check(context.Background(), false)
	p.Check(context.Background(), true)
	assert.Equal(t, int32(2), probes.Load())
}

func TestProberExpiredTTLTriggersReprobe(t *testing.T) {
	var probes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewProber(server.URL, 50*time.Millisecond, nil)
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return current }

	p.Check(context.Background(), false)
	current = current.Add(time.Minute)
	p.Check(context.Background(), false)
	assert.Equal(t, int32(2), probes.Load())
}
