package assistant

import "sync/atomic"

// Telemetry holds process-lifetime request counters. Counters reset on
// restart; durability is out of scope.
type Telemetry struct {
	requests  atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64
}

// Totals is a point-in-time snapshot of the counters.
type Totals struct {
	Requests  int64 `json:"requests"`
	Errors    int64 `json:"errors"`
	CacheHits int64 `json:"cacheHits"`
}

func NewTelemetry() *Telemetry { return &Telemetry{} }

func (t *Telemetry) RecordRequest() { t.requests.Add(1) }
func (t *Telemetry) RecordError() { t.errors.Add(1) }
func (t *Telemetry) RecordCacheHit() { t.cacheHits.Add(1) }

func (t *Telemetry) Totals() Totals {
	return Totals{
		Requests:  t.requests.Load(),
		Errors:    t.errors.Load(),
		CacheHits: t.cacheHits.Load(),
	}
}
