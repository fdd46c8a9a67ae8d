package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alimlabs/edu-assistant/pkg/logging"
)

// ModeAuto selects providers by priority with health-aware fallback. Any
// other mode value is a forced provider name.
const ModeAuto = "auto"

// ErrUnknownProvider is returned when a forced mode names no configured
// provider.
var ErrUnknownProvider = errors.New("assistant: unknown provider")

// DispatchResult wraps a completion with fallback accounting.
type DispatchResult struct {
	Result       CompletionResult
	FallbackUsed bool
}

// StreamDispatch is an open stream plus the provider that answered.
type StreamDispatch struct {
	Provider     string
	FallbackUsed bool
	Chunks       <-chan StreamChunk
}

// healthChecker is the subset of Prober the orchestrator needs.
type healthChecker interface {
	Check(ctx context.Context, force bool) ProviderHealth
}

// Orchestrator owns provider priority and fallback policy. Adapters and the
// health prober know nothing about ordering; this is the only place where a
// provider is chosen.
type Orchestrator struct {
	remote  Provider // nil when no credentials are configured
	local   Provider
	partner Provider // nil when no credentials are configured
	offline Provider
	prober  healthChecker
	logger  *logging.Logger
	now     func() time.Time
}

// NewOrchestrator wires the four adapters. remote and partner may be nil;
// offline must not be.
func NewOrchestrator(remote, local, partner, offline Provider, prober healthChecker, logger *logging.Logger) *Orchestrator {
	if offline == nil {
		panic("assistant: offline provider cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		remote:  remote,
		local:   local,
		partner: partner,
		offline: offline,
		prober:  prober,
		logger:  logger,
		now:     time.Now,
	}
}

// candidates returns the priority-ordered fallback chain for auto mode.
// Unconfigured providers and an unhealthy local backend are excluded up
// front so each remaining candidate is attempted exactly once.
func (o *Orchestrator) candidates(ctx context.Context) []Provider {
	chain := make([]Provider, 0, 4)
	if o.remote != nil {
		chain = append(chain, o.remote)
	}
	if o.local != nil && o.prober != nil {
		if health := o.prober.Check(ctx, false); health.Available {
			chain = append(chain, o.local)
		} else {
			o.logger.Debug("local backend skipped by health probe",
				"error_kind", string(health.Kind),
				"latency_ms", health.LatencyMs,
			)
		}
	}
	if o.partner != nil {
		chain = append(chain, o.partner)
	}
	chain = append(chain, o.offline)
	return chain
}

func (o *Orchestrator) forced(name string) (Provider, error) {
	for _, p := range []Provider{o.remote, o.local, o.partner, o.offline} {
		if p != nil && p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownProvider, name)
}

// Dispatch runs the completion through the fallback chain. In forced mode a
// failure is returned verbatim; in auto mode each candidate is tried at most
// once and the offline provider terminates the chain.
func (o *Orchestrator) Dispatch(ctx context.Context, req CompletionRequest, mode string) (DispatchResult, error) {
	if mode != "" && mode != ModeAuto {
		provider, err := o.forced(mode)
		if err != nil {
			return DispatchResult{}, err
		}
		result, err := o.attempt(ctx, provider, req)
		// Duration and provider name are preserved on failure so callers can
		// report them.
		return DispatchResult{Result: result}, err
	}

	chain := o.candidates(ctx)
	var lastErr error
	var lastResult CompletionResult
	for i, provider := range chain {
		result, err := o.attempt(ctx, provider, req)
		if err == nil {
			return DispatchResult{Result: result, FallbackUsed: i > 0}, nil
		}
		lastErr = err
		lastResult = result
		o.logger.Warn("provider failed, advancing fallback chain",
			"provider", provider.Name(),
			"error", err.Error(),
			"remaining", len(chain)-i-1,
		)
	}
	// Unreachable in practice: the offline provider never fails.
	return DispatchResult{Result: lastResult}, lastErr
}

func (o *Orchestrator) attempt(ctx context.Context, provider Provider, req CompletionRequest) (CompletionResult, error) {
	started := o.now()
	result, err := provider.Complete(ctx, req)
	duration := o.now().Sub(started).Milliseconds()
	if err != nil {
		pe := classifyError(provider.Name(), err)
		pe.Provider = provider.Name()
		return CompletionResult{Provider: provider.Name(), DurationMs: duration}, pe
	}
	result.Provider = provider.Name()
	result.DurationMs = duration
	return result, nil
}

// DispatchStream opens a streaming completion against the fallback chain.
// Fallback applies only to stream establishment; once a provider starts
// emitting chunks, mid-stream failures surface to the caller.
func (o *Orchestrator) DispatchStream(ctx context.Context, req CompletionRequest, mode string) (StreamDispatch, error) {
	if mode != "" && mode != ModeAuto {
		provider, err := o.forced(mode)
		if err != nil {
			return StreamDispatch{}, err
		}
		chunks, err := provider.CompleteStream(ctx, req)
		if err != nil {
			pe := classifyError(provider.Name(), err)
			pe.Provider = provider.Name()
			return StreamDispatch{}, pe
		}
		return StreamDispatch{Provider: provider.Name(), Chunks: chunks}, nil
	}

	chain := o.candidates(ctx)
	var lastErr error
	for i, provider := range chain {
		chunks, err := provider.CompleteStream(ctx, req)
		if err == nil {
			return StreamDispatch{Provider: provider.Name(), FallbackUsed: i > 0, Chunks: chunks}, nil
		}
		lastErr = classifyError(provider.Name(), err)
		o.logger.Warn("provider stream failed to open, advancing fallback chain",
			"provider", provider.Name(),
			"error", err.Error(),
		)
	}
	return StreamDispatch{}, lastErr
}
