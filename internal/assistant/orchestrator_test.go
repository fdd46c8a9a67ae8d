package assistant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimlabs/edu-assistant/pkg/logging"
)

// fakeProvider is a scriptable Provider for dispatch tests.
type fakeProvider struct {
	name      string
	text      string
	err       error
	streamErr error
	calls     int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, _ CompletionRequest) (CompletionResult, error) {
	f.calls++
	if f.err != nil {
		return CompletionResult{}, f.err
	}
	return CompletionResult{Text: f.text}, nil
}

func (f *fakeProvider) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	f.calls++
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	chunks := make(chan StreamChunk, 2)
	chunks <- StreamChunk{Text: f.text}
	chunks <- StreamChunk{Done: true}
	close(chunks)
	return chunks, nil
}

// fakeHealth is a fixed health verdict.
type fakeHealth struct {
	available bool
	checks    int
}

func (f *fakeHealth) Check(_ context.Context, _ bool) ProviderHealth {
	f.checks++
	return ProviderHealth{Available: f.available}
}

func newTestOrchestrator(remote, local, partner Provider, healthy bool) (*Orchestrator, *fakeProvider, *fakeHealth) {
	offline := &fakeProvider{name: ProviderNameOffline, text: "offline reply"}
	health := &fakeHealth{available: healthy}
	orch := NewOrchestrator(remote, local, partner, offline, health, logging.New("error"))
	return orch, offline, health
}

func TestDispatchPrefersRemote(t *testing.T) {
	remote := &fakeProvider{name: "remote", text: "remote reply"}
	local := &fakeProvider{name: "local", text: "local reply"}
	orch, _, _ := newTestOrchestrator(remote, local, nil, true)

	result, err := orch.Dispatch(context.Background(), CompletionRequest{}, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, "remote reply", result.Result.Text)
	assert.Equal(t, "remote", result.Result.Provider)
	assert.False(t, result.FallbackUsed)
	assert.Equal(t, 0, local.calls)
}

func TestDispatchFallsBackInPriorityOrder(t *testing.T) {
	remote := &fakeProvider{name: "remote", err: newProviderError("remote", KindTimeout, "deadline")}
	local := &fakeProvider{name: "local", err: newProviderError("local", KindConnectionRefused, "refused")}
	partner := &fakeProvider{name: "partner", text: "partner reply"}
	orch, offline, _ := newTestOrchestrator(remote, local, partner, true)

	result, err := orch.Dispatch(context.Background(), CompletionRequest{}, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, "partner reply", result.Result.Text)
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 0, offline.calls)
}

func TestDispatchSkipsUnhealthyLocal(t *testing.T) {
	remote := &fakeProvider{name: "remote", err: newProviderError("remote", KindTimeout, "deadline")}
	local := &fakeProvider{name: "local", text: "local reply"}
	orch, offline, health := newTestOrchestrator(remote, local, nil, false)

	result, err := orch.Dispatch(context.Background(), CompletionRequest{}, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, "offline reply", result.Result.Text)
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, 0, local.calls, "unhealthy local backend must never be attempted")
	assert.Equal(t, 1, offline.calls)
	assert.Equal(t, 1, health.checks)
}

func TestDispatchReachesOfflineTerminal(t *testing.T) {
	remote := &fakeProvider{name: "remote", err: newProviderError("remote", KindAuthRequired, "401")}
	partner := &fakeProvider{name: "partner", err: newProviderError("partner", KindHTTPError, "500")}
	orch, offline, _ := newTestOrchestrator(remote, nil, partner, true)

	result, err := orch.Dispatch(context.Background(), CompletionRequest{}, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, "offline reply", result.Result.Text)
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, 1, offline.calls)
}

func TestDispatchForcedModeNoFallback(t *testing.T) {
	remote := &fakeProvider{name: "remote", err: newProviderError("remote", KindTimeout, "deadline")}
	local := &fakeProvider{name: "local", text: "local reply"}
	orch, offline, _ := newTestOrchestrator(remote, local, nil, true)

	_, err := orch.Dispatch(context.Background(), CompletionRequest{}, "remote")
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindTimeout, pe.Kind)
	assert.Equal(t, "remote", pe.Provider)
	assert.Equal(t, 0, local.calls)
	assert.Equal(t, 0, offline.calls)
}

func TestDispatchForcedUnknownProvider(t *testing.T) {
	orch, _, _ := newTestOrchestrator(nil, nil, nil, true)
	_, err := orch.Dispatch(context.Background(), CompletionRequest{}, "nonexistent")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestDispatchAttemptsEachCandidateOnce(t *testing.T) {
	remote := &fakeProvider{name: "remote", err: newProviderError("remote", KindTimeout, "deadline")}
	local := &fakeProvider{name: "local", err: newProviderError("local", KindTimeout, "deadline")}
	partner := &fakeProvider{name: "partner", err: newProviderError("partner", KindTimeout, "deadline")}
	orch, offline, _ := newTestOrchestrator(remote, local, partner, true)

	_, err := orch.Dispatch(context.Background(), CompletionRequest{}, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, 1, local.calls)
	assert.Equal(t, 1, partner.calls)
	assert.Equal(t, 1, offline.calls)
}

func TestDispatchStreamFallsBackOnOpenFailure(t *testing.T) {
	remote := &fakeProvider{name: "remote", streamErr: newProviderError("remote", KindConnectionRefused, "refused")}
	local := &fakeProvider{name: "local", text: "streamed local"}
	orch, _, _ := newTestOrchestrator(remote, local, nil, true)

	dispatch, err := orch.DispatchStream(context.Background(), CompletionRequest{}, ModeAuto)
	require.NoError(t, err)
	assert.Equal(t, "local", dispatch.Provider)
	assert.True(t, dispatch.FallbackUsed)

	var text string
	for chunk := range dispatch.Chunks {
		text += chunk.Text
	}
	assert.Equal(t, "streamed local", text)
}

func TestDispatchStreamForcedMode(t *testing.T) {
	local := &fakeProvider{name: "local", text: "streamed local"}
	orch, offline, _ := newTestOrchestrator(nil, local, nil, true)

	dispatch, err := orch.DispatchStream(context.Background(), CompletionRequest{}, "local")
	require.NoError(t, err)
	assert.Equal(t, "local", dispatch.Provider)
	assert.False(t, dispatch.FallbackUsed)
	assert.Equal(t, 0, offline.calls)
}
