// Package assistant implements the conversational request pipeline: policy
// checks, identity and language guards, token budgeting, provider
// orchestration with fallback, and output inspection.
package assistant

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is a single turn in a conversation. Slice order is turn order;
// the budget manager relies on it when dropping old turns.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage reports token accounting from a provider, when available.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// CompletionRequest is the normalized request handed to a provider adapter.
// It must not be mutated after dispatch.
type CompletionRequest struct {
	System      []string
	Messages    []ChatMessage
	Temperature float32
	MaxTokens   int
}

// CompletionResult is a successful provider completion. DurationMs is filled
// by the orchestrator for both successes and failures.
type CompletionResult struct {
	Text       string
	Usage      TokenUsage
	Provider   string
	Cached     bool
	DurationMs int64
}

// StreamChunk is one element of a streaming completion. A terminal chunk has
// Done set; a failed stream carries Err on its terminal chunk.
type StreamChunk struct {
	Text  string
	Usage TokenUsage
	Err   error
	Done  bool
}

// sendChunk delivers chunk, waiting for the consumer unless ctx is cancelled
// first. It reports whether the chunk was accepted.
func sendChunk(ctx context.Context, chunks chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendTerminal makes a best-effort delivery of a terminal chunk after
// cancellation. The consumer may already be gone, so the producer must not
// block on its way out.
func sendTerminal(chunks chan<- StreamChunk, chunk StreamChunk) {
	select {
	case chunks <- chunk:
	default:
	}
}

// Provider is an interchangeable completion backend. Implementations are
// stateless and safe for concurrent use.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
	// CompleteStream returns a channel of chunks. The implementation must
	// close the channel after the terminal chunk and must stop promptly when
	// ctx is cancelled.
	CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// KnowledgeRetriever returns ranked text snippets for enriching the system
// prompt. It is an external collaborator and treated as a black box.
type KnowledgeRetriever interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}
