package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderNameLocal identifies the process-local inference backend.
const ProviderNameLocal = "local"

const defaultLocalTimeout = 12 * time.Second

// LocalProvider talks to a process-local inference server speaking the
// Ollama chat protocol. The local backend is fast or dead; its timeout is
// deliberately short so fallback happens quickly.
type LocalProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewLocalProvider builds the adapter. timeout <= 0 selects the default.
func NewLocalProvider(baseURL, model string, timeout time.Duration) *LocalProvider {
	if timeout <= 0 {
		timeout = defaultLocalTimeout
	}
	return &LocalProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *LocalProvider) Name() string { return ProviderNameLocal }

type localChatPayload struct {
	Model    string             `json:"model"`
	Messages []ChatMessage      `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  map[string]float64 `json:"options,omitempty"`
}

type localChatResponse struct {
	Message         ChatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

func (p *LocalProvider) buildPayload(req CompletionRequest, stream bool) localChatPayload {
	messages := make([]ChatMessage, 0, len(req.Messages)+len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		messages = append(messages, ChatMessage{Role: ChatRoleSystem, Content: block})
	}
	messages = append(messages, req.Messages...)

	options := map[string]float64{}
	if req.Temperature >= 0 {
		options["temperature"] = float64(req.Temperature)
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = float64(req.MaxTokens)
	}

	return localChatPayload{
		Model:    p.model,
		Messages: messages,
		Stream:   stream,
		Options:  options,
	}
}

func (p *LocalProvider) post(ctx context.Context, payload localChatPayload) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, newProviderError(ProviderNameLocal, KindUnknown, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, newProviderError(ProviderNameLocal, KindUnknown, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(ProviderNameLocal, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyHTTPStatus(ProviderNameLocal, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}

func (p *LocalProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	resp, err := p.post(ctx, p.buildPayload(req, false))
	if err != nil {
		return CompletionResult{}, err
	}
	defer resp.Body.Close()

	var decoded localChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return CompletionResult{}, newProviderError(ProviderNameLocal, KindInvalidResponse, fmt.Sprintf("decode response: %v", err))
	}
	text := strings.TrimSpace(decoded.Message.Content)
	if text == "" {
		return CompletionResult{}, newProviderError(ProviderNameLocal, KindInvalidResponse, "empty completion")
	}

	return CompletionResult{
		Text:     text,
		Provider: ProviderNameLocal,
		Usage: TokenUsage{
			PromptTokens:     decoded.PromptEvalCount,
			CompletionTokens: decoded.EvalCount,
			TotalTokens:      decoded.PromptEvalCount + decoded.EvalCount,
		},
	}, nil
}

// CompleteStream reads the local backend's newline-delimited JSON stream and
// forwards text deltas until the done record arrives.
func (p *LocalProvider) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, p.buildPayload(req, true))
	if err != nil {
		return nil, err
	}

	chunks := make(chan StreamChunk, 32)

	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		var usage TokenUsage
		decoder := json.NewDecoder(resp.Body)
		for {
			select {
			case <-ctx.Done():
				sendTerminal(chunks, StreamChunk{Err: classifyError(ProviderNameLocal, ctx.Err()), Done: true})
				return
			default:
			}

			var record localChatResponse
			if err := decoder.Decode(&record); err != nil {
				if err == io.EOF {
					sendChunk(ctx, chunks, StreamChunk{Done: true, Usage: usage})
					return
				}
				sendChunk(ctx, chunks, StreamChunk{Err: newProviderError(ProviderNameLocal, KindInvalidResponse, err.Error()), Done: true})
				return
			}

			if record.Message.Content != "" {
				if !sendChunk(ctx, chunks, StreamChunk{Text: record.Message.Content}) {
					sendTerminal(chunks, StreamChunk{Err: classifyError(ProviderNameLocal, ctx.Err()), Done: true})
					return
				}
			}
			if record.Done {
				usage = TokenUsage{
					PromptTokens:     record.PromptEvalCount,
					CompletionTokens: record.EvalCount,
					TotalTokens:      record.PromptEvalCount + record.EvalCount,
				}
				sendChunk(ctx, chunks, StreamChunk{Done: true, Usage: usage})
				return
			}
		}
	}()

	return chunks, nil
}
