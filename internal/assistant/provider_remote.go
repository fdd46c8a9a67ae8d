package assistant

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ProviderNameRemote identifies the generic OpenAI-compatible hosted
// endpoint.
const ProviderNameRemote = "remote"

const defaultRemoteTimeout = 45 * time.Second

// RemoteProvider adapts any OpenAI-compatible chat endpoint. Base URL, key,
// and model come from configuration, so the same adapter serves OpenAI
// itself or a self-hosted gateway.
type RemoteProvider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewRemoteProvider builds the adapter. baseURL may be empty for the default
// OpenAI endpoint; timeout <= 0 selects the default.
func NewRemoteProvider(apiKey, baseURL, model string, timeout time.Duration) *RemoteProvider {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteProvider{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
	}
}

func (p *RemoteProvider) Name() string { return ProviderNameRemote }

func (p *RemoteProvider) buildRequest(req CompletionRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: block,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	out := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   stream,
	}
	if req.Temperature >= 0 {
		out.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	return out
}

// classifyRemoteError maps go-openai errors onto the shared taxonomy.
func classifyRemoteError(err error) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = "upstream api error"
		}
		return classifyHTTPStatus(ProviderNameRemote, apiErr.HTTPStatusCode, msg)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyHTTPStatus(ProviderNameRemote, reqErr.HTTPStatusCode, reqErr.Error())
	}
	return classifyError(ProviderNameRemote, err)
}

func (p *RemoteProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(callCtx, p.buildRequest(req, false))
	if err != nil {
		return CompletionResult{}, classifyRemoteError(err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResult{}, newProviderError(ProviderNameRemote, KindInvalidResponse, "response contained no choices")
	}

	return CompletionResult{
		Text:     strings.TrimSpace(resp.Choices[0].Message.Content),
		Provider: ProviderNameRemote,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *RemoteProvider) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)

	stream, err := p.client.CreateChatCompletionStream(callCtx, p.buildRequest(req, true))
	if err != nil {
		cancel()
		return nil, classifyRemoteError(err)
	}

	chunks := make(chan StreamChunk, 32)

	go func() {
		defer close(chunks)
		defer cancel()
		defer stream.Close()

		for {
			select {
			case <-ctx.Done():
				sendTerminal(chunks, StreamChunk{Err: classifyError(ProviderNameRemote, ctx.Err()), Done: true})
				return
			default:
			}

			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				sendChunk(ctx, chunks, StreamChunk{Done: true})
				return
			}
			if err != nil {
				sendChunk(ctx, chunks, StreamChunk{Err: classifyRemoteError(err), Done: true})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !sendChunk(ctx, chunks, StreamChunk{Text: delta}) {
				sendTerminal(chunks, StreamChunk{Err: classifyError(ProviderNameRemote, ctx.Err()), Done: true})
				return
			}
		}
	}()

	return chunks, nil
}
