package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ProviderNamePartner identifies the hosted partner generation API.
const ProviderNamePartner = "partner"

const defaultPartnerTimeout = 45 * time.Second

// PartnerProvider adapts the hosted partner API (Gemini) to the shared
// provider contract.
type PartnerProvider struct {
	client  *genai.Client
	modelID string
	timeout time.Duration
}

// NewPartnerProvider builds the adapter. modelID may be empty for the
// default model; timeout <= 0 selects the default.
func NewPartnerProvider(ctx context.Context, apiKey, modelID string, timeout time.Duration) (*PartnerProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("assistant: partner api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = defaultPartnerTimeout
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("assistant: failed to create partner client: %w", err)
	}

	return &PartnerProvider{client: client, modelID: modelID, timeout: timeout}, nil
}

func (p *PartnerProvider) Name() string { return ProviderNamePartner }

// prepare configures a chat session: system blocks become the system
// instruction, all but the last message become history, and the last message
// is returned for sending.
func (p *PartnerProvider) prepare(req CompletionRequest) (*genai.ChatSession, string, error) {
	if len(req.Messages) == 0 {
		return nil, "", newProviderError(ProviderNamePartner, KindInvalidResponse, "at least one message is required")
	}

	model := p.client.GenerativeModel(p.modelID)
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	systemText := strings.TrimSpace(strings.Join(req.System, "\n\n"))
	if systemText != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
	}

	cs := model.StartChat()
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		content := strings.TrimSpace(msg.Content)
		if content == "" || msg.Role == ChatRoleSystem {
			continue
		}
		role := "user"
		if msg.Role == ChatRoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(content)},
		})
	}

	return cs, req.Messages[len(req.Messages)-1].Content, nil
}

func classifyPartnerError(err error) *ProviderError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return classifyHTTPStatus(ProviderNamePartner, apiErr.Code, apiErr.Message)
	}
	return classifyError(ProviderNamePartner, err)
}

func (p *PartnerProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	cs, last, err := p.prepare(req)
	if err != nil {
		return CompletionResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := cs.SendMessage(callCtx, genai.Text(last))
	if err != nil {
		return CompletionResult{}, classifyPartnerError(err)
	}

	text, err := partnerExtractText(resp)
	if err != nil {
		return CompletionResult{}, err
	}

	result := CompletionResult{Text: strings.TrimSpace(text), Provider: ProviderNamePartner}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return result, nil
}

func (p *PartnerProvider) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	cs, last, err := p.prepare(req)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	iter := cs.SendMessageStream(callCtx, genai.Text(last))

	chunks := make(chan StreamChunk, 32)

	go func() {
		defer close(chunks)
		defer cancel()

		var usage TokenUsage
		for {
			select {
			case <-ctx.Done():
				sendTerminal(chunks, StreamChunk{Err: classifyError(ProviderNamePartner, ctx.Err()), Done: true})
				return
			default:
			}

			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				sendChunk(ctx, chunks, StreamChunk{Done: true, Usage: usage})
				return
			}
			if err != nil {
				sendChunk(ctx, chunks, StreamChunk{Err: classifyPartnerError(err), Done: true})
				return
			}
			if resp.UsageMetadata != nil {
				usage = TokenUsage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}
			}

			text, err := partnerExtractText(resp)
			if err != nil {
				continue
			}
			if !sendChunk(ctx, chunks, StreamChunk{Text: text}) {
				sendTerminal(chunks, StreamChunk{Err: classifyError(ProviderNamePartner, ctx.Err()), Done: true})
				return
			}
		}
	}()

	return chunks, nil
}

func partnerExtractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", newProviderError(ProviderNamePartner, KindInvalidResponse, "response contained no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", newProviderError(ProviderNamePartner, KindInvalidResponse, "response content was empty")
	}

	var builder strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			builder.WriteString(string(text))
		}
	}
	text := builder.String()
	if strings.TrimSpace(text) == "" {
		return "", newProviderError(ProviderNamePartner, KindInvalidResponse, "response contained no text parts")
	}
	return text, nil
}

// Close releases the underlying partner client.
func (p *PartnerProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
