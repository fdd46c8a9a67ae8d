package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/alimlabs/edu-assistant/internal/audit"
	"github.com/alimlabs/edu-assistant/internal/observability/metrics"
	"github.com/alimlabs/edu-assistant/pkg/logging"
)

// Error codes surfaced to callers. Guard interceptions are not errors; they
// produce ok responses with substitute content.
const (
	CodeInputTooLarge   = "INPUT_TOO_LARGE"
	CodeRateLimited     = "RATE_LIMITED"
	CodeProviderFailure = "PROVIDER_FAILURE"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInternalError   = "INTERNAL_ERROR"
)

// ProviderNameGuard marks replies produced by a guard instead of a provider.
const ProviderNameGuard = "guard"

// PipelineError is a terminal pipeline failure with a stable code callers
// can branch on.
type PipelineError struct {
	Code         string
	Message      string
	Provider     string
	RetryAfterMs int64
}

func (e *PipelineError) Error() string { return e.Code + ": " + e.Message }

// ChatRequest is one inbound chat turn after transport decoding.
type ChatRequest struct {
	RequestID   string
	CallerID    string
	CallerRole  string
	SessionID   string
	Message     string
	History     []ChatMessage // optional inline history; store is used when empty
	Preferences Preferences
	Mode        string // provider mode: ModeAuto or a forced provider name
}

// ChatReply is the answered turn.
type ChatReply struct {
	Reply         string     `json:"reply"`
	Provider      string     `json:"provider"`
	FallbackUsed  bool       `json:"fallbackUsed"`
	SessionID     string     `json:"sessionId"`
	Usage         TokenUsage `json:"usage"`
	Cached        bool       `json:"cached"`
	LanguageError bool       `json:"languageError"`
}

// StreamEvent is one element of a streaming reply delivered to the emit
// callback.
type StreamEvent struct {
	Delta           string
	Done            bool
	Provider        string
	SessionID       string
	TokensEstimate  int
	LanguageError   bool
	ReplacedContent string
	Err             *PipelineError
}

// ServiceConfig carries the pipeline's tunables.
type ServiceConfig struct {
	MaxInputChars   int
	TokenBudget     int
	MaxOutputTokens int
	Temperature     float32
	DefaultMode     string
}

// Service executes the request pipeline in strict stage order: input size,
// rate limit, identity guard, language resolution and sanitization, prompt
// assembly, token budget, dispatch, output inspection, telemetry/audit.
type Service struct {
	cfg       ServiceConfig
	limiter   *RateLimiter
	sessions  *SessionLanguages
	history   *HistoryStore
	prompts   *PromptBuilder
	orch      *Orchestrator
	telemetry *Telemetry
	metrics   *metrics.AssistantMetrics
	audit     *audit.Store
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewService(
	cfg ServiceConfig,
	limiter *RateLimiter,
	sessions *SessionLanguages,
	history *HistoryStore,
	prompts *PromptBuilder,
	orch *Orchestrator,
	telemetry *Telemetry,
	m *metrics.AssistantMetrics,
	auditStore *audit.Store,
	logger *logging.Logger,
) *Service {
	if orch == nil {
		panic("assistant: orchestrator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if telemetry == nil {
		telemetry = NewTelemetry()
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 4000
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 6000
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1024
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = ModeAuto
	}
	return &Service{
		cfg:       cfg,
		limiter:   limiter,
		sessions:  sessions,
		history:   history,
		prompts:   prompts,
		orch:      orch,
		telemetry: telemetry,
		metrics:   m,
		audit:     auditStore,
		logger:    logger,
		tracer:    otel.Tracer("eduassistant.internal.assistant.service"),
		now:       time.Now,
	}
}

// Totals exposes the telemetry counters for the status endpoint.
func (s *Service) Totals() Totals { return s.telemetry.Totals() }

// preparedTurn is the output of the guard stages, shared between the
// blocking and streaming paths.
type preparedTurn struct {
	sessionID string
	language  string
	request   CompletionRequest
	history   []ChatMessage
	// set when a guard resolved the turn locally; no provider is contacted
	guardReply    string
	languageError bool
}

// prepare runs the pipeline stages that precede dispatch. It returns either
// a prepared completion request, a locally-resolved guard reply, or a
// terminal PipelineError.
func (s *Service) prepare(ctx context.Context, req *ChatRequest) (*preparedTurn, *PipelineError) {
	s.telemetry.RecordRequest()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Mode == "" {
		req.Mode = s.cfg.DefaultMode
	}

	// Size limit first: resource exhaustion protection precedes everything.
	if size := CheckInputSize(req.Message, s.cfg.MaxInputChars); !size.Valid {
		return nil, &PipelineError{
			Code:    CodeInputTooLarge,
			Message: "message exceeds the input size limit",
		}
	}

	if s.limiter != nil {
		if allowed, retryAfter := s.limiter.Allow(req.CallerID); !allowed {
			s.recordAudit(req, audit.ActionRateLimited, map[string]any{"retry_after_ms": retryAfter.Milliseconds()})
			return nil, &PipelineError{
				Code:         CodeRateLimited,
				Message:      "too many requests",
				RetryAfterMs: retryAfter.Milliseconds(),
			}
		}
	}

	turn := &preparedTurn{sessionID: req.SessionID}
	if turn.sessionID == "" {
		turn.sessionID = uuid.NewString()
	}

	// Identity guard: intercepted turns never reach a provider. Messages that
	// tripped signals below the threshold continue with boundary markers
	// stripped.
	if identity := CheckIdentity(req.Message); identity.Intercepted {
		s.metrics.ObserveGuardBlock("identity")
		s.recordAudit(req, audit.ActionIdentityBlocked, map[string]any{"reasons": identity.Reasons, "score": identity.Score})
		turn.guardReply = identity.Reply
		return turn, nil
	} else if len(identity.Reasons) > 0 {
		req.Message = StripBoundaryMarkers(req.Message)
	}

	// Session language lock.
	explicit := req.Preferences.explicitLanguage()
	if s.sessions != nil {
		turn.language = s.sessions.Resolve(ctx, turn.sessionID, req.Message, explicit)
	} else if explicit != "" {
		turn.language = explicit
	} else {
		turn.language = DetectLanguage(req.Message).Language
	}

	// The current turn itself must pass the script check before dispatch.
	if ContainsDisallowedScript(req.Message) {
		s.metrics.ObserveGuardBlock("language_input")
		s.recordAudit(req, audit.ActionLanguageViolation, map[string]any{"stage": "input"})
		turn.guardReply = LanguageFallbackMessage(turn.language)
		turn.languageError = true
		return turn, nil
	}

	history := req.History
	if len(history) == 0 && s.history != nil {
		stored, err := s.history.Load(ctx, turn.sessionID)
		if err != nil {
			s.logger.Error("history load failed, continuing without context", "error", err, "session_id", turn.sessionID)
		} else {
			history = stored
		}
	}

	kept, removed, sanitizeLog := SanitizeHistory(history)
	if removed > 0 {
		s.metrics.ObserveGuardBlock("language_history")
		for _, line := range sanitizeLog {
			s.logger.Debug("history sanitized", "detail", line, "session_id", turn.sessionID)
		}
		s.recordAudit(req, audit.ActionHistorySanitized, map[string]any{"removed": removed})
	}

	strict := req.Preferences.StrictNoThirdScript
	system := s.buildPrompt(ctx, turn.language, strict, req.Preferences, req.Message)

	// Budget: system + retained history + current turn + reserved output
	// must fit the ceiling. Only history is truncated.
	systemCost := 0
	for _, block := range system {
		systemCost += EstimateTokens(block)
	}
	historyBudget := s.cfg.TokenBudget - systemCost - EstimateTokens(req.Message) - s.cfg.MaxOutputTokens
	bounded := TruncateToBudget(kept, historyBudget)

	messages := make([]ChatMessage, 0, len(bounded)+1)
	messages = append(messages, bounded...)
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: req.Message})

	turn.history = bounded
	turn.request = CompletionRequest{
		System:      system,
		Messages:    messages,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxOutputTokens,
	}
	return turn, nil
}

func (s *Service) buildPrompt(ctx context.Context, language string, strict bool, prefs Preferences, query string) []string {
	if s.prompts != nil {
		return s.prompts.Build(ctx, language, strict, prefs, query)
	}
	return []string{basePersona, GuardInstruction(language, strict)}
}

// Respond executes one non-streaming chat turn.
func (s *Service) Respond(ctx context.Context, req ChatRequest) (reply *ChatReply, perr *PipelineError) {
	started := s.now()
	ctx, span := s.tracer.Start(ctx, "assistant.respond")
	defer span.End()
	span.SetAttributes(
		attribute.String("assistant.session_id", req.SessionID),
		attribute.String("assistant.mode", req.Mode),
	)

	// Unexpected panics become a generic internal error; nothing about the
	// failure leaks into the response.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pipeline panic recovered", "panic", r, "request_id", req.RequestID)
			s.telemetry.RecordError()
			reply = nil
			perr = &PipelineError{Code: CodeInternalError, Message: "internal error"}
		}
	}()

	turn, perr := s.prepare(ctx, &req)
	if perr != nil {
		s.telemetry.RecordError()
		s.metrics.ObserveRequest(perr.Code, "", s.now().Sub(started).Seconds())
		return nil, perr
	}

	if turn.guardReply != "" {
		s.metrics.ObserveRequest("guard", ProviderNameGuard, s.now().Sub(started).Seconds())
		return &ChatReply{
			Reply:         turn.guardReply,
			Provider:      ProviderNameGuard,
			SessionID:     turn.sessionID,
			LanguageError: turn.languageError,
		}, nil
	}

	dispatch, err := s.orch.Dispatch(ctx, turn.request, req.Mode)
	if err != nil {
		s.telemetry.RecordError()
		if errors.Is(err, ErrUnknownProvider) {
			s.metrics.ObserveRequest("invalid_request", "", s.now().Sub(started).Seconds())
			return nil, &PipelineError{Code: CodeInvalidRequest, Message: err.Error()}
		}
		s.metrics.ObserveRequest("provider_failure", dispatch.Result.Provider, s.now().Sub(started).Seconds())
		pe := classifyError(dispatch.Result.Provider, err)
		return nil, &PipelineError{
			Code:     CodeProviderFailure,
			Message:  string(pe.Kind),
			Provider: pe.Provider,
		}
	}

	result := dispatch.Result
	if dispatch.FallbackUsed {
		s.metrics.ObserveFallback()
		s.recordAudit(&req, audit.ActionProviderFallback, map[string]any{"provider": result.Provider})
	}

	reply = &ChatReply{
		Reply:        result.Text,
		Provider:     result.Provider,
		FallbackUsed: dispatch.FallbackUsed,
		SessionID:    turn.sessionID,
		Usage:        result.Usage,
		Cached:       result.Cached,
	}

	// Output inspection: a policy violation replaces content but the turn
	// still succeeds from the caller's point of view.
	if ContainsDisallowedScript(result.Text) {
		s.metrics.ObserveGuardBlock("language_output")
		s.recordAudit(&req, audit.ActionLanguageViolation, map[string]any{"stage": "output", "provider": result.Provider})
		reply.Reply = LanguageFallbackMessage(turn.language)
		reply.LanguageError = true
	}

	s.persistTurn(ctx, turn, req.Message, reply.Reply)
	s.recordAudit(&req, audit.ActionChatCompleted, map[string]any{
		"provider":       result.Provider,
		"fallback_used":  dispatch.FallbackUsed,
		"language":       turn.language,
		"language_error": reply.LanguageError,
		"duration_ms":    result.DurationMs,
	})
	s.metrics.ObserveRequest("ok", result.Provider, s.now().Sub(started).Seconds())
	return reply, nil
}

// RespondStream executes one streaming chat turn, delivering events through
// emit. The function returns once the terminal event has been emitted or a
// pre-dispatch failure occurred.
func (s *Service) RespondStream(ctx context.Context, req ChatRequest, emit func(StreamEvent)) {
	started := s.now()
	ctx, span := s.tracer.Start(ctx, "assistant.respond_stream")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("stream pipeline panic recovered", "panic", r, "request_id", req.RequestID)
			s.telemetry.RecordError()
			emit(StreamEvent{Done: true, Err: &PipelineError{Code: CodeInternalError, Message: "internal error"}})
		}
	}()

	turn, perr := s.prepare(ctx, &req)
	if perr != nil {
		s.telemetry.RecordError()
		s.metrics.ObserveRequest(perr.Code, "", s.now().Sub(started).Seconds())
		emit(StreamEvent{Done: true, Err: perr})
		return
	}

	if turn.guardReply != "" {
		s.metrics.ObserveRequest("guard", ProviderNameGuard, s.now().Sub(started).Seconds())
		emit(StreamEvent{Delta: turn.guardReply, Provider: ProviderNameGuard, SessionID: turn.sessionID, LanguageError: turn.languageError})
		terminal := StreamEvent{
			Done:           true,
			Provider:       ProviderNameGuard,
			SessionID:      turn.sessionID,
			TokensEstimate: EstimateTokens(turn.guardReply),
			LanguageError:  turn.languageError,
		}
		if turn.languageError {
			terminal.ReplacedContent = turn.guardReply
		}
		emit(terminal)
		return
	}

	// The dispatch gets its own cancellable context so that leaving this
	// function early tears the producer goroutine down instead of leaving it
	// blocked on an unread channel.
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	dispatch, err := s.orch.DispatchStream(streamCtx, turn.request, req.Mode)
	if err != nil {
		s.telemetry.RecordError()
		if errors.Is(err, ErrUnknownProvider) {
			s.metrics.ObserveRequest("invalid_request", "", s.now().Sub(started).Seconds())
			emit(StreamEvent{Done: true, Err: &PipelineError{Code: CodeInvalidRequest, Message: err.Error()}})
			return
		}
		pe := classifyError("", err)
		s.metrics.ObserveRequest("provider_failure", pe.Provider, s.now().Sub(started).Seconds())
		emit(StreamEvent{Done: true, Err: &PipelineError{
			Code:     CodeProviderFailure,
			Message:  string(pe.Kind),
			Provider: pe.Provider,
		}})
		return
	}

	var assembled []byte
	for chunk := range dispatch.Chunks {
		if chunk.Err != nil {
			s.telemetry.RecordError()
			pe := classifyError(dispatch.Provider, chunk.Err)
			s.metrics.ObserveRequest("stream_error", dispatch.Provider, s.now().Sub(started).Seconds())
			emit(StreamEvent{Done: true, Provider: dispatch.Provider, SessionID: turn.sessionID, Err: &PipelineError{
				Code:     CodeProviderFailure,
				Message:  string(pe.Kind),
				Provider: dispatch.Provider,
			}})
			return
		}

		if chunk.Text != "" {
			// Per-chunk inspection: the first forbidden rune aborts the
			// stream; nothing after the violation is emitted.
			if ContainsDisallowedScript(chunk.Text) {
				s.abortStreamForLanguage(ctx, &req, turn, dispatch.Provider, emit, started)
				return
			}
			assembled = append(assembled, chunk.Text...)
			emit(StreamEvent{Delta: chunk.Text, Provider: dispatch.Provider, SessionID: turn.sessionID})
		}

		if chunk.Done {
			full := string(assembled)
			// Final re-check guards against multi-byte sequences split
			// across chunk boundaries.
			if ContainsDisallowedScript(full) {
				s.abortStreamForLanguage(ctx, &req, turn, dispatch.Provider, emit, started)
				return
			}

			s.persistTurn(ctx, turn, req.Message, full)
			if dispatch.FallbackUsed {
				s.metrics.ObserveFallback()
				s.recordAudit(&req, audit.ActionProviderFallback, map[string]any{"provider": dispatch.Provider})
			}
			s.recordAudit(&req, audit.ActionChatCompleted, map[string]any{
				"provider":      dispatch.Provider,
				"fallback_used": dispatch.FallbackUsed,
				"language":      turn.language,
				"streamed":      true,
			})
			s.metrics.ObserveRequest("ok", dispatch.Provider, s.now().Sub(started).Seconds())
			emit(StreamEvent{
				Done:           true,
				Provider:       dispatch.Provider,
				SessionID:      turn.sessionID,
				TokensEstimate: EstimateTokens(full),
			})
			return
		}
	}

	// The channel closed without a terminal chunk. Treat the adapter as
	// misbehaving rather than ending the stream silently.
	s.telemetry.RecordError()
	s.metrics.ObserveRequest("stream_error", dispatch.Provider, s.now().Sub(started).Seconds())
	emit(StreamEvent{Done: true, Provider: dispatch.Provider, SessionID: turn.sessionID, Err: &PipelineError{
		Code:     CodeProviderFailure,
		Message:  string(KindInvalidResponse),
		Provider: dispatch.Provider,
	}})
}

// abortStreamForLanguage emits the single fallback message and the terminal
// language-error event, then records the violation.
func (s *Service) abortStreamForLanguage(ctx context.Context, req *ChatRequest, turn *preparedTurn, provider string, emit func(StreamEvent), started time.Time) {
	fallback := LanguageFallbackMessage(turn.language)
	s.metrics.ObserveGuardBlock("language_stream")
	s.recordAudit(req, audit.ActionLanguageViolation, map[string]any{"stage": "stream", "provider": provider})
	s.metrics.ObserveRequest("language_error", provider, s.now().Sub(started).Seconds())
	s.persistTurn(ctx, turn, req.Message, fallback)

	emit(StreamEvent{Delta: fallback, Provider: provider, SessionID: turn.sessionID, LanguageError: true})
	emit(StreamEvent{
		Done:            true,
		Provider:        provider,
		SessionID:       turn.sessionID,
		LanguageError:   true,
		ReplacedContent: fallback,
	})
}

// persistTurn appends the answered turn to the stored transcript.
func (s *Service) persistTurn(ctx context.Context, turn *preparedTurn, userMessage, reply string) {
	if s.history == nil {
		return
	}
	updated := make([]ChatMessage, 0, len(turn.history)+2)
	updated = append(updated, turn.history...)
	updated = append(updated,
		ChatMessage{Role: ChatRoleUser, Content: userMessage},
		ChatMessage{Role: ChatRoleAssistant, Content: reply},
	)
	if err := s.history.Save(ctx, turn.sessionID, updated); err != nil {
		s.logger.Error("history save failed", "error", err, "session_id", turn.sessionID)
	}
}

func (s *Service) recordAudit(req *ChatRequest, action audit.Action, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	callerID := req.CallerID
	if callerID == "" {
		callerID = AnonymousCaller
	}
	s.audit.Record(req.RequestID, callerID, action, metadata)
}
