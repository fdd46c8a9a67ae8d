// Package handlers contains the HTTP surface of the assistant pipeline.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alimlabs/edu-assistant/internal/assistant"
	"github.com/alimlabs/edu-assistant/internal/http/middleware"
	"github.com/alimlabs/edu-assistant/pkg/logging"
)

// chatRequestBody is the inbound JSON shape for POST /api/assistant/chat.
type chatRequestBody struct {
	Message     string                  `json:"message"`
	SessionID   string                  `json:"sessionId,omitempty"`
	History     []assistant.ChatMessage `json:"history,omitempty"`
	Preferences assistant.Preferences   `json:"preferences,omitempty"`
	Stream      bool                    `json:"stream,omitempty"`
	Mode        string                  `json:"mode,omitempty"`
}

type chatSuccessEnvelope struct {
	OK   bool                 `json:"ok"`
	Data *assistant.ChatReply `json:"data"`
}

type chatErrorEnvelope struct {
	OK           bool   `json:"ok"`
	ErrorCode    string `json:"errorCode"`
	Error        string `json:"error"`
	Provider     string `json:"provider,omitempty"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// streamDeltaEvent is the payload of an SSE "delta" event.
type streamDeltaEvent struct {
	Delta         string `json:"delta"`
	Provider      string `json:"provider,omitempty"`
	LanguageError bool   `json:"languageError,omitempty"`
}

// streamDoneEvent is the payload of the terminal SSE "done" event.
type streamDoneEvent struct {
	Done            bool   `json:"done"`
	Provider        string `json:"provider,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
	TokensEstimate  int    `json:"tokensEstimate,omitempty"`
	LanguageError   bool   `json:"languageError,omitempty"`
	ReplacedContent string `json:"replacedContent,omitempty"`
}

// ChatHandler serves the conversational endpoint in both blocking and
// streaming form.
type ChatHandler struct {
	service *assistant.Service
	logger  *logging.Logger
}

func NewChatHandler(service *assistant.Service, logger *logging.Logger) *ChatHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{service: service, logger: logger}
}

// Handle processes POST /api/assistant/chat.
func (h *ChatHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, &assistant.PipelineError{
			Code:    assistant.CodeInvalidRequest,
			Message: "request body is not valid JSON",
		})
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, &assistant.PipelineError{
			Code:    assistant.CodeInvalidRequest,
			Message: "message is required",
		})
		return
	}

	req := assistant.ChatRequest{
		RequestID:   middleware.RequestIDFromContext(r.Context()),
		CallerID:    middleware.CallerID(r.Context()),
		CallerRole:  middleware.CallerRole(r.Context()),
		SessionID:   body.SessionID,
		Message:     body.Message,
		History:     body.History,
		Preferences: body.Preferences,
		Mode:        body.Mode,
	}

	if body.Stream {
		h.stream(w, r, req)
		return
	}

	reply, perr := h.service.Respond(r.Context(), req)
	if perr != nil {
		writeError(w, statusForCode(perr.Code), perr)
		return
	}
	writeJSON(w, http.StatusOK, chatSuccessEnvelope{OK: true, Data: reply})
}

// stream answers via server-sent events: zero or more "delta" events, one
// terminal "done" or "error" event, then the [DONE] sentinel.
func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, req assistant.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, &assistant.PipelineError{
			Code:    assistant.CodeInternalError,
			Message: "streaming unsupported by connection",
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("stream event marshal failed", "event", event, "error", err)
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	h.service.RespondStream(r.Context(), req, func(ev assistant.StreamEvent) {
		switch {
		case ev.Err != nil:
			writeEvent("error", chatErrorEnvelope{
				ErrorCode:    ev.Err.Code,
				Error:        ev.Err.Message,
				Provider:     ev.Err.Provider,
				RetryAfterMs: ev.Err.RetryAfterMs,
			})
		case ev.Done:
			writeEvent("done", streamDoneEvent{
				Done:            true,
				Provider:        ev.Provider,
				SessionID:       ev.SessionID,
				TokensEstimate:  ev.TokensEstimate,
				LanguageError:   ev.LanguageError,
				ReplacedContent: ev.ReplacedContent,
			})
		default:
			writeEvent("delta", streamDeltaEvent{
				Delta:         ev.Delta,
				Provider:      ev.Provider,
				LanguageError: ev.LanguageError,
			})
		}
	})

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func statusForCode(code string) int {
	switch code {
	case assistant.CodeInputTooLarge:
		return http.StatusRequestEntityTooLarge
	case assistant.CodeRateLimited:
		return http.StatusTooManyRequests
	case assistant.CodeInvalidRequest:
		return http.StatusBadRequest
	case assistant.CodeProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, perr *assistant.PipelineError) {
	if perr.Code == assistant.CodeRateLimited && perr.RetryAfterMs > 0 {
		seconds := perr.RetryAfterMs / 1000
		if perr.RetryAfterMs%1000 != 0 {
			seconds++
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}
	writeJSON(w, status, chatErrorEnvelope{
		ErrorCode:    perr.Code,
		Error:        perr.Message,
		Provider:     perr.Provider,
		RetryAfterMs: perr.RetryAfterMs,
	})
}
