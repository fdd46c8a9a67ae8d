package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const sessionLanguageTTL = 24 * time.Hour

// SessionLanguages pins one response language per session. The lock is
// resolved on the first message of a session and is stable for its remaining
// turns. State lives in redis so concurrent requests for the same session
// observe one verdict.
type SessionLanguages struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func NewSessionLanguages(redisClient *redis.Client, tracer trace.Tracer) *SessionLanguages {
	if redisClient == nil {
		panic("assistant: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("eduassistant.internal.assistant.sessions")
	}
	return &SessionLanguages{redis: redisClient, tracer: tracer}
}

func sessionLanguageKey(sessionID string) string {
	return fmt.Sprintf("session_lang:%s", sessionID)
}

// Resolve returns the locked language for sessionID, establishing it on the
// first call. An explicit preference always wins; otherwise the detected
// dominant language of the first message is pinned. Redis failures degrade to
// per-request detection rather than failing the turn.
func (s *SessionLanguages) Resolve(ctx context.Context, sessionID, firstMessage, explicitPref string) string {
	ctx, span := s.tracer.Start(ctx, "assistant.resolve_session_language")
	defer span.End()

	detected := DetectLanguage(firstMessage).Language

	if explicitPref == LanguageArabic || explicitPref == LanguageEnglish {
		if err := s.redis.Set(ctx, sessionLanguageKey(sessionID), explicitPref, sessionLanguageTTL).Err(); err != nil {
			span.RecordError(err)
		}
		return explicitPref
	}

	// SetNX pins the first resolution; later turns read the existing lock.
	ok, err := s.redis.SetNX(ctx, sessionLanguageKey(sessionID), detected, sessionLanguageTTL).Result()
	if err != nil {
		span.RecordError(err)
		return detected
	}
	if ok {
		return detected
	}

	locked, err := s.redis.Get(ctx, sessionLanguageKey(sessionID)).Result()
	if err != nil {
		span.RecordError(err)
		return detected
	}
	return locked
}

// Lookup returns the locked language for a session without establishing one.
func (s *SessionLanguages) Lookup(ctx context.Context, sessionID string) (string, bool) {
	locked, err := s.redis.Get(ctx, sessionLanguageKey(sessionID)).Result()
	if err != nil {
		return "", false
	}
	return locked, true
}
