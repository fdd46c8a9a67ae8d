package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const conversationTTL = 24 * time.Hour

// HistoryStore persists conversation transcripts in redis so multi-turn
// sessions survive across requests. Callers may also supply history inline;
// the store is the source of truth when they do not.
type HistoryStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func NewHistoryStore(redisClient *redis.Client, tracer trace.Tracer) *HistoryStore {
	if redisClient == nil {
		panic("assistant: redis client cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("eduassistant.internal.assistant.history")
	}
	return &HistoryStore{redis: redisClient, tracer: tracer}
}

func conversationKey(sessionID string) string {
	return fmt.Sprintf("conversation:%s", sessionID)
}

func (s *HistoryStore) Save(ctx context.Context, sessionID string, history []ChatMessage) error {
	ctx, span := s.tracer.Start(ctx, "assistant.save_history")
	defer span.End()

	data, err := json.Marshal(history)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("assistant: failed to marshal history: %w", err)
	}
	if err := s.redis.Set(ctx, conversationKey(sessionID), data, conversationTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("assistant: failed to persist history: %w", err)
	}
	return nil
}

// Load returns the stored transcript for a session, or an empty slice for an
// unknown session.
func (s *HistoryStore) Load(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.load_history")
	defer span.End()

	data, err := s.redis.Get(ctx, conversationKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("assistant: failed to load history: %w", err)
	}

	var history []ChatMessage
	if err := json.Unmarshal(data, &history); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("assistant: failed to decode history: %w", err)
	}
	return history, nil
}
