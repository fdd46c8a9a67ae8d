package assistant

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestSessionLanguagesPinsFirstDetection(t *testing.T) {
	client := newTestRedis(t)
	sessions := NewSessionLanguages(client, nil)
	ctx := context.Background()

	lang := sessions.Resolve(ctx, "sess-1", "ما هي الكسور؟", "")
	assert.Equal(t, LanguageArabic, lang)

	// Later English turns keep the Arabic lock.
	lang = sessions.Resolve(ctx, "sess-1", "now answer in English please", "")
	assert.Equal(t, LanguageArabic, lang)
}

func TestSessionLanguagesExplicitPreferenceWins(t *testing.T) {
	client := newTestRedis(t)
	sessions := NewSessionLanguages(client, nil)
	ctx := context.Background()

	lang := sessions.Resolve(ctx, "sess-2", "ما هي الكسور؟", LanguageEnglish)
	assert.Equal(t, LanguageEnglish, lang)

	locked, ok := sessions.Lookup(ctx, "sess-2")
	require.True(t, ok)
	assert.Equal(t, LanguageEnglish, locked)
}

func TestSessionLanguagesExplicitPreferenceOverridesExistingLock(t *testing.T) {
	client := newTestRedis(t)
	sessions := NewSessionLanguages(client, nil)
	ctx := context.Background()

	_ = sessions.Resolve(ctx, "sess-3", "hello", "")
	lang := sessions.Resolve(ctx, "sess-3", "hello again", LanguageArabic)
	assert.Equal(t, LanguageArabic, lang)
}

func TestSessionLanguagesIsolatesSessions(t *testing.T) {
	client := newTestRedis(t)
	sessions := NewSessionLanguages(client, nil)
	ctx := context.Background()

	assert.Equal(t, LanguageArabic, sessions.Resolve(ctx, "sess-ar", "مرحبا", ""))
	assert.Equal(t, LanguageEnglish, sessions.Resolve(ctx, "sess-en", "hello", ""))
}

func TestSessionLanguagesDegradesOnRedisFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := NewSessionLanguages(client, nil)
	mr.Close()

	// Without redis, every turn falls back to per-message detection.
	lang := sessions.Resolve(context.Background(), "sess-4", "hello there", "")
	assert.Equal(t, LanguageEnglish, lang)

	_, ok := sessions.Lookup(context.Background(), "sess-4")
	assert.False(t, ok)
}

func TestHistoryStoreRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	store := NewHistoryStore(client, nil)
	ctx := context.Background()

	history := []ChatMessage{
		{Role: ChatRoleUser, Content: "explain fractions"},
		{Role: ChatRoleAssistant, Content: "a fraction is a part of a whole"},
	}
	require.NoError(t, store.Save(ctx, "sess-5", history))

	loaded, err := store.Load(ctx, "sess-5")
	require.NoError(t, err)
	assert.Equal(t, history, loaded)
}

func TestHistoryStoreUnknownSession(t *testing.T) {
	client := newTestRedis(t)
	store := NewHistoryStore(client, nil)

	loaded, err := store.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
