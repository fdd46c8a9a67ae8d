package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimlabs/edu-assistant/pkg/logging"
)

type fakeRetriever struct {
	snippets []string
	err      error
}

func (f *fakeRetriever) Search(_ context.Context, _ string, _ int) ([]string, error) {
	return f.snippets, f.err
}

func TestPromptBuilderOrdersBlocks(t *testing.T) {
	b := NewPromptBuilder(nil, logging.New("error"))
	blocks := b.Build(context.Background(), LanguageEnglish, false, Preferences{}, "query")

	require.Len(t, blocks, 2)
	assert.Equal(t, basePersona, blocks[0])
	assert.Equal(t, GuardInstruction(LanguageEnglish, false), blocks[1])
}

func TestPromptBuilderIncludesPreferences(t *testing.T) {
	b := NewPromptBuilder(nil, logging.New("error"))
	blocks := b.Build(context.Background(), LanguageEnglish, false, Preferences{
		Tone:               "friendly",
		Verbosity:          "brief",
		CustomInstructions: "use bullet points",
	}, "query")

	require.Len(t, blocks, 3)
	assert.Contains(t, blocks[2], "Tone: friendly.")
	assert.Contains(t, blocks[2], "Verbosity: brief.")
	assert.Contains(t, blocks[2], "use bullet points")
}

func TestPromptBuilderAppendsKnowledge(t *testing.T) {
	b := NewPromptBuilder(&fakeRetriever{snippets: []string{"fractions are parts", "denominators divide"}}, logging.New("error"))
	blocks := b.Build(context.Background(), LanguageEnglish, false, Preferences{}, "fractions")

	require.Len(t, blocks, 3)
	assert.Contains(t, blocks[2], "1. fractions are parts")
	assert.Contains(t, blocks[2], "2. denominators divide")
}

func TestPromptBuilderToleratesRetrievalFailure(t *testing.T) {
	b := NewPromptBuilder(&fakeRetriever{err: errors.New("index offline")}, logging.New("error"))
	blocks := b.Build(context.Background(), LanguageEnglish, false, Preferences{}, "fractions")
	assert.Len(t, blocks, 2, "retrieval failures degrade to no context block")
}

func TestPreferencesExplicitLanguage(t *testing.T) {
	assert.Equal(t, LanguageArabic, Preferences{LanguageMode: "locked_source"}.explicitLanguage())
	assert.Equal(t, LanguageEnglish, Preferences{LanguageMode: "locked_target"}.explicitLanguage())
	assert.Empty(t, Preferences{LanguageMode: "auto"}.explicitLanguage())
	assert.Empty(t, Preferences{}.explicitLanguage())
}

func TestTelemetryTotals(t *testing.T) {
	tel := NewTelemetry()
	tel.RecordRequest()
	tel.RecordRequest()
	tel.RecordError()
	tel.RecordCacheHit()

	totals := tel.Totals()
	assert.Equal(t, int64(2), totals.Requests)
	assert.Equal(t, int64(1), totals.Errors)
	assert.Equal(t, int64(1), totals.CacheHits)
}
