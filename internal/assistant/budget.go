package assistant

// charsPerToken is a fixed heuristic ratio. Provider tokenizers differ, so
// the budget manager deliberately avoids depending on any of them; the
// ceiling leaves headroom for the estimate error.
const charsPerToken = 4

// EstimateTokens approximates the token cost of text. Always at least 1 for
// non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len([]rune(text))
	est := n / charsPerToken
	if n%charsPerToken != 0 {
		est++
	}
	return est
}

// estimateMessages sums the estimated cost of a message list.
func estimateMessages(messages []ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// TruncateToBudget retains the most recent messages whose cumulative
// estimated tokens fit within budgetTokens. Older turns are dropped from the
// head first; the most recent turns are never sacrificed for older ones. The
// input slice is not mutated.
func TruncateToBudget(messages []ChatMessage, budgetTokens int) []ChatMessage {
	if budgetTokens <= 0 {
		return []ChatMessage{}
	}

	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := EstimateTokens(messages[i].Content)
		if total+cost > budgetTokens {
			break
		}
		total += cost
		start = i
	}

	kept := make([]ChatMessage, len(messages)-start)
	copy(kept, messages[start:])
	return kept
}
