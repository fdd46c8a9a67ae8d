package assistant

import (
	"fmt"
	"unicode"
)

// Permitted response languages. Everything outside these two scripts is a
// policy violation when it dominates output or appears as a disallowed
// script.
const (
	LanguageArabic  = "ar"
	LanguageEnglish = "en"
	LanguageAuto    = "auto"
)

// Detection is the result of classifying a piece of text by script.
type Detection struct {
	Language            string
	ArabicRatio         float64
	HasDisallowedScript bool
}

// disallowedRanges covers scripts that must never appear in conversation
// content: Han, Hiragana, Katakana, and Hangul.
var disallowedRanges = []*unicode.RangeTable{
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Hangul,
}

// arabicRanges covers the Arabic script including presentation forms.
var arabicRanges = []*unicode.RangeTable{
	unicode.Arabic,
}

// DetectLanguage classifies text by character-range ratios. The dominant
// language is Arabic when Arabic letters outnumber Latin letters, English
// otherwise. A single disallowed-script rune flags the text regardless of
// the dominant language.
func DetectLanguage(text string) Detection {
	var arabic, latin, letters int
	disallowed := false

	for _, r := range text {
		if unicode.IsOneOf(disallowedRanges, r) {
			disallowed = true
			letters++
			continue
		}
		if unicode.IsOneOf(arabicRanges, r) {
			arabic++
			letters++
			continue
		}
		if unicode.Is(unicode.Latin, r) {
			latin++
			letters++
		}
	}

	det := Detection{Language: LanguageEnglish, HasDisallowedScript: disallowed}
	if letters > 0 {
		det.ArabicRatio = float64(arabic) / float64(letters)
	}
	if arabic > latin {
		det.Language = LanguageArabic
	}
	return det
}

// ContainsDisallowedScript reports whether any rune of text belongs to a
// forbidden script range. Used for per-chunk stream inspection.
func ContainsDisallowedScript(text string) bool {
	for _, r := range text {
		if unicode.IsOneOf(disallowedRanges, r) {
			return true
		}
	}
	return false
}

// SanitizeHistory returns a copy of messages with every turn containing a
// disallowed script removed. The input slice is never mutated. The returned
// log strings are for debug logging only and must not reach end users.
// Running SanitizeHistory on its own output removes nothing.
func SanitizeHistory(messages []ChatMessage) (kept []ChatMessage, removed int, log []string) {
	kept = make([]ChatMessage, 0, len(messages))
	for i, msg := range messages {
		if ContainsDisallowedScript(msg.Content) {
			removed++
			log = append(log, fmt.Sprintf("dropped turn %d (%s): contains disallowed script", i, msg.Role))
			continue
		}
		kept = append(kept, msg)
	}
	return kept, removed, log
}

// guardInstructions direct the generation backend to stay in the session
// language. Strict mode additionally forbids any third script in the output.
var guardInstructions = map[string]string{
	LanguageArabic:  "أجب دائمًا باللغة العربية الفصحى فقط في هذه المحادثة، مهما كانت لغة رسالة المستخدم.",
	LanguageEnglish: "Always respond in English only for this conversation, regardless of the language of the user's message.",
}

var strictInstructions = map[string]string{
	LanguageArabic:  "لا تستخدم أبدًا أي حروف من لغات أخرى غير العربية والإنجليزية، ولا سيما الحروف الصينية أو اليابانية أو الكورية.",
	LanguageEnglish: "Never use characters from any script other than Arabic and English, especially Chinese, Japanese, or Korean characters.",
}

// GuardInstruction builds the language-lock system block appended directly
// after the primary persona prompt.
func GuardInstruction(language string, strict bool) string {
	base, ok := guardInstructions[language]
	if !ok {
		base = guardInstructions[LanguageEnglish]
		language = LanguageEnglish
	}
	if !strict {
		return base
	}
	return base + " " + strictInstructions[language]
}

// languageFallbacks replace a policy-violating response. One fixed message
// per locked language.
var languageFallbacks = map[string]string{
	LanguageArabic:  "عذرًا، لم أتمكن من إكمال هذه الإجابة. هل يمكنك إعادة صياغة سؤالك وسأساعدك فورًا؟",
	LanguageEnglish: "Sorry, I wasn't able to complete that answer. Could you rephrase your question and I'll help right away?",
}

// LanguageFallbackMessage is the safe substitute emitted when generated
// output violates the language policy.
func LanguageFallbackMessage(language string) string {
	if msg, ok := languageFallbacks[language]; ok {
		return msg
	}
	return languageFallbacks[LanguageEnglish]
}
