package assistant

import (
	"regexp"
	"strings"
)

// IdentityGuardResult is the outcome of scanning an inbound message for
// persona-override and extraction attempts.
type IdentityGuardResult struct {
	// Intercepted is true when the message must NOT reach any provider.
	Intercepted bool
	// Score is a heuristic risk score (0.0 safe, 1.0 definite override).
	Score float64
	// Reasons lists the detection signals that fired.
	Reasons []string
	// Reply is the canned in-persona response when intercepted.
	Reply string
}

type identityPattern struct {
	re     *regexp.Regexp
	reason string
	weight float64
}

// interceptThreshold: messages scoring at or above this are intercepted.
const interceptThreshold = 0.7

// Persona-override attempts, including common Arabic phrasings.
var overridePatterns = []identityPattern{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?|guidelines?|directives?)`), "override:ignore_instructions", 0.9},
	{regexp.MustCompile(`(?i)(disregard|forget)\s+(all\s+)?(previous|prior|above|earlier|your)\s+(instructions?|rules?|prompts?|guidelines?)`), "override:discard_instructions", 0.9},
	{regexp.MustCompile(`(?i)you\s+are\s+(now\s+|no\s+longer\s+)(a|an|my|the)?\s*`), "override:role_reassignment", 0.7},
	{regexp.MustCompile(`(?i)(pretend|imagine|act\s+as\s+if)\s+(that\s+)?(you\s+)?(are|have|were)\s+(a\s+different|another|no)\s+(assistant|identity|persona|rules?|restrictions?)`), "override:pretend", 0.8},
	{regexp.MustCompile(`(?i)new\s+(role|identity|instructions?|persona)\s*:|system\s*prompt\s*:`), "override:new_role", 0.9},
	{regexp.MustCompile(`(?i)jailbreak|DAN\s*mode|developer\s*mode|unrestricted\s*mode`), "override:jailbreak_keyword", 0.9},
	{regexp.MustCompile(`تجاهل\s+(كل\s+)?(التعليمات|الأوامر|القواعد)`), "override:ignore_instructions_ar", 0.9},
	{regexp.MustCompile(`(انس|انسى|تناس)\s+(كل\s+)?(التعليمات|دورك|هويتك)`), "override:forget_ar", 0.9},
	{regexp.MustCompile(`(تظاهر|تصرف)\s+(أنك|بأنك|وكأنك)`), "override:pretend_ar", 0.7},
	{regexp.MustCompile(`أنت\s+الآن\s+`), "override:role_reassignment_ar", 0.7},
}

// Persona/configuration extraction attempts.
var extractionPatterns = []identityPattern{
	{regexp.MustCompile(`(?i)(reveal|show|display|print|repeat|tell\s+me)\s+(your\s+)?(system\s+prompt|instructions?|initial\s+prompt|hidden\s+prompt|configuration)`), "extraction:system_prompt", 0.8},
	{regexp.MustCompile(`(?i)what\s+(is|are)\s+your\s+(system\s+prompt|instructions?|real\s+(name|identity)|model|internal\s+config)`), "extraction:identity_probe", 0.7},
	{regexp.MustCompile(`(?i)(which|what)\s+(model|llm|ai|language\s+model)\s+(are\s+you|do\s+you\s+use|powers\s+you)`), "extraction:model_probe", 0.7},
	{regexp.MustCompile(`(?i)repeat\s+(everything|all|the\s+text)\s+(above|before|from\s+the\s+(start|beginning))`), "extraction:repeat_above", 0.7},
	{regexp.MustCompile(`(ما|ماذا)\s+(هي|هو)?\s*(تعليماتك|برمجتك|إعداداتك)`), "extraction:instructions_ar", 0.8},
	{regexp.MustCompile(`(أي|ما)\s+نموذج\s+(أنت|تستخدم)`), "extraction:model_probe_ar", 0.7},
	{regexp.MustCompile(`اعرض\s+(لي\s+)?(التعليمات|الأوامر)\s+(الأصلية|الأولى|المخفية)`), "extraction:show_prompt_ar", 0.8},
}

// Fake conversation boundaries and special-token smuggling.
var boundaryPatterns = []identityPattern{
	{regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|user\|>|<\|assistant\|>`), "boundary:special_tokens", 0.9},
	// Role markers alone are weak evidence; below the threshold they are
	// stripped rather than intercepted.
	{regexp.MustCompile(`(?i)###\s*(system|instruction|human|assistant|user)\s*:`), "boundary:role_markers", 0.6},
	{regexp.MustCompile(`(?i)(end\s+of\s+)(system|assistant)\s*(message|prompt|instructions?)`), "boundary:fake_boundary", 0.8},
}

var allIdentityPatterns []identityPattern

func init() {
	allIdentityPatterns = make([]identityPattern, 0, len(overridePatterns)+len(extractionPatterns)+len(boundaryPatterns))
	allIdentityPatterns = append(allIdentityPatterns, overridePatterns...)
	allIdentityPatterns = append(allIdentityPatterns, extractionPatterns...)
	allIdentityPatterns = append(allIdentityPatterns, boundaryPatterns...)
}

// identityRefusals redirect the user back to the assistant's actual purpose.
// One fixed reply per language so intercepted turns stay deterministic.
var identityRefusals = map[string]string{
	LanguageArabic:  "أنا مساعدك التعليمي في المنصة، وأبقى كذلك دائمًا. يسعدني مساعدتك في دروسك أو الإجابة عن أسئلتك الدراسية.",
	LanguageEnglish: "I'm your learning assistant on this platform, and that never changes. I'd be happy to help with your lessons or answer your study questions.",
}

// CheckIdentity scans an inbound user message for attempts to override the
// assistant's persona or extract its configuration. Intercepted messages are
// answered with a canned refusal and never reach a provider.
func CheckIdentity(message string) IdentityGuardResult {
	if strings.TrimSpace(message) == "" {
		return IdentityGuardResult{}
	}

	var reasons []string
	maxWeight := 0.0
	for _, p := range allIdentityPatterns {
		if p.re.MatchString(message) {
			reasons = append(reasons, p.reason)
			if p.weight > maxWeight {
				maxWeight = p.weight
			}
		}
	}

	// Compound multiple signals: +0.1 per extra hit, capped at 1.0.
	score := maxWeight
	if len(reasons) > 1 {
		score = maxWeight + float64(len(reasons)-1)*0.1
		if score > 1.0 {
			score = 1.0
		}
	}

	result := IdentityGuardResult{Score: score, Reasons: reasons}
	if score >= interceptThreshold {
		result.Intercepted = true
		lang := DetectLanguage(message).Language
		result.Reply = identityRefusals[lang]
		if result.Reply == "" {
			result.Reply = identityRefusals[LanguageEnglish]
		}
	}
	return result
}

// StripBoundaryMarkers removes special-token and fake-boundary markers from a
// message that scored below the interception threshold.
func StripBoundaryMarkers(message string) string {
	cleaned := regexp.MustCompile(`(?i)\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|<\|system\|>|<\|user\|>|<\|assistant\|>`).ReplaceAllString(message, "")
	cleaned = regexp.MustCompile(`(?i)###\s*(system|instruction|human|assistant|user)\s*:`).ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
