package assistant

import (
	"context"
	"strings"
)

// ProviderNameOffline is the terminal fallback provider. It is always
// available and never fails.
const ProviderNameOffline = "offline"

// intent is a coarse classification of the user's last message used to pick
// a canned reply when no generation backend is reachable.
type intent string

const (
	intentGreeting       intent = "greeting"
	intentStudyHelp      intent = "study_help"
	intentDamageAnalysis intent = "damage_analysis"
	intentLessonSummary  intent = "lesson_summary"
	intentPricing        intent = "pricing"
	intentFarewell       intent = "farewell"
	intentDefault        intent = "default"
)

// intentKeywords are matched case-insensitively against the last user
// message. Order matters: the first intent with a hit wins, so more specific
// intents come before generic ones.
var intentKeywords = []struct {
	intent   intent
	keywords []string
}{
	{intentLessonSummary, []string{"summary", "summarize", "recap", "ملخص", "لخص", "تلخيص"}},
	{intentDamageAnalysis, []string{"damage", "defect", "crack", "assess", "inspection", "ضرر", "أضرار", "تلف", "صدع", "تشقق", "معاينة"}},
	{intentStudyHelp, []string{"study", "exam", "homework", "explain", "lesson", "course", "دراسة", "امتحان", "واجب", "اشرح", "شرح", "درس", "دورة"}},
	{intentPricing, []string{"price", "cost", "subscription", "pay", "سعر", "أسعار", "اشتراك", "تكلفة", "دفع"}},
	{intentFarewell, []string{"bye", "goodbye", "thank", "thanks", "شكرا", "شكرًا", "وداعا", "مع السلامة"}},
	{intentGreeting, []string{"hello", "hi", "hey", "good morning", "good evening", "مرحبا", "أهلا", "اهلا", "السلام عليكم", "صباح الخير", "مساء الخير"}},
}

// cannedReplies holds one fixed reply per (intent, language). The same intent
// always yields byte-identical output, and no reply may reference internal
// configuration, hosts, or backend names.
var cannedReplies = map[intent]map[string]string{
	intentGreeting: {
		LanguageArabic:  "أهلًا بك! أنا مساعدك التعليمي. كيف يمكنني مساعدتك اليوم في دروسك أو استفساراتك؟",
		LanguageEnglish: "Welcome! I'm your learning assistant. How can I help you with your lessons or questions today?",
	},
	intentStudyHelp: {
		LanguageArabic:  "يسعدني مساعدتك في دراستك. أخبرني بالموضوع أو الدرس الذي تريد شرحه وسأقدم لك خطة واضحة خطوة بخطوة.",
		LanguageEnglish: "I'd be glad to help with your studies. Tell me the topic or lesson you need explained and I'll walk you through it step by step.",
	},
	intentDamageAnalysis: {
		LanguageArabic:  "لتحليل الأضرار بدقة، صف لي نوع الضرر وموقعه وحجمه التقريبي، وسأوجهك إلى خطوات التقييم المناسبة من موادنا التدريبية.",
		LanguageEnglish: "For an accurate damage assessment, describe the type, location, and approximate extent of the damage, and I'll guide you through the evaluation steps from our training material.",
	},
	intentLessonSummary: {
		LanguageArabic:  "بالتأكيد! أرسل لي اسم الدرس أو النقاط الأساسية التي غطيتها وسأعد لك ملخصًا مركزًا يساعدك على المراجعة.",
		LanguageEnglish: "Of course! Send me the lesson name or the key points you covered and I'll prepare a focused summary to help you review.",
	},
	intentPricing: {
		LanguageArabic:  "يمكنك الاطلاع على تفاصيل الاشتراكات والأسعار من صفحة الباقات داخل المنصة، وإذا كان لديك سؤال محدد فأنا هنا للمساعدة.",
		LanguageEnglish: "You can find subscription and pricing details on the plans page inside the platform. If you have a specific question, I'm happy to help.",
	},
	intentFarewell: {
		LanguageArabic:  "شكرًا لتواصلك معنا! أتمنى لك يومًا موفقًا ودراسة ممتعة. عد في أي وقت.",
		LanguageEnglish: "Thank you for reaching out! Have a great day and enjoy your studies. Come back any time.",
	},
	intentDefault: {
		LanguageArabic:  "أنا هنا لمساعدتك في كل ما يخص دوراتك ودروسك. هل يمكنك توضيح طلبك أكثر؟",
		LanguageEnglish: "I'm here to help with anything related to your courses and lessons. Could you tell me a bit more about what you need?",
	},
}

// OfflineProvider is the deterministic terminal fallback. It classifies the
// last user message by keyword intent and returns a fixed reply in the
// dominant language of that message.
type OfflineProvider struct{}

func NewOfflineProvider() *OfflineProvider { return &OfflineProvider{} }

func (p *OfflineProvider) Name() string { return ProviderNameOffline }

func (p *OfflineProvider) Complete(_ context.Context, req CompletionRequest) (CompletionResult, error) {
	reply := p.reply(req)
	return CompletionResult{
		Text:     reply,
		Provider: ProviderNameOffline,
		Usage: TokenUsage{
			PromptTokens:     EstimateTokens(lastUserContent(req.Messages)),
			CompletionTokens: EstimateTokens(reply),
			TotalTokens:      EstimateTokens(lastUserContent(req.Messages)) + EstimateTokens(reply),
		},
	}, nil
}

func (p *OfflineProvider) CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	reply := p.reply(req)
	chunks := make(chan StreamChunk, 8)

	go func() {
		defer close(chunks)
		for _, word := range strings.SplitAfter(reply, " ") {
			if !sendChunk(ctx, chunks, StreamChunk{Text: word}) {
				sendTerminal(chunks, StreamChunk{Err: ctx.Err(), Done: true})
				return
			}
		}
		sendChunk(ctx, chunks, StreamChunk{Done: true, Usage: TokenUsage{CompletionTokens: EstimateTokens(reply), TotalTokens: EstimateTokens(reply)}})
	}()

	return chunks, nil
}

func (p *OfflineProvider) reply(req CompletionRequest) string {
	last := lastUserContent(req.Messages)
	lang := LanguageEnglish
	if det := DetectLanguage(last); det.Language == LanguageArabic {
		lang = LanguageArabic
	}
	return cannedReplies[classifyIntent(last)][lang]
}

func classifyIntent(text string) intent {
	lowered := strings.ToLower(text)
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lowered, kw) {
				return group.intent
			}
		}
	}
	return intentDefault
}

func lastUserContent(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == ChatRoleUser {
			return messages[i].Content
		}
	}
	return ""
}
