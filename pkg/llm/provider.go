package llm

// Provider defines the interface for an LLM provider (e.g. Gemini, Ollama).
type Provider interface {
	// AnalyzeLog produces a root-cause analysis for the given prompt. The
	// reply is expected to be a JSON object with summary, suggested_fix,
	// confidence_score, likely_module, criticality_level, technical_details
	// and related_events fields.
	AnalyzeLog(prompt string) (string, error)

	// Chat answers a conversational follow-up. systemPrompt frames the
	// assistant role; conversation carries prior context plus the user's
	// current question.
	Chat(systemPrompt, conversation string) (string, error)

	// Available reports whether the provider is configured and usable.
	Available() bool
}
