package chat

import (
	"fmt"
	"strings"

	"fwlens/pkg/llm"
)

const historyWindow = 10

// System prompts per context type. "general" is the fallback.
var systemPrompts = map[string]string{
	"general": "You are an expert firmware debugging assistant for embedded systems. " +
		"You help developers understand crash logs, analyze hardware failures, and debug " +
		"embedded systems issues. Be clear and conversational, specific and actionable, " +
		"and refer to the user's own logs and analysis reports: file names, line numbers, " +
		"memory addresses, timestamps, hardware components. If you need more information, " +
		"ask specific follow-up questions.",
	"debug_assistant": "You are a senior embedded systems engineer helping debug firmware issues. " +
		"Identify the immediate cause, trace back to the root cause, suggest specific debugging " +
		"techniques, and recommend prevention strategies. Always provide actionable next steps.",
	"log_analysis": "You are analyzing firmware crash logs and telemetry data. " +
		"Identify critical events and their timing, look for patterns across crashes, " +
		"correlate hardware and software events, and explain cascading failures.",
	"troubleshooting": "You are guiding users through systematic firmware troubleshooting. " +
		"Structure responses as: immediate checks, diagnostic procedures, potential solutions " +
		"ranked by likelihood, and verification steps. Consider both hardware and software causes.",
}

// Engine produces assistant replies for a session using an LLM provider.
type Engine struct {
	sessions *SessionManager
	provider llm.Provider
}

func NewEngine(sessions *SessionManager, provider llm.Provider) *Engine {
	return &Engine{sessions: sessions, provider: provider}
}

// Process records the user message, asks the provider for a reply in the
// session's context, records the reply, and returns it.
func (e *Engine) Process(sessionID, userMessage, contextType string) (string, error) {
	session := e.sessions.Get(sessionID)
	if session == nil {
		return "", fmt.Errorf("session %s not found or expired", sessionID)
	}

	if e.provider == nil || !e.provider.Available() {
		return "", fmt.Errorf("no LLM provider configured for chat")
	}

	e.sessions.AddMessage(sessionID, "user", userMessage, nil)

	systemPrompt, ok := systemPrompts[contextType]
	if !ok {
		systemPrompt = systemPrompts["general"]
	}

	conversation := e.buildConversation(sessionID, userMessage)

	reply, err := e.provider.Chat(systemPrompt, conversation)
	if err != nil {
		return "", fmt.Errorf("chat generation failed: %v", err)
	}

	e.sessions.AddMessage(sessionID, "assistant", reply, map[string]any{
		"context_type": contextType,
	})

	return reply, nil
}

// buildConversation folds recent history and session context into a single
// prompt. The current user message is the last history entry, so it is
// rendered as the final "User:" turn.
func (e *Engine) buildConversation(sessionID, userMessage string) string {
	var b strings.Builder

	session := e.sessions.Get(sessionID)
	if session != nil {
		if len(session.AnalysisIDs) > 0 {
			fmt.Fprintf(&b, "Analysis reports in this session: %s\n", strings.Join(session.AnalysisIDs, ", "))
		}
		if len(session.UploadedLogs) > 0 {
			fmt.Fprintf(&b, "Uploaded logs in this session: %s\n", strings.Join(session.UploadedLogs, ", "))
		}
		if summary, ok := session.Context["last_analysis_summary"].(string); ok && summary != "" {
			fmt.Fprintf(&b, "Most recent analysis summary: %s\n", summary)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
	}

	history := e.sessions.History(sessionID, historyWindow)
	for _, msg := range history {
		switch msg.Role {
		case "assistant":
			fmt.Fprintf(&b, "Assistant: %s\n", msg.Content)
		default:
			fmt.Fprintf(&b, "User: %s\n", msg.Content)
		}
	}

	if len(history) == 0 && userMessage != "" {
		fmt.Fprintf(&b, "User: %s\n", userMessage)
	}

	return b.String()
}

// SuggestFollowUps asks the provider for short follow-up questions the user
// could ask next, based on the conversation so far.
func (e *Engine) SuggestFollowUps(sessionID string) ([]string, error) {
	if e.sessions.Get(sessionID) == nil {
		return nil, fmt.Errorf("session %s not found or expired", sessionID)
	}
	if e.provider == nil || !e.provider.Available() {
		return nil, fmt.Errorf("no LLM provider configured for chat")
	}

	prompt := e.buildConversation(sessionID, "") +
		"\nSuggest 3 short follow-up questions the user could ask next about this " +
		"debugging session. Respond with one question per line, no numbering."

	reply, err := e.provider.Chat(systemPrompts["general"], prompt)
	if err != nil {
		return nil, fmt.Errorf("suggestion generation failed: %v", err)
	}

	return parseSuggestions(reply), nil
}

// parseSuggestions splits the provider's reply into clean question lines,
// stripping list markers the model adds anyway.
func parseSuggestions(reply string) []string {
	suggestions := []string{}
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		if line == "" {
			continue
		}
		suggestions = append(suggestions, line)
		if len(suggestions) == 5 {
			break
		}
	}
	return suggestions
}
