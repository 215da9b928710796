// Package chat provides the conversational layer: in-memory sessions with
// expiry, and an engine that answers follow-up questions against accumulated
// session context through an LLM provider.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxSessionMessages = 50

// Message is a single turn in a conversation.
type Message struct {
	Role      string         `json:"role"` // "user" or "assistant"
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session holds one user's conversation history and analysis context.
type Session struct {
	ID           string         `json:"session_id"`
	UserID       string         `json:"user_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Messages     []Message      `json:"messages"`
	Context      map[string]any `json:"context"`
	AnalysisIDs  []string       `json:"analysis_reports"`
	UploadedLogs []string       `json:"uploaded_logs"`
}

// SessionManager owns all live sessions. Sessions expire after the
// configured idle timeout and are dropped lazily on access or via
// CleanupExpired. Safe for concurrent use by HTTP handlers.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration
}

func NewSessionManager(timeout time.Duration) *SessionManager {
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		timeout:  timeout,
	}
}

// Create starts a new session and returns its id.
func (m *SessionManager) Create(userID string) string {
	id := uuid.NewString()
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		Context:      make(map[string]any),
	}
	return id
}

// Get returns a copy of the session, or nil if unknown or expired. An expired
// session is removed on access. The copy's slices and context map are detached
// from the live session, so callers can read it without holding the lock.
func (m *SessionManager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.getLocked(id)
	if session == nil {
		return nil
	}
	return session.clone()
}

func (s *Session) clone() *Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.AnalysisIDs = append([]string(nil), s.AnalysisIDs...)
	out.UploadedLogs = append([]string(nil), s.UploadedLogs...)
	out.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		out.Context[k] = v
	}
	return &out
}

func (m *SessionManager) getLocked(id string) *Session {
	session, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if time.Since(session.LastActivity) > m.timeout {
		delete(m.sessions, id)
		return nil
	}
	return session
}

// AddMessage appends a message to the session, trimming history to the most
// recent messages. Returns false if the session is unknown or expired.
func (m *SessionManager) AddMessage(id, role, content string, metadata map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.getLocked(id)
	if session == nil {
		return false
	}

	session.Messages = append(session.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
	if len(session.Messages) > maxSessionMessages {
		session.Messages = session.Messages[len(session.Messages)-maxSessionMessages:]
	}
	session.LastActivity = time.Now()
	return true
}

// History returns the session's messages, limited to the last n when n > 0.
func (m *SessionManager) History(id string, n int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.getLocked(id)
	if session == nil {
		return nil
	}

	messages := session.Messages
	if n > 0 && len(messages) > n {
		messages = messages[len(messages)-n:]
	}

	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

// UpdateContext merges updates into the session context.
func (m *SessionManager) UpdateContext(id string, updates map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.getLocked(id)
	if session == nil {
		return false
	}
	for k, v := range updates {
		session.Context[k] = v
	}
	session.LastActivity = time.Now()
	return true
}

// AttachAnalysis associates an analysis report with the session.
func (m *SessionManager) AttachAnalysis(id, analysisID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.getLocked(id)
	if session == nil {
		return false
	}
	if !contains(session.AnalysisIDs, analysisID) {
		session.AnalysisIDs = append(session.AnalysisIDs, analysisID)
	}
	session.LastActivity = time.Now()
	return true
}

// AttachLog associates an uploaded log file name with the session.
func (m *SessionManager) AttachLog(id, filename string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.getLocked(id)
	if session == nil {
		return false
	}
	if !contains(session.UploadedLogs, filename) {
		session.UploadedLogs = append(session.UploadedLogs, filename)
	}
	session.LastActivity = time.Now()
	return true
}

// Delete removes the session. Returns false if it was not live.
func (m *SessionManager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getLocked(id) == nil {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Reset clears the session's conversation and context, keeping the session
// itself and its attached analyses and logs.
func (m *SessionManager) Reset(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.getLocked(id)
	if session == nil {
		return false
	}
	session.Messages = nil
	session.Context = make(map[string]any)
	session.LastActivity = time.Now()
	return true
}

// Search returns the session's messages whose content contains the query,
// case-insensitive. A nil result means the session is unknown or expired.
func (m *SessionManager) Search(id, query string) []Message {
	session := m.Get(id)
	if session == nil {
		return nil
	}

	query = strings.ToLower(query)
	matches := []Message{}
	for _, msg := range session.Messages {
		if strings.Contains(strings.ToLower(msg.Content), query) {
			matches = append(matches, msg)
		}
	}
	return matches
}

// ExportJSON renders the full session as indented JSON.
func (m *SessionManager) ExportJSON(id string) ([]byte, error) {
	session := m.Get(id)
	if session == nil {
		return nil, fmt.Errorf("session %s not found or expired", id)
	}
	return json.MarshalIndent(session, "", "  ")
}

// ExportMarkdown renders the session transcript as a Markdown document.
func (m *SessionManager) ExportMarkdown(id string) (string, error) {
	session := m.Get(id)
	if session == nil {
		return "", fmt.Errorf("session %s not found or expired", id)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Chat Session %s\n\n", session.ID)
	fmt.Fprintf(&b, "**Created:** %s\n", session.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Last activity:** %s\n", session.LastActivity.Format("2006-01-02 15:04:05"))
	if len(session.AnalysisIDs) > 0 {
		fmt.Fprintf(&b, "**Analysis reports:** %s\n", strings.Join(session.AnalysisIDs, ", "))
	}
	if len(session.UploadedLogs) > 0 {
		fmt.Fprintf(&b, "**Uploaded logs:** %s\n", strings.Join(session.UploadedLogs, ", "))
	}
	b.WriteString("\n## Transcript\n\n")

	for _, msg := range session.Messages {
		role := "User"
		if msg.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "**%s** (%s):\n\n%s\n\n", role, msg.Timestamp.Format("15:04:05"), msg.Content)
	}

	return b.String(), nil
}

// CleanupExpired drops idle sessions and returns how many were removed.
func (m *SessionManager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, session := range m.sessions {
		if time.Since(session.LastActivity) > m.timeout {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Stats summarizes the live session population.
func (m *SessionManager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalMessages := 0
	withReports := 0
	withLogs := 0
	for _, session := range m.sessions {
		totalMessages += len(session.Messages)
		if len(session.AnalysisIDs) > 0 {
			withReports++
		}
		if len(session.UploadedLogs) > 0 {
			withLogs++
		}
	}

	return map[string]any{
		"active_sessions":       len(m.sessions),
		"total_messages":        totalMessages,
		"sessions_with_reports": withReports,
		"sessions_with_logs":    withLogs,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
