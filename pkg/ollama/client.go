package ollama

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "phi4-mini" // Default model
	}

	return &Client{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 300 * time.Second},
	}
}

func (c *Client) generate(prompt string) (string, error) {
	reqBody := GenerateRequest{
		Model:  c.Model,
		Prompt: prompt,
		Stream: false,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	resp, err := c.Client.Post(c.BaseURL+"/api/generate", "application/json", bytes.NewBuffer(data))
	if err != nil {
		return "", fmt.Errorf("failed to connect to Ollama: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error: %s", string(body))
	}

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", err
	}

	if genResp.Error != "" {
		return "", fmt.Errorf("ollama error: %s", genResp.Error)
	}

	return genResp.Response, nil
}

func (c *Client) AnalyzeLog(prompt string) (string, error) {
	fullPrompt := "You are an expert embedded firmware debugger. " +
		"Analyze the firmware log below and identify the root cause, a specific fix, " +
		"the criticality (high/medium/low), and the likely module involved.\n\n" +
		prompt + "\n\n" +
		"Respond with ONLY a JSON object, no explanation and no markdown:\n" +
		`{"summary": "...", "suggested_fix": "...", "confidence_score": 0.85, ` +
		`"likely_module": "module_name.c", "criticality_level": "high|medium|low", ` +
		`"technical_details": "...", "related_events": ["..."]}`

	resp, err := c.generate(fullPrompt)
	if err != nil {
		return "", err
	}

	return cleanJSON(resp), nil
}

func (c *Client) Chat(systemPrompt, conversation string) (string, error) {
	prompt := "System: " + systemPrompt + "\n\n" + conversation + "\n\nAssistant:"

	resp, err := c.generate(prompt)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(stripThinkBlocks(resp)), nil
}

func (c *Client) Available() bool {
	return c != nil
}

// stripThinkBlocks removes <think>...</think> reasoning that some local
// models emit before the actual answer.
func stripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			// If tag is open but not closed, strip from start
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
		s = strings.TrimSpace(s)
	}
	return s
}

// cleanJSON digs the JSON object out of a chatty model reply: think blocks,
// code fences, or leading prose before the first brace.
func cleanJSON(s string) string {
	s = strings.TrimSpace(stripThinkBlocks(s))

	if strings.Contains(s, "```") {
		parts := strings.Split(s, "```")
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "json"))
			if strings.HasPrefix(trimmed, "{") {
				return trimmed
			}
		}
	}

	if idx := strings.Index(s, "{"); idx > 0 {
		return strings.TrimSpace(s[idx:])
	}

	return s
}
