package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

type Client struct {
	Ctx    context.Context
	Model  *genai.GenerativeModel
	Client *genai.Client
}

func NewClient(ctx context.Context, apiKey, modelName string) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-3-flash-preview"
	}
	model := client.GenerativeModel(modelName)

	// System instruction to act as a firmware debugging analyst
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text("You are an expert embedded firmware debugger and systems engineer. " +
				"You analyze firmware logs, crash dumps, and boot telemetry to provide debugging assistance.\n" +
				"You should:\n" +
				"1. Identify the root cause of issues based on log patterns\n" +
				"2. Suggest specific, actionable fixes\n" +
				"3. Assess the criticality level (high/medium/low)\n" +
				"4. Identify the likely module or component involved\n" +
				"Focus on memory issues (null pointers, stack overflows, heap corruption), " +
				"hardware faults (bus faults, hard faults, watchdog resets), assertion failures " +
				"and panics, sensor and peripheral failures, and boot sequence problems. " +
				"Be concise but insightful."),
		},
	}

	return &Client{
		Ctx:    ctx,
		Model:  model,
		Client: client,
	}, nil
}

func (c *Client) AnalyzeLog(prompt string) (string, error) {
	fullPrompt := prompt + "\n\n" +
		"Respond with ONLY a JSON object in this shape, no markdown fences:\n" +
		`{"summary": "...", "suggested_fix": "...", "confidence_score": 0.85, ` +
		`"likely_module": "module_name.c", "criticality_level": "high|medium|low", ` +
		`"technical_details": "...", "related_events": ["..."]}`

	resp, err := c.Model.GenerateContent(c.Ctx, genai.Text(fullPrompt))
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no response from Gemini")
	}

	answer := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			answer += string(text)
		}
	}

	return cleanResponse(answer), nil
}

func (c *Client) Chat(systemPrompt, conversation string) (string, error) {
	prompt := systemPrompt + "\n\n" + conversation

	resp, err := c.Model.GenerateContent(c.Ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no response from Gemini")
	}

	answer := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			answer += string(text)
		}
	}

	return strings.TrimSpace(answer), nil
}

func (c *Client) Available() bool {
	return c.Client != nil
}

func cleanResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
