package ollama

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnalyzeLog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected path /api/generate, got %s", r.URL.Path)
		}

		var req GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("Expected model test-model, got %s", req.Model)
		}
		if req.Stream {
			t.Error("Expected stream=false")
		}
		if !strings.Contains(req.Prompt, "HardFault_Handler") {
			t.Errorf("Expected prompt to carry the log content, got %s", req.Prompt)
		}

		json.NewEncoder(w).Encode(GenerateResponse{
			Response: "```json\n{\"summary\": \"hard fault\"}\n```",
			Done:     true,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "test-model")
	resp, err := c.AnalyzeLog("Event: HardFault_Handler at line 3")
	if err != nil {
		t.Fatalf("AnalyzeLog failed: %v", err)
	}
	if resp != `{"summary": "hard fault"}` {
		t.Errorf("Expected cleaned JSON, got %q", resp)
	}
}

func TestAnalyzeLogAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerateResponse{Error: "model not found"})
	}))
	defer server.Close()

	c := NewClient(server.URL, "missing")
	if _, err := c.AnalyzeLog("anything"); err == nil {
		t.Fatal("Expected error for model failure")
	}
}

func TestCleanJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"summary": "ok"}`, `{"summary": "ok"}`},
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"<think>hmm, a watchdog</think>{\"a\": 1}", `{"a": 1}`},
		{"Here is the analysis: {\"a\": 1}", `{"a": 1}`},
	}

	for _, tc := range cases {
		if got := cleanJSON(tc.in); got != tc.want {
			t.Errorf("cleanJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStripThinkBlocksUnclosed(t *testing.T) {
	if got := stripThinkBlocks("answer <think>never closed"); got != "answer " {
		t.Errorf("expected open think block stripped to end, got %q", got)
	}
}
