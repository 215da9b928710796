package analysis

import (
	"fmt"
	"strings"
	"testing"

	"fwlens/pkg/models"
	"fwlens/pkg/parser"
	"fwlens/pkg/report"
)

type fakeProvider struct {
	response  string
	err       error
	available bool
	prompts   []string
}

func (f *fakeProvider) AnalyzeLog(prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeProvider) Chat(systemPrompt, conversation string) (string, error) {
	return f.response, f.err
}

func (f *fakeProvider) Available() bool {
	return f.available
}

func TestLooksLikeJSON(t *testing.T) {
	cases := []struct {
		content string
		want    bool
	}{
		{`{"message": "ok"}`, true},
		{`[{"message": "ok"}]`, true},
		{"  {\"message\": \"ok\"}  \n", true},
		{"HardFault_Handler at 0x08001234", false},
		{"{incomplete", false},
		{"", false},
	}
	for _, c := range cases {
		if got := LooksLikeJSON(c.content); got != c.want {
			t.Errorf("LooksLikeJSON(%q) = %v, want %v", c.content, got, c.want)
		}
	}
}

func TestValidateRequest(t *testing.T) {
	if err := ValidateRequest(models.AnalysisRequest{LogContent: "Hard Fault"}); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
	if err := ValidateRequest(models.AnalysisRequest{LogContent: "   \n  "}); err == nil {
		t.Error("expected error for blank log content")
	}
	big := strings.Repeat("x", maxLogBytes+1)
	if err := ValidateRequest(models.AnalysisRequest{LogContent: big}); err == nil {
		t.Error("expected error for oversized log")
	}
	elf := make([]byte, maxELFBytes+1)
	if err := ValidateRequest(models.AnalysisRequest{LogContent: "ok", ELFContent: elf}); err == nil {
		t.Error("expected error for oversized ELF")
	}
}

func TestAnalyzeWithProvider(t *testing.T) {
	provider := &fakeProvider{
		available: true,
		response: `{"summary": "Null pointer dereference in SPI driver",
			"suggested_fix": "Guard the DMA buffer pointer before use",
			"confidence_score": 0.9,
			"likely_module": "spi_driver",
			"criticality_level": "high",
			"technical_details": "PC at 0x00000000",
			"related_events": ["hard_fault"]}`,
	}
	reports, err := report.NewGenerator(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create report generator: %v", err)
	}
	svc := NewService(nil, provider, reports, nil)

	logContent := "HardFault_Handler invoked\n  at spi_transfer (0x08001234)\nWDT Reset\n"
	resp := svc.Analyze(t.Context(), logContent, nil)

	if resp.AnalysisID == "" || len(resp.AnalysisID) != 8 {
		t.Errorf("unexpected analysis id %q", resp.AnalysisID)
	}
	if resp.AnalysisResult.Summary != "Null pointer dereference in SPI driver" {
		t.Errorf("unexpected summary %q", resp.AnalysisResult.Summary)
	}
	if resp.AnalysisResult.CriticalityLevel != models.CriticalityHigh {
		t.Errorf("unexpected criticality %q", resp.AnalysisResult.CriticalityLevel)
	}
	if resp.ParsedLog.TotalLines != 4 {
		t.Errorf("TotalLines = %d, want 4", resp.ParsedLog.TotalLines)
	}
	if resp.MarkdownReport == "" || resp.ReportURL == "" {
		t.Error("expected reports to be generated")
	}
	if len(provider.prompts) != 1 {
		t.Fatalf("provider called %d times, want 1", len(provider.prompts))
	}
	if !strings.Contains(provider.prompts[0], "hard_fault") {
		t.Error("prompt missing detected event type")
	}
}

func TestAnalyzeFallsBackWithoutProvider(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)

	resp := svc.Analyze(t.Context(), "HardFault_Handler invoked\n", nil)

	if resp.AnalysisResult.CriticalityLevel != models.CriticalityHigh {
		t.Errorf("fallback criticality = %q, want high", resp.AnalysisResult.CriticalityLevel)
	}
	if resp.AnalysisResult.ConfidenceScore != 0.6 {
		t.Errorf("fallback confidence = %v, want 0.6", resp.AnalysisResult.ConfidenceScore)
	}
	if !strings.Contains(resp.AnalysisResult.Summary, "hard_fault") {
		t.Errorf("fallback summary %q missing event type", resp.AnalysisResult.Summary)
	}
}

func TestAnalyzeFallsBackOnProviderError(t *testing.T) {
	provider := &fakeProvider{available: true, err: fmt.Errorf("model overloaded")}
	svc := NewService(nil, provider, nil, nil)

	resp := svc.Analyze(t.Context(), "sensor error on I2C bus\n", nil)

	if resp.AnalysisResult.CriticalityLevel != models.CriticalityMedium {
		t.Errorf("fallback criticality = %q, want medium", resp.AnalysisResult.CriticalityLevel)
	}
	if !strings.Contains(resp.AnalysisResult.TechnicalDetails, "model overloaded") {
		t.Errorf("technical details %q missing provider error", resp.AnalysisResult.TechnicalDetails)
	}
}

func TestAnalyzeFallsBackOnBadJSON(t *testing.T) {
	provider := &fakeProvider{available: true, response: "I cannot analyze this log."}
	svc := NewService(nil, provider, nil, nil)

	resp := svc.Analyze(t.Context(), "panic: stack overflow\n", nil)

	if resp.AnalysisResult.CriticalityLevel != models.CriticalityHigh {
		t.Errorf("fallback criticality = %q, want high", resp.AnalysisResult.CriticalityLevel)
	}
}

func TestAnalyzeJSONLog(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)

	resp := svc.Analyze(t.Context(), `{"logs": [{"message": "hard fault at boot", "level": "error"}]}`, nil)

	if len(resp.ParsedLog.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(resp.ParsedLog.Events))
	}
	if resp.ParsedLog.Events[0].EventType != models.EventHardFault {
		t.Errorf("event type = %q, want hard_fault", resp.ParsedLog.Events[0].EventType)
	}
}

func TestParseProviderResponse(t *testing.T) {
	result, err := ParseProviderResponse(`{"summary": "s", "suggested_fix": "f", "confidence_score": 1.7, "criticality_level": "HIGH"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ConfidenceScore != 1 {
		t.Errorf("confidence = %v, want clamped to 1", result.ConfidenceScore)
	}
	if result.CriticalityLevel != models.CriticalityHigh {
		t.Errorf("criticality = %q, want high", result.CriticalityLevel)
	}

	result, err = ParseProviderResponse(`{"confidence_score": -0.3, "criticality_level": "catastrophic"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ConfidenceScore != 0 {
		t.Errorf("confidence = %v, want clamped to 0", result.ConfidenceScore)
	}
	if result.CriticalityLevel != models.CriticalityMedium {
		t.Errorf("criticality = %q, want medium default", result.CriticalityLevel)
	}
	if result.Summary != "Analysis completed" {
		t.Errorf("summary = %q, want default", result.Summary)
	}

	if _, err := ParseProviderResponse("not json"); err == nil {
		t.Error("expected error for non-JSON response")
	}
}

func TestBuildPromptCapsEvents(t *testing.T) {
	var lines []string
	for i := 0; i < 15; i++ {
		lines = append(lines, fmt.Sprintf("WDT Reset number %d", i))
	}
	parsed := parser.New().Parse(strings.Join(lines, "\n"))
	if len(parsed.Events) != 15 {
		t.Fatalf("setup: got %d events", len(parsed.Events))
	}

	prompt := BuildPrompt(parsed, nil)

	if !strings.Contains(prompt, "... and 5 more events") {
		t.Error("prompt missing overflow note")
	}
	if strings.Contains(prompt, "WDT Reset number 11") {
		t.Error("prompt includes events past the cap")
	}
}

func TestBuildPromptSymbols(t *testing.T) {
	parsed := parser.New().Parse("Hard Fault at 0x08001234\n")
	resolutions := []models.SymbolResolution{
		{Address: "0x08001234", FunctionName: "spi_transfer", FileName: "spi.c", LineNumber: 42, Resolved: true},
		{Address: "0x08005678", Resolved: false},
	}

	prompt := BuildPrompt(parsed, resolutions)

	if !strings.Contains(prompt, "0x08001234 -> spi_transfer") {
		t.Error("prompt missing resolved symbol")
	}
	if !strings.Contains(prompt, "spi.c:42") {
		t.Error("prompt missing source location")
	}
	if strings.Contains(prompt, "0x08005678") {
		t.Error("prompt includes unresolved address")
	}
}

func TestCapabilities(t *testing.T) {
	svc := NewService(nil, &fakeProvider{available: true}, nil, nil)

	caps := svc.Capabilities()

	llmCaps, ok := caps["llm_analysis"].(map[string]any)
	if !ok {
		t.Fatal("missing llm_analysis section")
	}
	if llmCaps["available"] != true {
		t.Error("llm_analysis.available = false, want true")
	}
	parsing, ok := caps["log_parsing"].(map[string]any)
	if !ok {
		t.Fatal("missing log_parsing section")
	}
	events, ok := parsing["detected_events"].([]string)
	if !ok || len(events) != 12 {
		t.Errorf("detected_events = %v, want 12 entries", parsing["detected_events"])
	}
}
