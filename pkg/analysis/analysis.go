// Package analysis orchestrates one firmware log analysis: parse, resolve
// symbols, ask the LLM for a narrative, render reports, record history.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"fwlens/pkg/elfsym"
	"fwlens/pkg/history"
	"fwlens/pkg/llm"
	"fwlens/pkg/models"
	"fwlens/pkg/parser"
	"fwlens/pkg/report"
)

const (
	maxLogBytes = 10 * 1024 * 1024
	maxELFBytes = 50 * 1024 * 1024

	// Prompt budget: the model sees a capped preview, not the whole log.
	maxPromptEvents  = 10
	maxPromptFrames  = 3
	maxPromptSymbols = 5
)

// Service wires the pipeline together. The provider and store are optional:
// without a provider analysis degrades to the rule-based fallback, without a
// store nothing is persisted.
type Service struct {
	parser   *parser.Parser
	resolver *elfsym.Resolver
	provider llm.Provider
	reports  *report.Generator
	store    *history.Store
}

func NewService(resolver *elfsym.Resolver, provider llm.Provider, reports *report.Generator, store *history.Store) *Service {
	return &Service{
		parser:   parser.New(),
		resolver: resolver,
		provider: provider,
		reports:  reports,
		store:    store,
	}
}

// LooksLikeJSON reports whether trimmed content is JSON-shaped. The caller
// uses it to pick the parser entry point; the parser itself never sniffs.
func LooksLikeJSON(content string) bool {
	content = strings.TrimSpace(content)
	return (strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}")) ||
		(strings.HasPrefix(content, "[") && strings.HasSuffix(content, "]"))
}

// ValidateRequest rejects empty or oversized inputs before any work is done.
func ValidateRequest(req models.AnalysisRequest) error {
	if strings.TrimSpace(req.LogContent) == "" {
		return fmt.Errorf("log content cannot be empty")
	}
	if len(req.LogContent) > maxLogBytes {
		return fmt.Errorf("log content too large (max %d bytes)", maxLogBytes)
	}
	if len(req.ELFContent) > maxELFBytes {
		return fmt.Errorf("ELF content too large (max %d bytes)", maxELFBytes)
	}
	return nil
}

// Analyze runs the full pipeline. It never returns an error: every failure
// degrades to a response describing what went wrong.
func (s *Service) Analyze(ctx context.Context, logContent string, elfContent []byte) models.AnalysisResponse {
	start := time.Now()
	analysisID := uuid.NewString()[:8]

	var parsed models.ParsedLog
	if LooksLikeJSON(logContent) {
		parsed = s.parser.ParseJSON(logContent)
	} else {
		parsed = s.parser.Parse(logContent)
	}

	var resolutions []models.SymbolResolution
	if len(elfContent) > 0 && s.resolver != nil {
		addresses := elfsym.ExtractAddresses(logContent)
		if len(addresses) > 0 {
			resolutions = s.resolver.Resolve(ctx, elfContent, addresses)
		}
	}

	result := s.analyzeWithProvider(parsed, resolutions)

	response := models.AnalysisResponse{
		AnalysisID:        analysisID,
		Timestamp:         time.Now(),
		AnalysisResult:    result,
		ParsedLog:         parsed,
		SymbolResolutions: resolutions,
	}

	if s.reports != nil {
		markdown := s.reports.Markdown(result, parsed, resolutions, analysisID)
		response.MarkdownReport = markdown

		if _, err := s.reports.Save(markdown, "md", analysisID); err != nil {
			log.Printf("failed to save markdown report: %v", err)
		}

		if html, err := s.reports.HTML(result, parsed, resolutions, analysisID); err != nil {
			log.Printf("failed to render HTML report: %v", err)
		} else if url, err := s.reports.Save(html, "html", analysisID); err != nil {
			log.Printf("failed to save HTML report: %v", err)
		} else {
			response.ReportURL = url
		}
	}

	response.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if s.store != nil {
		if err := s.store.Insert(response); err != nil {
			log.Printf("failed to record analysis %s: %v", analysisID, err)
		}
	}

	return response
}

// analyzeWithProvider asks the LLM for a structured assessment, falling back
// to the rule-based analysis when no provider is usable or its reply cannot
// be parsed.
func (s *Service) analyzeWithProvider(parsed models.ParsedLog, resolutions []models.SymbolResolution) models.AnalysisResult {
	if s.provider == nil || !s.provider.Available() {
		return fallbackAnalysis(parsed, "")
	}

	prompt := BuildPrompt(parsed, resolutions)

	raw, err := s.provider.AnalyzeLog(prompt)
	if err != nil {
		log.Printf("LLM analysis failed, using fallback: %v", err)
		return fallbackAnalysis(parsed, err.Error())
	}

	result, err := ParseProviderResponse(raw)
	if err != nil {
		log.Printf("LLM response unusable, using fallback: %v", err)
		return fallbackAnalysis(parsed, fmt.Sprintf("response parsing error: %v", err))
	}

	return result
}

// BuildPrompt renders the parsed log as an analysis request: a capped event
// preview (first 10 events, 3 stack frames each), resolved symbols, and
// metadata.
func BuildPrompt(parsed models.ParsedLog, resolutions []models.SymbolResolution) string {
	var b strings.Builder

	b.WriteString("FIRMWARE LOG ANALYSIS REQUEST\n")
	fmt.Fprintf(&b, "Total log lines: %d\n", parsed.TotalLines)
	fmt.Fprintf(&b, "Events detected: %d\n", len(parsed.Events))
	if len(parsed.ParsingErrors) > 0 {
		fmt.Fprintf(&b, "Parsing errors: %d\n", len(parsed.ParsingErrors))
	}
	b.WriteString("\n")

	if len(parsed.Events) > 0 {
		b.WriteString("DETECTED EVENTS:\n")
		for i, event := range parsed.Events {
			if i == maxPromptEvents {
				break
			}
			fmt.Fprintf(&b, "%d. [%s] Line %d\n", i+1, event.EventType, event.LineNumber)
			if event.Timestamp != "" {
				fmt.Fprintf(&b, "   Time: %s\n", event.Timestamp)
			}
			fmt.Fprintf(&b, "   Message: %s\n", event.Message)
			if event.FunctionName != "" {
				fmt.Fprintf(&b, "   Function: %s\n", event.FunctionName)
			}
			if event.MemoryAddress != "" {
				fmt.Fprintf(&b, "   Address: %s\n", event.MemoryAddress)
			}
			if len(event.StackTrace) > 0 {
				fmt.Fprintf(&b, "   Stack trace: %d frames\n", len(event.StackTrace))
				for j, frame := range event.StackTrace {
					if j == maxPromptFrames {
						break
					}
					fmt.Fprintf(&b, "     %s\n", frame)
				}
			}
			b.WriteString("\n")
		}
		if len(parsed.Events) > maxPromptEvents {
			fmt.Fprintf(&b, "... and %d more events\n\n", len(parsed.Events)-maxPromptEvents)
		}
	}

	var resolved []models.SymbolResolution
	for _, r := range resolutions {
		if r.Resolved {
			resolved = append(resolved, r)
		}
	}
	if len(resolved) > 0 {
		b.WriteString("SYMBOL RESOLUTION:\n")
		for i, symbol := range resolved {
			if i == maxPromptSymbols {
				break
			}
			fmt.Fprintf(&b, "  %s -> %s\n", symbol.Address, symbol.FunctionName)
			if symbol.FileName != "" && symbol.LineNumber > 0 {
				fmt.Fprintf(&b, "    at %s:%d\n", symbol.FileName, symbol.LineNumber)
			}
		}
		b.WriteString("\n")
	}

	if parsed.Metadata != nil && len(parsed.Metadata.Keys()) > 0 {
		b.WriteString("METADATA:\n")
		for _, key := range parsed.Metadata.Keys() {
			value, _ := parsed.Metadata.Get(key)
			fmt.Fprintf(&b, "  %s: %v\n", key, value)
		}
		b.WriteString("\n")
	}

	b.WriteString("Please analyze this firmware log and provide:\n")
	b.WriteString("1. Root cause analysis\n")
	b.WriteString("2. Suggested fix or debugging steps\n")
	b.WriteString("3. Criticality assessment\n")
	b.WriteString("4. Likely module/component involved\n")

	return b.String()
}

// ParseProviderResponse decodes the LLM's JSON assessment, normalizing
// criticality and clamping confidence to [0, 1].
func ParseProviderResponse(raw string) (models.AnalysisResult, error) {
	var decoded struct {
		Summary          string   `json:"summary"`
		SuggestedFix     string   `json:"suggested_fix"`
		ConfidenceScore  float64  `json:"confidence_score"`
		LikelyModule     string   `json:"likely_module"`
		CriticalityLevel string   `json:"criticality_level"`
		TechnicalDetails string   `json:"technical_details"`
		RelatedEvents    []string `json:"related_events"`
	}

	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return models.AnalysisResult{}, fmt.Errorf("invalid analysis JSON: %v", err)
	}

	criticality := models.CriticalityMedium
	switch strings.ToLower(decoded.CriticalityLevel) {
	case "high":
		criticality = models.CriticalityHigh
	case "low":
		criticality = models.CriticalityLow
	}

	confidence := decoded.ConfidenceScore
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	summary := decoded.Summary
	if summary == "" {
		summary = "Analysis completed"
	}
	suggestedFix := decoded.SuggestedFix
	if suggestedFix == "" {
		suggestedFix = "Review the log for more details"
	}

	return models.AnalysisResult{
		Summary:          summary,
		SuggestedFix:     suggestedFix,
		ConfidenceScore:  confidence,
		LikelyModule:     decoded.LikelyModule,
		CriticalityLevel: criticality,
		TechnicalDetails: decoded.TechnicalDetails,
		RelatedEvents:    decoded.RelatedEvents,
	}, nil
}

// Event types that flag a critical issue on their own.
var criticalEventTypes = map[models.EventType]bool{
	models.EventHardFault:     true,
	models.EventBusFault:      true,
	models.EventPanic:         true,
	models.EventStackOverflow: true,
	models.EventMemoryError:   true,
}

// fallbackAnalysis is the deterministic assessment used when no LLM is
// available or its reply could not be used.
func fallbackAnalysis(parsed models.ParsedLog, llmError string) models.AnalysisResult {
	var firstCritical *models.LogEvent
	for i := range parsed.Events {
		if criticalEventTypes[parsed.Events[i].EventType] {
			firstCritical = &parsed.Events[i]
			break
		}
	}

	var result models.AnalysisResult
	switch {
	case firstCritical != nil:
		result = models.AnalysisResult{
			Summary:          fmt.Sprintf("Critical firmware issue detected: %s", firstCritical.EventType),
			SuggestedFix:     "Review stack trace and check for memory corruption or hardware issues",
			CriticalityLevel: models.CriticalityHigh,
		}
	case len(parsed.Events) > 0:
		result = models.AnalysisResult{
			Summary:          fmt.Sprintf("Firmware issue detected: %s", parsed.Events[0].EventType),
			SuggestedFix:     "Investigate the reported error and check system configuration",
			CriticalityLevel: models.CriticalityMedium,
		}
	default:
		result = models.AnalysisResult{
			Summary:          "No critical issues detected in the log",
			SuggestedFix:     "Log appears normal, monitor for recurring issues",
			CriticalityLevel: models.CriticalityLow,
		}
	}

	result.ConfidenceScore = 0.6
	result.TechnicalDetails = fmt.Sprintf("Fallback analysis used. Total events: %d", len(parsed.Events))
	if llmError != "" {
		result.TechnicalDetails += fmt.Sprintf(" Error: %s", llmError)
	}

	for i, event := range parsed.Events {
		if i == 5 {
			break
		}
		result.RelatedEvents = append(result.RelatedEvents, string(event.EventType))
	}

	return result
}

// Capabilities describes what this service can currently do.
func (s *Service) Capabilities() map[string]any {
	eventTypes := []string{}
	for _, t := range []models.EventType{
		models.EventHardFault, models.EventBusFault, models.EventWatchdogReset,
		models.EventAssertionFailure, models.EventPanic, models.EventNullPointer,
		models.EventStackOverflow, models.EventMemoryError, models.EventSensorFailure,
		models.EventBootFailure, models.EventCrash, models.EventUnknown,
	} {
		eventTypes = append(eventTypes, string(t))
	}

	symbolResolution := map[string]any{"available": false}
	if s.resolver != nil {
		symbolResolution["available"] = s.resolver.Available()
		symbolResolution["tool_path"] = s.resolver.ToolPath()
	}

	return map[string]any{
		"log_parsing": map[string]any{
			"supported_formats": []string{"text", "json"},
			"detected_events":   eventTypes,
		},
		"symbol_resolution": symbolResolution,
		"llm_analysis": map[string]any{
			"available":          s.provider != nil && s.provider.Available(),
			"fallback_available": true,
		},
		"report_generation": map[string]any{
			"formats": []string{"markdown", "html"},
		},
	}
}
