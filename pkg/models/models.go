package models

import (
	"time"

	"github.com/Velocidex/ordereddict"
)

// EventType identifies the kind of firmware event detected on a log line.
type EventType string

const (
	EventCrash            EventType = "crash"
	EventWatchdogReset    EventType = "watchdog_reset"
	EventAssertionFailure EventType = "assertion_failure"
	EventSensorFailure    EventType = "sensor_failure"
	EventMemoryError      EventType = "memory_error"
	EventStackOverflow    EventType = "stack_overflow"
	EventNullPointer      EventType = "null_pointer"
	EventBusFault         EventType = "bus_fault"
	EventHardFault        EventType = "hard_fault"
	EventPanic            EventType = "panic"
	EventBootFailure      EventType = "boot_failure"
	EventUnknown          EventType = "unknown"
)

// CriticalityLevel is the severity assessment of an analyzed issue.
type CriticalityLevel string

const (
	CriticalityHigh   CriticalityLevel = "high"
	CriticalityMedium CriticalityLevel = "medium"
	CriticalityLow    CriticalityLevel = "low"
)

// LogEvent is one classified log line (or JSON log entry).
type LogEvent struct {
	Timestamp     string    `json:"timestamp,omitempty"`
	EventType     EventType `json:"event_type"`
	Message       string    `json:"message"`
	LineNumber    int       `json:"line_number"`
	RawLine       string    `json:"raw_line"`
	StackTrace    []string  `json:"stack_trace,omitempty"`
	MemoryAddress string    `json:"memory_address,omitempty"`
	FunctionName  string    `json:"function_name,omitempty"`
	FileName      string    `json:"file_name,omitempty"`
}

// ParsedLog is the result of parsing one log document.
// Metadata keeps insertion order so prompts, reports and JSON responses
// render it deterministically.
type ParsedLog struct {
	TotalLines    int               `json:"total_lines"`
	Events        []LogEvent        `json:"events"`
	Metadata      *ordereddict.Dict `json:"metadata"`
	ParsingErrors []string          `json:"parsing_errors"`
}

// AnalysisResult is the LLM (or fallback) root-cause assessment.
type AnalysisResult struct {
	Summary          string           `json:"summary"`
	SuggestedFix     string           `json:"suggested_fix"`
	ConfidenceScore  float64          `json:"confidence_score"`
	LikelyModule     string           `json:"likely_module,omitempty"`
	CriticalityLevel CriticalityLevel `json:"criticality_level"`
	TechnicalDetails string           `json:"technical_details,omitempty"`
	RelatedEvents    []string         `json:"related_events,omitempty"`
}

// SymbolResolution maps a memory address to source information via addr2line.
type SymbolResolution struct {
	Address      string `json:"address"`
	FunctionName string `json:"function_name,omitempty"`
	FileName     string `json:"file_name,omitempty"`
	LineNumber   int    `json:"line_number,omitempty"`
	Resolved     bool   `json:"resolved"`
}

// AnalysisRequest is the payload accepted by the analyze-text endpoint.
type AnalysisRequest struct {
	LogContent string `json:"log_content"`
	ELFContent []byte `json:"elf_content,omitempty"`
}

// AnalysisResponse is the full result of one analysis run.
type AnalysisResponse struct {
	AnalysisID        string             `json:"analysis_id"`
	Timestamp         time.Time          `json:"timestamp"`
	AnalysisResult    AnalysisResult     `json:"analysis_result"`
	ParsedLog         ParsedLog          `json:"parsed_log"`
	SymbolResolutions []SymbolResolution `json:"symbol_resolutions,omitempty"`
	ReportURL         string             `json:"report_url,omitempty"`
	MarkdownReport    string             `json:"markdown_report,omitempty"`
	ProcessingTimeMS  float64            `json:"processing_time_ms"`
}

// HealthCheck is the /health response.
type HealthCheck struct {
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	Version       string         `json:"version"`
	LLMConfigured bool           `json:"llm_configured"`
	System        map[string]any `json:"system,omitempty"`
}
