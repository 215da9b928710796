package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Velocidex/ordereddict"

	"fwlens/pkg/models"
)

// eventPattern pairs an event type with its trigger patterns. The table below
// is walked in order and the first matching pattern wins, so when a line could
// match several types the one listed first takes priority. Keep it a slice,
// not a map: iteration order is load-bearing.
type eventPattern struct {
	Type     models.EventType
	Patterns []*regexp.Regexp
}

var eventPatterns = []eventPattern{
	{models.EventHardFault, compileAll(
		`HardFault_Handler`,
		`Hard\s*Fault`,
		`HARD_FAULT`,
	)},
	{models.EventBusFault, compileAll(
		`BusFault_Handler`,
		`Bus\s*Fault`,
		`BUS_FAULT`,
	)},
	{models.EventWatchdogReset, compileAll(
		`Watchdog\s*Reset`,
		`WDT\s*Reset`,
		`IWDG\s*Reset`,
		`watchdog\s*timeout`,
	)},
	{models.EventAssertionFailure, compileAll(
		`assert\s*\(`,
		`assertion\s*failed`,
		`ASSERT`,
		`__assert_func`,
	)},
	{models.EventPanic, compileAll(
		`panic\s*\(`,
		`PANIC`,
		`kernel\s*panic`,
	)},
	{models.EventNullPointer, compileAll(
		`null\s*pointer`,
		`NULL\s*pointer`,
		`0x00000000`,
		`segmentation\s*fault`,
	)},
	{models.EventStackOverflow, compileAll(
		`stack\s*overflow`,
		`STACK_OVERFLOW`,
		`stack\s*corruption`,
	)},
	{models.EventMemoryError, compileAll(
		`memory\s*error`,
		`malloc\s*failed`,
		`out\s*of\s*memory`,
		`heap\s*corruption`,
	)},
	{models.EventSensorFailure, compileAll(
		`sensor\s*error`,
		`sensor\s*failure`,
		`I2C\s*error`,
		`SPI\s*error`,
	)},
	{models.EventBootFailure, compileAll(
		`boot\s*failed`,
		`bootloader\s*error`,
		`failed\s*to\s*boot`,
	)},
}

// Timestamp shapes, tried in priority order. The match is kept as a string;
// firmware timestamps are too varied to normalize into time.Time.
var timestampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}`), // 2023-12-01 14:30:45
	regexp.MustCompile(`\d{2}:\d{2}:\d{2}\.\d{3}`),              // 14:30:45.123
	regexp.MustCompile(`\[\s*\d+\.\d+\]`),                       // [ 1234.567]
	regexp.MustCompile(`\d+ms`),                                 // 1234ms
	regexp.MustCompile(`\d+:\d+:\d+`),                           // 14:30:45
}

var stackTracePatterns = []*regexp.Regexp{
	regexp.MustCompile(`0x[0-9a-fA-F]{8}`),
	regexp.MustCompile(`at\s+0x[0-9a-fA-F]+`),
	regexp.MustCompile(`#\d+\s+0x[0-9a-fA-F]+`),
	regexp.MustCompile(`PC:\s*0x[0-9a-fA-F]+`),
	regexp.MustCompile(`LR:\s*0x[0-9a-fA-F]+`),
}

var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{8}`)

// Call-site shapes a function name can be pulled from. Case-sensitive:
// "IN FOO(" is register soup, not a call site.
var functionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`in\s+(\w+)\s*\(`),
	regexp.MustCompile(`at\s+(\w+)\s*\(`),
	regexp.MustCompile(`(\w+)\s*\(\)`),
	regexp.MustCompile(`function\s+(\w+)`),
}

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+p))
	}
	return compiled
}

// Parser turns raw firmware log text into a models.ParsedLog. It holds no
// state beyond the package-level pattern tables, so a single Parser is safe
// for concurrent use.
type Parser struct{}

// New creates a Parser.
func New() *Parser {
	return &Parser{}
}

// Parse classifies plain-text log content into typed events and groups
// trailing stack-trace lines into the event that precedes them.
//
// Lines that match no pattern and do not look like stack-trace frames are
// dropped without an event or a parsing error; the parser is a detector, not
// a transcriber. Parse never fails as a whole: per-line problems are recorded
// in ParsingErrors and processing continues.
func (p *Parser) Parse(content string) models.ParsedLog {
	lines := strings.Split(content, "\n")
	events := []models.LogEvent{}
	parsingErrors := []string{}

	metadata := ordereddict.NewDict().
		Set("parsed_at", time.Now().Format(time.RFC3339)).
		Set("total_lines", len(lines))

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		event, err := p.parseLine(line, i+1)
		if err != nil {
			parsingErrors = append(parsingErrors, fmt.Sprintf("Line %d: %v", i+1, err))
			continue
		}
		if event != nil {
			events = append(events, *event)
		}
	}

	events = groupStackTraces(events)

	return models.ParsedLog{
		TotalLines:    len(lines),
		Events:        events,
		Metadata:      metadata,
		ParsingErrors: parsingErrors,
	}
}

// parseLine classifies a single trimmed line. A nil event with a nil error
// means the line was dropped.
func (p *Parser) parseLine(line string, lineNum int) (*models.LogEvent, error) {
	timestamp := extractTimestamp(line)

	eventType := detectEventType(line)
	if eventType == models.EventUnknown {
		if !isStackTraceLine(line) {
			return nil, nil
		}
		eventType = models.EventCrash
	}

	return &models.LogEvent{
		Timestamp:     timestamp,
		EventType:     eventType,
		Message:       line,
		LineNumber:    lineNum,
		RawLine:       line,
		MemoryAddress: extractMemoryAddress(line),
		FunctionName:  extractFunctionName(line),
	}, nil
}

func extractTimestamp(line string) string {
	for _, pattern := range timestampPatterns {
		if m := pattern.FindString(line); m != "" {
			return m
		}
	}
	return ""
}

func detectEventType(line string) models.EventType {
	for _, ep := range eventPatterns {
		for _, pattern := range ep.Patterns {
			if pattern.MatchString(line) {
				return ep.Type
			}
		}
	}
	return models.EventUnknown
}

func isStackTraceLine(line string) bool {
	for _, pattern := range stackTracePatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}

func extractMemoryAddress(line string) string {
	return addressPattern.FindString(line)
}

func extractFunctionName(line string) string {
	for _, pattern := range functionPatterns {
		if m := pattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

// groupStackTraces folds consecutive stack-trace-shaped crash events into the
// StackTrace of the most recent primary event. Stack frames never appear as
// first-class events in the output; a trailing run with no following primary
// event is flushed onto the last one.
func groupStackTraces(events []models.LogEvent) []models.LogEvent {
	if len(events) == 0 {
		return events
	}

	grouped := []models.LogEvent{}
	var current *models.LogEvent
	var frames []string

	for _, event := range events {
		if event.EventType == models.EventCrash && isStackTraceLine(event.Message) {
			frames = append(frames, event.Message)
			continue
		}

		if current != nil && len(frames) > 0 {
			current.StackTrace = frames
			frames = nil
		}
		grouped = append(grouped, event)
		current = &grouped[len(grouped)-1]
	}

	if current != nil && len(frames) > 0 {
		current.StackTrace = frames
	}

	return grouped
}

// ParseJSON parses a JSON log document: a top-level array of entries, an
// object with a "logs" array, or a single object. Entries are numbered
// sequentially from 1. A document that fails to decode yields an empty
// ParsedLog carrying one parsing error; ParseJSON never returns an error.
func (p *Parser) ParseJSON(content string) models.ParsedLog {
	var data any
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return models.ParsedLog{
			TotalLines:    0,
			Events:        []models.LogEvent{},
			Metadata:      ordereddict.NewDict(),
			ParsingErrors: []string{fmt.Sprintf("JSON parsing error: %v", err)},
		}
	}

	events := []models.LogEvent{}
	parsingErrors := []string{}

	appendEntry := func(entry any, num int) {
		obj, ok := entry.(map[string]any)
		if !ok {
			parsingErrors = append(parsingErrors, fmt.Sprintf("Entry %d: not a JSON object", num))
			return
		}
		events = append(events, parseJSONEntry(obj, num))
	}

	switch v := data.(type) {
	case []any:
		for i, entry := range v {
			appendEntry(entry, i+1)
		}
	case map[string]any:
		if logs, present := v["logs"]; present {
			// A "logs" key that is not an array yields no events.
			if arr, ok := logs.([]any); ok {
				for i, entry := range arr {
					appendEntry(entry, i+1)
				}
			} else {
				parsingErrors = append(parsingErrors, `"logs" is not an array`)
			}
		} else {
			appendEntry(v, 1)
		}
	}

	metadata := ordereddict.NewDict().
		Set("format", "json").
		Set("parsed_at", time.Now().Format(time.RFC3339))

	return models.ParsedLog{
		TotalLines:    len(events),
		Events:        events,
		Metadata:      metadata,
		ParsingErrors: parsingErrors,
	}
}

func parseJSONEntry(entry map[string]any, num int) models.LogEvent {
	raw, _ := json.Marshal(entry)

	message, ok := entry["message"].(string)
	if !ok {
		message = string(raw)
	}

	timestamp, _ := entry["timestamp"].(string)
	if timestamp == "" {
		timestamp, _ = entry["time"].(string)
	}

	level, _ := entry["level"].(string)
	level = strings.ToLower(level)

	eventType := detectEventType(message)
	if eventType == models.EventUnknown {
		switch level {
		case "error", "fatal", "critical":
			eventType = models.EventCrash
		}
	}

	functionName, _ := entry["function"].(string)
	fileName, _ := entry["file"].(string)

	return models.LogEvent{
		Timestamp:    timestamp,
		EventType:    eventType,
		Message:      message,
		LineNumber:   num,
		RawLine:      string(raw),
		FunctionName: functionName,
		FileName:     fileName,
	}
}
