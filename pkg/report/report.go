// Package report renders analysis results as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"fwlens/pkg/models"
)

const (
	maxDetailedEvents = 5
	maxResolvedRows   = 5
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table, extension.Strikethrough),
)

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Firmware Log Analysis Report</title>
<style>
body { font-family: Arial, sans-serif; margin: 40px; max-width: 900px; }
h1 { border-bottom: 2px solid #667eea; padding-bottom: 8px; }
pre, code { background: #f5f5f5; border-radius: 4px; padding: 2px 4px; }
pre { padding: 10px; overflow-x: auto; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 6px 10px; }
</style>
</head>
<body>
%s
</body>
</html>
`

// Generator writes reports under a directory served at /reports/.
type Generator struct {
	reportsDir string
}

func NewGenerator(reportsDir string) (*Generator, error) {
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create reports dir: %v", err)
	}
	return &Generator{reportsDir: reportsDir}, nil
}

// Markdown renders the full analysis report in Markdown.
func (g *Generator) Markdown(
	result models.AnalysisResult,
	parsed models.ParsedLog,
	resolutions []models.SymbolResolution,
	analysisID string,
) string {
	var b strings.Builder

	b.WriteString("# Firmware Log Analysis Report\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n", time.Now().Format("2006-01-02 15:04:05"))
	if analysisID != "" {
		fmt.Fprintf(&b, "**Analysis ID:** %s\n", analysisID)
	}
	b.WriteString("\n")

	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(&b, "**Criticality:** %s\n", strings.ToUpper(string(result.CriticalityLevel)))
	fmt.Fprintf(&b, "**Confidence:** %.1f%%\n", result.ConfidenceScore*100)
	if result.LikelyModule != "" {
		fmt.Fprintf(&b, "**Likely Module:** %s\n", result.LikelyModule)
	}
	b.WriteString("\n")
	b.WriteString(result.Summary)
	b.WriteString("\n\n")

	b.WriteString("## Recommended Actions\n\n")
	b.WriteString(result.SuggestedFix)
	b.WriteString("\n\n")

	if result.TechnicalDetails != "" {
		b.WriteString("## Technical Details\n\n")
		b.WriteString(result.TechnicalDetails)
		b.WriteString("\n\n")
	}

	b.WriteString("## Log Analysis\n\n")
	fmt.Fprintf(&b, "- **Total Lines:** %d\n", parsed.TotalLines)
	fmt.Fprintf(&b, "- **Events Detected:** %d\n", len(parsed.Events))
	if len(parsed.ParsingErrors) > 0 {
		fmt.Fprintf(&b, "- **Parsing Errors:** %d\n", len(parsed.ParsingErrors))
	}
	b.WriteString("\n")

	if len(parsed.Events) > 0 {
		writeEventSummary(&b, parsed.Events)
		writeEventDetails(&b, parsed.Events)
	}

	writeSymbolTable(&b, resolutions)

	if len(result.RelatedEvents) > 0 {
		b.WriteString("## Related Event Types\n\n")
		for _, eventType := range result.RelatedEvents {
			fmt.Fprintf(&b, "- %s\n", titleCase(eventType))
		}
		b.WriteString("\n")
	}

	if parsed.Metadata != nil && len(parsed.Metadata.Keys()) > 0 {
		b.WriteString("## Metadata\n\n")
		for _, key := range parsed.Metadata.Keys() {
			value, _ := parsed.Metadata.Get(key)
			fmt.Fprintf(&b, "- **%s:** %v\n", titleCase(key), value)
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n")
	b.WriteString("*Report generated by fwlens*\n")

	return b.String()
}

func writeEventSummary(b *strings.Builder, events []models.LogEvent) {
	b.WriteString("### Detected Events\n\n")

	counts := make(map[string]int)
	for _, event := range events {
		counts[string(event.EventType)]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, t := range types {
		fmt.Fprintf(b, "- **%s:** %d occurrence(s)\n", titleCase(t), counts[t])
	}
	b.WriteString("\n")
}

func writeEventDetails(b *strings.Builder, events []models.LogEvent) {
	b.WriteString("### Event Details\n\n")

	for i, event := range events {
		if i == maxDetailedEvents {
			break
		}
		fmt.Fprintf(b, "#### Event %d: %s\n\n", i+1, titleCase(string(event.EventType)))
		fmt.Fprintf(b, "- **Line:** %d\n", event.LineNumber)
		if event.Timestamp != "" {
			fmt.Fprintf(b, "- **Timestamp:** %s\n", event.Timestamp)
		}
		if event.FunctionName != "" {
			fmt.Fprintf(b, "- **Function:** %s\n", event.FunctionName)
		}
		if event.MemoryAddress != "" {
			fmt.Fprintf(b, "- **Address:** %s\n", event.MemoryAddress)
		}

		b.WriteString("\n**Message:**\n```\n")
		b.WriteString(event.Message)
		b.WriteString("\n```\n")

		if len(event.StackTrace) > 0 {
			b.WriteString("\n**Stack Trace:**\n```\n")
			for _, frame := range event.StackTrace {
				b.WriteString(frame)
				b.WriteString("\n")
			}
			b.WriteString("```\n")
		}
		b.WriteString("\n")
	}

	if len(events) > maxDetailedEvents {
		fmt.Fprintf(b, "*... and %d more events*\n\n", len(events)-maxDetailedEvents)
	}
}

func writeSymbolTable(b *strings.Builder, resolutions []models.SymbolResolution) {
	var resolved []models.SymbolResolution
	for _, r := range resolutions {
		if r.Resolved {
			resolved = append(resolved, r)
		}
	}
	if len(resolved) == 0 {
		return
	}

	b.WriteString("## Symbol Resolution\n\n")
	b.WriteString("| Address | Function | File | Line |\n")
	b.WriteString("|---------|----------|------|------|\n")
	for _, r := range resolved {
		function := r.FunctionName
		if function == "" {
			function = "N/A"
		}
		file := r.FileName
		if file == "" {
			file = "N/A"
		}
		line := "N/A"
		if r.LineNumber > 0 {
			line = fmt.Sprintf("%d", r.LineNumber)
		}
		fmt.Fprintf(b, "| %s | %s | %s | %s |\n", r.Address, function, file, line)
	}
	b.WriteString("\n")
}

// HTML renders the Markdown report as a standalone HTML page.
func (g *Generator) HTML(
	result models.AnalysisResult,
	parsed models.ParsedLog,
	resolutions []models.SymbolResolution,
	analysisID string,
) (string, error) {
	md := g.Markdown(result, parsed, resolutions, analysisID)

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("markdown conversion failed: %v", err)
	}

	return fmt.Sprintf(htmlTemplate, buf.String()), nil
}

// Save writes content under the reports dir as <analysisID>.<format> and
// returns the path it is served at.
func (g *Generator) Save(content, format, analysisID string) (string, error) {
	name := fmt.Sprintf("%s.%s", analysisID, format)
	path := filepath.Join(g.reportsDir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to save report: %v", err)
	}
	return "/reports/" + name, nil
}

// Dir returns the directory reports are written to.
func (g *Generator) Dir() string {
	return g.reportsDir
}

// titleCase turns an event_type-style identifier into a display label,
// e.g. "hard_fault" -> "Hard Fault".
func titleCase(s string) string {
	words := strings.Split(strings.ReplaceAll(s, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
