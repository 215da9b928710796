package parser

import (
	"reflect"
	"strings"
	"testing"

	"fwlens/pkg/models"
)

func TestParseLineNumbersAndRawLines(t *testing.T) {
	content := "  Hard Fault detected  \nnothing to see here\nWDT Reset triggered"
	parsed := New().Parse(content)

	if parsed.TotalLines != 3 {
		t.Fatalf("expected 3 total lines, got %d", parsed.TotalLines)
	}
	if len(parsed.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(parsed.Events))
	}

	first := parsed.Events[0]
	if first.RawLine != "Hard Fault detected" {
		t.Errorf("expected trimmed raw line, got %q", first.RawLine)
	}
	if first.Message != first.RawLine {
		t.Errorf("message %q should equal raw line %q", first.Message, first.RawLine)
	}
	if first.LineNumber != 1 {
		t.Errorf("expected line number 1, got %d", first.LineNumber)
	}
	if parsed.Events[1].LineNumber != 3 {
		t.Errorf("expected line number 3, got %d", parsed.Events[1].LineNumber)
	}
}

func TestTableOrderResolvesOverlappingMatches(t *testing.T) {
	// hard_fault is checked before panic, so a line containing both resolves
	// to hard_fault.
	parsed := New().Parse("HardFault_Handler: panic flag set")
	if len(parsed.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(parsed.Events))
	}
	if parsed.Events[0].EventType != models.EventHardFault {
		t.Errorf("expected hard_fault, got %s", parsed.Events[0].EventType)
	}

	// assertion_failure precedes panic in the table.
	parsed = New().Parse("panic: assertion failed in scheduler")
	if parsed.Events[0].EventType != models.EventAssertionFailure {
		t.Errorf("expected assertion_failure, got %s", parsed.Events[0].EventType)
	}
}

func TestStackShapedLineClassifiesAsCrash(t *testing.T) {
	parsed := New().Parse("register dump PC: 0x08001234")
	if len(parsed.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(parsed.Events))
	}
	event := parsed.Events[0]
	if event.EventType != models.EventCrash {
		t.Errorf("expected crash, got %s", event.EventType)
	}
	if event.MemoryAddress != "0x08001234" {
		t.Errorf("expected address 0x08001234, got %q", event.MemoryAddress)
	}
}

func TestUnmatchedLinesAreDroppedSilently(t *testing.T) {
	parsed := New().Parse("booting application v1.2.3\nloading configuration\nall systems nominal")
	if len(parsed.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(parsed.Events))
	}
	if len(parsed.ParsingErrors) != 0 {
		t.Fatalf("expected no parsing errors, got %v", parsed.ParsingErrors)
	}
	if parsed.TotalLines != 3 {
		t.Errorf("expected 3 total lines, got %d", parsed.TotalLines)
	}
}

func TestStackTraceGrouping(t *testing.T) {
	content := strings.Join([]string{
		"ERROR: HardFault_Handler triggered",
		"#0 0x08001234 in sensor_read()",
		"#1 0x08005678 in main_loop()",
	}, "\n")

	parsed := New().Parse(content)
	if len(parsed.Events) != 1 {
		t.Fatalf("expected 1 event after grouping, got %d", len(parsed.Events))
	}

	event := parsed.Events[0]
	if event.EventType != models.EventHardFault {
		t.Errorf("expected hard_fault, got %s", event.EventType)
	}
	want := []string{"#0 0x08001234 in sensor_read()", "#1 0x08005678 in main_loop()"}
	if !reflect.DeepEqual(event.StackTrace, want) {
		t.Errorf("expected stack trace %v, got %v", want, event.StackTrace)
	}
	if event.FunctionName != "" {
		t.Errorf("expected no function name on the primary event, got %q", event.FunctionName)
	}
}

func TestStackTraceGroupingResumesOnNextPrimaryEvent(t *testing.T) {
	content := strings.Join([]string{
		"Bus Fault at address decode",
		"at 0x08001234 in isr_handler()",
		"Watchdog Reset",
		"PC: 0x080099AA",
	}, "\n")

	parsed := New().Parse(content)
	if len(parsed.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(parsed.Events))
	}

	if parsed.Events[0].EventType != models.EventBusFault {
		t.Errorf("expected bus_fault, got %s", parsed.Events[0].EventType)
	}
	if len(parsed.Events[0].StackTrace) != 1 {
		t.Fatalf("expected 1 frame on bus_fault, got %v", parsed.Events[0].StackTrace)
	}

	// Trailing frames flush onto the last primary event at end of input.
	if parsed.Events[1].EventType != models.EventWatchdogReset {
		t.Errorf("expected watchdog_reset, got %s", parsed.Events[1].EventType)
	}
	if !reflect.DeepEqual(parsed.Events[1].StackTrace, []string{"PC: 0x080099AA"}) {
		t.Errorf("expected trailing frame on watchdog_reset, got %v", parsed.Events[1].StackTrace)
	}
}

func TestEventWithoutFramesHasNilStackTrace(t *testing.T) {
	parsed := New().Parse("sensor error on I2C bus")
	if len(parsed.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(parsed.Events))
	}
	if parsed.Events[0].StackTrace != nil {
		t.Errorf("expected nil stack trace, got %v", parsed.Events[0].StackTrace)
	}
}

func TestBlankLinesCountedButNotEmitted(t *testing.T) {
	parsed := New().Parse("Hard Fault\n\n\nWDT Reset\n")
	if parsed.TotalLines != 5 {
		t.Errorf("expected 5 total lines (trailing newline included), got %d", parsed.TotalLines)
	}
	if len(parsed.Events) != 2 {
		t.Errorf("expected 2 events, got %d", len(parsed.Events))
	}
	if len(parsed.ParsingErrors) != 0 {
		t.Errorf("expected no parsing errors, got %v", parsed.ParsingErrors)
	}
}

func TestTimestampExtraction(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{"2023-12-01 14:30:45 Hard Fault", "2023-12-01 14:30:45"},
		{"14:30:45.123 Bus Fault", "14:30:45.123"},
		{"[ 1234.567] kernel panic", "[ 1234.567]"},
		{"9042ms watchdog timeout", "9042ms"},
		{"14:30:45 assertion failed", "14:30:45"},
		{"Hard Fault with no timestamp", ""},
	}

	for _, tc := range cases {
		parsed := New().Parse(tc.line)
		if len(parsed.Events) != 1 {
			t.Fatalf("%q: expected 1 event, got %d", tc.line, len(parsed.Events))
		}
		if got := parsed.Events[0].Timestamp; got != tc.want {
			t.Errorf("%q: expected timestamp %q, got %q", tc.line, tc.want, got)
		}
	}
}

func TestFunctionNameExtraction(t *testing.T) {
	cases := []struct {
		line string
		want string
	}{
		{"Hard Fault in uart_send( at 0x08000000", "uart_send"},
		{"Hard Fault at dma_start(0x40001000)", "dma_start"},
		{"Hard Fault inside spi_poll()", "spi_poll"},
		{"Hard Fault from function flash_erase", "flash_erase"},
		{"Hard Fault with no call site", ""},
	}

	for _, tc := range cases {
		parsed := New().Parse(tc.line)
		if len(parsed.Events) != 1 {
			t.Fatalf("%q: expected 1 event, got %d", tc.line, len(parsed.Events))
		}
		if got := parsed.Events[0].FunctionName; got != tc.want {
			t.Errorf("%q: expected function %q, got %q", tc.line, tc.want, got)
		}
	}
}

func TestParseJSONArray(t *testing.T) {
	content := `[
		{"message": "HardFault_Handler invoked", "timestamp": "2023-12-01T14:30:45Z"},
		{"message": "all quiet", "level": "info"},
		{"message": "subsystem wedged", "level": "fatal", "function": "i2c_xfer", "file": "i2c.c"}
	]`

	parsed := New().ParseJSON(content)
	if parsed.TotalLines != 3 {
		t.Fatalf("expected total_lines 3, got %d", parsed.TotalLines)
	}

	if parsed.Events[0].EventType != models.EventHardFault {
		t.Errorf("expected hard_fault, got %s", parsed.Events[0].EventType)
	}
	if parsed.Events[0].Timestamp != "2023-12-01T14:30:45Z" {
		t.Errorf("unexpected timestamp %q", parsed.Events[0].Timestamp)
	}

	// No pattern match and an unremarkable level stays unknown.
	if parsed.Events[1].EventType != models.EventUnknown {
		t.Errorf("expected unknown, got %s", parsed.Events[1].EventType)
	}

	// No pattern match but a fatal level upgrades to crash; function and
	// file fields are carried through verbatim.
	third := parsed.Events[2]
	if third.EventType != models.EventCrash {
		t.Errorf("expected crash, got %s", third.EventType)
	}
	if third.FunctionName != "i2c_xfer" || third.FileName != "i2c.c" {
		t.Errorf("expected function/file carried through, got %q/%q", third.FunctionName, third.FileName)
	}

	for i, event := range parsed.Events {
		if event.LineNumber != i+1 {
			t.Errorf("entry %d: expected sequential number %d, got %d", i, i+1, event.LineNumber)
		}
	}
}

func TestParseJSONLogsObjectAndSingleEntry(t *testing.T) {
	parsed := New().ParseJSON(`{"logs": [{"message": "Bus Fault on AHB"}, {"message": "boot failed"}]}`)
	if len(parsed.Events) != 2 {
		t.Fatalf("expected 2 events from logs array, got %d", len(parsed.Events))
	}
	if parsed.Events[1].EventType != models.EventBootFailure {
		t.Errorf("expected boot_failure, got %s", parsed.Events[1].EventType)
	}

	parsed = New().ParseJSON(`{"message": "kernel panic", "time": "08:11:22"}`)
	if len(parsed.Events) != 1 {
		t.Fatalf("expected 1 event from single object, got %d", len(parsed.Events))
	}
	if parsed.Events[0].EventType != models.EventPanic {
		t.Errorf("expected panic, got %s", parsed.Events[0].EventType)
	}
	if parsed.Events[0].Timestamp != "08:11:22" {
		t.Errorf("expected fallback to time field, got %q", parsed.Events[0].Timestamp)
	}
}

func TestParseJSONLogsKeyNotAnArray(t *testing.T) {
	parsed := New().ParseJSON(`{"logs": "Hard Fault at startup"}`)
	if len(parsed.Events) != 0 {
		t.Fatalf("expected no events for a non-array logs value, got %d", len(parsed.Events))
	}
	if len(parsed.ParsingErrors) != 1 || !strings.Contains(parsed.ParsingErrors[0], "not an array") {
		t.Errorf("expected a parsing error naming the bad logs value, got %v", parsed.ParsingErrors)
	}
}

func TestParseJSONMalformed(t *testing.T) {
	parsed := New().ParseJSON(`{"logs": [`)
	if parsed.TotalLines != 0 {
		t.Errorf("expected total_lines 0, got %d", parsed.TotalLines)
	}
	if len(parsed.Events) != 0 {
		t.Errorf("expected no events, got %d", len(parsed.Events))
	}
	if len(parsed.ParsingErrors) != 1 {
		t.Fatalf("expected exactly 1 parsing error, got %v", parsed.ParsingErrors)
	}
	if !strings.Contains(parsed.ParsingErrors[0], "JSON parsing error") {
		t.Errorf("expected decode failure description, got %q", parsed.ParsingErrors[0])
	}
}

func TestParseJSONNonObjectEntryRecorded(t *testing.T) {
	parsed := New().ParseJSON(`[{"message": "Hard Fault"}, 42]`)
	if len(parsed.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(parsed.Events))
	}
	if len(parsed.ParsingErrors) != 1 {
		t.Fatalf("expected 1 parsing error for the non-object entry, got %v", parsed.ParsingErrors)
	}
}

func TestParseIsIdempotent(t *testing.T) {
	content := strings.Join([]string{
		"2023-12-01 14:30:45 HardFault_Handler",
		"#0 0x08001234 in sensor_read()",
		"",
		"assertion failed in main()",
		"noise line",
	}, "\n")

	p := New()
	a := p.Parse(content)
	b := p.Parse(content)

	if len(a.Events) != len(b.Events) {
		t.Fatalf("event counts differ: %d vs %d", len(a.Events), len(b.Events))
	}
	for i := range a.Events {
		x, y := a.Events[i], b.Events[i]
		if x.EventType != y.EventType || x.LineNumber != y.LineNumber ||
			x.Message != y.Message || x.MemoryAddress != y.MemoryAddress ||
			x.FunctionName != y.FunctionName || !reflect.DeepEqual(x.StackTrace, y.StackTrace) {
			t.Errorf("event %d differs between parses: %+v vs %+v", i, x, y)
		}
	}
}

func TestConcurrentParsesAreIndependent(t *testing.T) {
	p := New()
	content := "Hard Fault\nPC: 0x08001234\nWDT Reset"

	done := make(chan models.ParsedLog, 8)
	for i := 0; i < 8; i++ {
		go func() { done <- p.Parse(content) }()
	}
	for i := 0; i < 8; i++ {
		parsed := <-done
		if len(parsed.Events) != 2 {
			t.Errorf("concurrent parse returned %d events, want 2", len(parsed.Events))
		}
	}
}
