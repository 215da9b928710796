package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"fwlens/pkg/models"
)

func main() {
	serverAddr := flag.String("server", "http://localhost:8080", "fwlens server address")
	elfPath := flag.String("elf", "", "Optional ELF binary for symbol resolution")
	feedbackPtr := flag.String("feedback", "", "Provide feedback on a previous analysis ('good' or 'bad')")
	idPtr := flag.String("id", "", "The Analysis ID to provide feedback for")
	flag.Parse()

	if *feedbackPtr != "" {
		if *idPtr == "" {
			fmt.Println("Error: --id is required when providing --feedback")
			os.Exit(1)
		}

		feedback := strings.ToLower(*feedbackPtr)
		if feedback != "good" && feedback != "bad" {
			fmt.Println("Error: --feedback must be 'good' or 'bad'")
			os.Exit(1)
		}

		sendFeedback(*serverAddr, *idPtr, feedback)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Println("Usage: fwlens-cli [--server URL] [--elf firmware.elf] <logfile> [firmware.elf]")
		fmt.Println("       fwlens-cli --id <analysis-id> --feedback good|bad")
		os.Exit(1)
	}

	elf := *elfPath
	if elf == "" && len(args) > 1 {
		elf = args[1]
	}

	analyzeLog(*serverAddr, args[0], elf)
}

func analyzeLog(serverAddr, logPath, elfPath string) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := attachFile(writer, "log_file", logPath); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if elfPath != "" {
		if err := attachFile(writer, "elf_file", elfPath); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}
	writer.Close()

	resp, err := http.Post(fmt.Sprintf("%s/analyze-log", serverAddr), writer.FormDataContentType(), &body)
	if err != nil {
		fmt.Printf("Error contacting server at %s: %v\n", serverAddr, err)
		fmt.Println("Is the fwlens-server running?")
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading response: %v\n", err)
		os.Exit(1)
	}

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Server returned error (Status %d): %s\n", resp.StatusCode, string(respBody))
		os.Exit(1)
	}

	var analysis models.AnalysisResponse
	if err := json.Unmarshal(respBody, &analysis); err != nil {
		fmt.Printf("Error parsing response: %v\n", err)
		os.Exit(1)
	}

	if analysis.MarkdownReport != "" {
		fmt.Println(analysis.MarkdownReport)
	} else {
		fmt.Println("\n--- Firmware Log Analysis ---")
		fmt.Printf("Summary: %s\n", analysis.AnalysisResult.Summary)
		fmt.Printf("Suggested fix: %s\n", analysis.AnalysisResult.SuggestedFix)
		fmt.Printf("Criticality: %s\n", analysis.AnalysisResult.CriticalityLevel)
	}

	if analysis.ReportURL != "" {
		fmt.Printf("\nHTML report: %s%s\n", serverAddr, analysis.ReportURL)
	}
	fmt.Printf("[Analysis ID: %s] To provide feedback, use: fwlens-cli --id %s --feedback good|bad\n", analysis.AnalysisID, analysis.AnalysisID)
}

func attachFile(writer *multipart.Writer, field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open %s: %v", path, err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("cannot build request: %v", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("cannot read %s: %v", path, err)
	}
	return nil
}

func sendFeedback(serverAddr, analysisID, feedback string) {
	reqBody := fmt.Sprintf(`{"analysis_id": %q, "feedback": %q}`, analysisID, feedback)

	resp, err := http.Post(fmt.Sprintf("%s/feedback", serverAddr), "application/json", strings.NewReader(reqBody))
	if err != nil {
		fmt.Printf("Error sending feedback: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Printf("Server returned error (Status %d): %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}

	fmt.Printf("Feedback recorded for Analysis ID: %s\n", analysisID)
}
