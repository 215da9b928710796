package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"fwlens/pkg/analysis"
	"fwlens/pkg/chat"
	"fwlens/pkg/config"
	"fwlens/pkg/elfsym"
	"fwlens/pkg/gemini"
	"fwlens/pkg/history"
	"fwlens/pkg/llm"
	"fwlens/pkg/models"
	"fwlens/pkg/ollama"
	"fwlens/pkg/report"
	"fwlens/pkg/sysinfo"
)

const version = "1.0.0"

type TextAnalysisRequest struct {
	LogContent string `json:"log_content"`
}

type FeedbackRequest struct {
	AnalysisID string `json:"analysis_id"`
	Feedback   string `json:"feedback"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func main() {
	configPath := flag.String("config", "config.json", "Path to config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	provider := flag.String("provider", "", "LLM provider: gemini, ollama, none (overrides config)")
	apiKey := flag.String("key", "", "Gemini API key (overrides config and GEMINI_API_KEY)")
	modelName := flag.String("model", "", "Model name (overrides config)")
	reportsDir := flag.String("reports-dir", "", "Reports output directory (overrides config)")
	addr2line := flag.String("addr2line", "", "Path to addr2line binary (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.ServerPort = *port
	}
	if *provider != "" {
		cfg.LLMProvider = *provider
	}
	if *apiKey != "" {
		cfg.GeminiAPIKey = *apiKey
	}
	if *modelName != "" {
		if cfg.LLMProvider == "ollama" {
			cfg.OllamaModel = *modelName
		} else {
			cfg.GeminiModel = *modelName
		}
	}
	if *reportsDir != "" {
		cfg.ReportsDir = *reportsDir
	}
	if *addr2line != "" {
		cfg.Addr2linePath = *addr2line
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var llmProvider llm.Provider
	switch cfg.LLMProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			log.Println("No Gemini API key configured, LLM analysis disabled (rule-based fallback only)")
		} else {
			client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
			if err != nil {
				log.Fatalf("failed to create gemini client: %v", err)
			}
			llmProvider = client
			log.Printf("Using Gemini Provider (Model: %s)", cfg.GeminiModel)
		}
	case "ollama":
		llmProvider = ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel)
		log.Printf("Using Ollama Provider (Model: %s)", cfg.OllamaModel)
	case "none", "":
		log.Println("No LLM provider configured, using rule-based analysis")
	default:
		log.Fatalf("Unknown provider: %s", cfg.LLMProvider)
	}

	resolver := elfsym.NewResolver(cfg.Addr2linePath)
	if resolver.Available() {
		log.Printf("Symbol resolution enabled (addr2line: %s)", resolver.ToolPath())
	} else {
		log.Println("addr2line not found, symbol resolution disabled")
	}

	reports, err := report.NewGenerator(cfg.ReportsDir)
	if err != nil {
		log.Fatalf("failed to create reports directory: %v", err)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		log.Fatalf("failed to create upload directory: %v", err)
	}

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		log.Fatalf("failed to open history database: %v", err)
	}
	defer store.Close()

	service := analysis.NewService(resolver, llmProvider, reports, store)
	sessions := chat.NewSessionManager(time.Duration(cfg.SessionTimeoutHours) * time.Hour)
	engine := chat.NewEngine(sessions, llmProvider)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if n := sessions.CleanupExpired(); n > 0 {
				log.Printf("Cleaned up %d expired chat sessions", n)
			}
		}
	}()

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"service": "fwlens",
			"version": version,
			"endpoints": []string{
				"/health", "/capabilities", "/analyze-log", "/analyze-text",
				"/reports/", "/download-report/", "/feedback",
				"/chat/session", "/chat/message", "/chat/history", "/chat/stats",
				"/chat/suggestions", "/chat/context", "/chat/search",
				"/chat/export", "/chat/reset",
			},
		})
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, models.HealthCheck{
			Status:        "healthy",
			Timestamp:     time.Now(),
			Version:       version,
			LLMConfigured: llmProvider != nil && llmProvider.Available(),
			System:        sysinfo.Snapshot(),
		})
	})

	http.HandleFunc("/capabilities", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, service.Capabilities())
	})

	http.HandleFunc("/analyze-log", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if err := r.ParseMultipartForm(cfg.MaxFileSize); err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
			return
		}

		logContent, filename, err := readUpload(r, "log_file", cfg.AllowedLogExts, cfg.MaxLogBytes)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		var elfContent []byte
		if len(r.MultipartForm.File["elf_file"]) > 0 {
			elfContent, _, err = readUpload(r, "elf_file", cfg.AllowedELFExts, cfg.MaxELFBytes)
			if err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		req := models.AnalysisRequest{LogContent: string(logContent), ELFContent: elfContent}
		if err := analysis.ValidateRequest(req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		log.Printf("Analyzing uploaded log %s (%d bytes, ELF: %v)", filename, len(logContent), len(elfContent) > 0)
		resp := service.Analyze(r.Context(), req.LogContent, req.ELFContent)

		savedPath := filepath.Join(cfg.UploadDir, resp.AnalysisID+filepath.Ext(filename))
		if err := os.WriteFile(savedPath, logContent, 0644); err != nil {
			log.Printf("failed to save uploaded log: %v", err)
		}

		// An upload can be tied to a chat session so the assistant sees it.
		if sessionID := r.FormValue("session_id"); sessionID != "" {
			sessions.AttachAnalysis(sessionID, resp.AnalysisID)
			sessions.AttachLog(sessionID, filename)
			sessions.UpdateContext(sessionID, map[string]any{
				"last_analysis_summary": resp.AnalysisResult.Summary,
			})
		}

		respondJSON(w, http.StatusOK, resp)
	})

	http.HandleFunc("/analyze-text", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req TextAnalysisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := analysis.ValidateRequest(models.AnalysisRequest{LogContent: req.LogContent}); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		resp := service.Analyze(r.Context(), req.LogContent, nil)
		respondJSON(w, http.StatusOK, resp)
	})

	http.Handle("/reports/", http.StripPrefix("/reports/", http.FileServer(http.Dir(reports.Dir()))))
	http.HandleFunc("/download-report/", downloadReportHandler(reports.Dir()))

	http.HandleFunc("/feedback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var score int
		switch req.Feedback {
		case "good":
			score = 1
		case "bad":
			score = -1
		default:
			respondError(w, http.StatusBadRequest, "feedback must be 'good' or 'bad'")
			return
		}

		if err := store.UpdateFeedback(req.AnalysisID, score); err != nil {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	})

	http.HandleFunc("/chat/session", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req struct {
				UserID string `json:"user_id"`
			}
			json.NewDecoder(r.Body).Decode(&req)

			sessionID := sessions.Create(req.UserID)
			respondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
		case http.MethodDelete:
			sessionID := r.URL.Query().Get("session_id")
			if !sessions.Delete(sessionID) {
				respondError(w, http.StatusNotFound, "session not found")
				return
			}
			respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	http.HandleFunc("/chat/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !sessions.Reset(req.SessionID) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	})

	http.HandleFunc("/chat/suggestions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req struct {
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		suggestions, err := engine.SuggestFollowUps(req.SessionID)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"session_id": req.SessionID, "suggestions": suggestions})
	})

	http.HandleFunc("/chat/context", func(w http.ResponseWriter, r *http.Request) {
		session := sessions.Get(r.URL.Query().Get("session_id"))
		if session == nil {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"session_id":       session.ID,
			"context":          session.Context,
			"analysis_reports": session.AnalysisIDs,
			"uploaded_logs":    session.UploadedLogs,
		})
	})

	http.HandleFunc("/chat/search", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		query := r.URL.Query().Get("q")
		if query == "" {
			respondError(w, http.StatusBadRequest, "q is required")
			return
		}

		matches := sessions.Search(sessionID, query)
		if matches == nil {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "matches": matches})
	})

	http.HandleFunc("/chat/export", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")

		switch r.URL.Query().Get("format") {
		case "", "json":
			raw, err := sessions.ExportJSON(sessionID)
			if err != nil {
				respondError(w, http.StatusNotFound, err.Error())
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "session-"+sessionID+".json"))
			w.Write(raw)
		case "markdown", "md":
			md, err := sessions.ExportMarkdown(sessionID)
			if err != nil {
				respondError(w, http.StatusNotFound, err.Error())
				return
			}
			w.Header().Set("Content-Type", "text/markdown")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "session-"+sessionID+".md"))
			w.Write([]byte(md))
		default:
			respondError(w, http.StatusBadRequest, "format must be 'json' or 'markdown'")
		}
	})

	http.HandleFunc("/chat/message", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req struct {
			SessionID   string `json:"session_id"`
			Message     string `json:"message"`
			ContextType string `json:"context_type"`
			AnalysisID  string `json:"analysis_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			respondError(w, http.StatusBadRequest, "message cannot be empty")
			return
		}
		if req.AnalysisID != "" {
			sessions.AttachAnalysis(req.SessionID, req.AnalysisID)
		}

		reply, err := engine.Process(req.SessionID, req.Message, req.ContextType)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"response": reply, "session_id": req.SessionID})
	})

	http.HandleFunc("/chat/history", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			respondError(w, http.StatusBadRequest, "session_id is required")
			return
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		messages := sessions.History(sessionID, limit)
		if messages == nil {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": messages})
	})

	http.HandleFunc("/chat/stats", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, sessions.Stats())
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ServerPort)}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting fwlens server on port %d...", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down fwlens server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("fwlens server stopped.")
}

// downloadReportHandler serves a saved report as a file attachment, unlike
// the /reports/ file server which renders inline.
func downloadReportHandler(reportsDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/download-report/")
		if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
			respondError(w, http.StatusBadRequest, "invalid analysis id")
			return
		}

		format := r.URL.Query().Get("format")
		if format == "" {
			format = "md"
		}
		if format != "md" && format != "html" {
			respondError(w, http.StatusBadRequest, "format must be 'md' or 'html'")
			return
		}

		name := id + "." + format
		path := filepath.Join(reportsDir, name)
		if _, err := os.Stat(path); err != nil {
			respondError(w, http.StatusNotFound, "report not found")
			return
		}

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		http.ServeFile(w, r, path)
	}
}

// readUpload fetches one multipart file, checking its extension and size.
func readUpload(r *http.Request, field string, allowedExts []string, maxBytes int64) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%s is required", field)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	allowed := false
	for _, e := range allowedExts {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, "", fmt.Errorf("%s: unsupported file type %q (allowed: %s)", field, ext, strings.Join(allowedExts, ", "))
	}

	content, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %v", field, err)
	}
	if int64(len(content)) > maxBytes {
		return nil, "", fmt.Errorf("%s too large (max %d bytes)", field, maxBytes)
	}

	return content, header.Filename, nil
}

func respondJSON(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	log.Println("Error:", msg)
	respondJSON(w, status, ErrorResponse{Error: msg})
}
