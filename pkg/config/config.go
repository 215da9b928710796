package config

import (
	"encoding/json"
	"os"
)

type Config struct {
	ServerPort          int      `json:"server_port"`
	LLMProvider         string   `json:"llm_provider"`
	GeminiAPIKey        string   `json:"gemini_api_key"`
	GeminiModel         string   `json:"gemini_model"`
	OllamaURL           string   `json:"ollama_url"`
	OllamaModel         string   `json:"ollama_model"`
	Addr2linePath       string   `json:"addr2line_path"`
	ReportsDir          string   `json:"reports_dir"`
	UploadDir           string   `json:"upload_dir"`
	HistoryDB           string   `json:"history_db"`
	MaxFileSize         int64    `json:"max_file_size"`
	MaxLogBytes         int64    `json:"max_log_bytes"`
	MaxELFBytes         int64    `json:"max_elf_bytes"`
	AllowedLogExts      []string `json:"allowed_log_extensions"`
	AllowedELFExts      []string `json:"allowed_elf_extensions"`
	SessionTimeoutHours int      `json:"session_timeout_hours"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		ServerPort:          8080,
		LLMProvider:         "gemini",
		GeminiAPIKey:        os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         "gemini-3-flash-preview",
		OllamaURL:           "http://localhost:11434",
		OllamaModel:         "phi4-mini",
		Addr2linePath:       "addr2line",
		ReportsDir:          "./reports",
		UploadDir:           "./uploads",
		HistoryDB:           "./fwlens.db",
		MaxFileSize:         50 * 1024 * 1024,
		MaxLogBytes:         10 * 1024 * 1024,
		MaxELFBytes:         50 * 1024 * 1024,
		AllowedLogExts:      []string{".log", ".txt", ".json"},
		AllowedELFExts:      []string{".elf", ".bin"},
		SessionTimeoutHours: 24,
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if file doesn't exist
		}
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
