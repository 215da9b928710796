package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownloadReportHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "abc12345.md"), []byte("# Firmware Log Analysis Report\n"), 0644); err != nil {
		t.Fatal(err)
	}

	handler := downloadReportHandler(dir)

	req := httptest.NewRequest(http.MethodGet, "/download-report/abc12345", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `attachment`) || !strings.Contains(cd, "abc12345.md") {
		t.Errorf("expected attachment disposition naming the file, got %q", cd)
	}
	if !strings.Contains(rec.Body.String(), "Firmware Log Analysis Report") {
		t.Errorf("expected report content, got %q", rec.Body.String())
	}
}

func TestDownloadReportHandlerMissingAndInvalid(t *testing.T) {
	handler := downloadReportHandler(t.TempDir())

	cases := []struct {
		path string
		want int
	}{
		{"/download-report/no-such-id", http.StatusNotFound},
		{"/download-report/", http.StatusBadRequest},
		{"/download-report/..%2Fsecret", http.StatusBadRequest},
		{"/download-report/abc12345?format=pdf", http.StatusBadRequest},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.path, nil)
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != c.want {
			t.Errorf("%s: expected %d, got %d", c.path, c.want, rec.Code)
		}
	}
}
