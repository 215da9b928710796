package history

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"fwlens/pkg/models"
)

// Record is one completed analysis and the user's verdict on it.
type Record struct {
	ID          int64
	Timestamp   time.Time
	AnalysisID  string
	Criticality string
	Confidence  float64
	Summary     string
	EventCount  int
	Feedback    int // 0 = none, 1 = good, -1 = bad
}

// Store persists completed analyses in SQLite so feedback can be attached
// after the fact.
type Store struct {
	sqlDB *sql.DB
}

// Open creates or opens the analysis history database.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %v", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS analyses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
		analysis_id TEXT NOT NULL UNIQUE,
		criticality TEXT NOT NULL,
		confidence REAL NOT NULL,
		summary TEXT,
		event_count INTEGER DEFAULT 0,
		feedback INTEGER DEFAULT 0
	);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %v", err)
	}

	return &Store{sqlDB: db}, nil
}

// Insert records a completed analysis.
func (s *Store) Insert(response models.AnalysisResponse) error {
	insertSQL := `
	INSERT INTO analyses (analysis_id, criticality, confidence, summary, event_count)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.sqlDB.Exec(insertSQL,
		response.AnalysisID,
		string(response.AnalysisResult.CriticalityLevel),
		response.AnalysisResult.ConfidenceScore,
		response.AnalysisResult.Summary,
		len(response.ParsedLog.Events),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %v", err)
	}

	log.Printf("Analysis recorded [ID: %s] criticality=%s", response.AnalysisID, response.AnalysisResult.CriticalityLevel)
	return nil
}

// UpdateFeedback sets the user feedback for an analysis id.
func (s *Store) UpdateFeedback(analysisID string, feedback int) error {
	res, err := s.sqlDB.Exec(`UPDATE analyses SET feedback = ? WHERE analysis_id = ?`, feedback, analysisID)
	if err != nil {
		return err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("analysis %s not found", analysisID)
	}

	log.Printf("Feedback recorded [ID: %s] feedback=%d", analysisID, feedback)
	return nil
}

// Recent returns the most recent analyses, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.sqlDB.Query(`
		SELECT id, timestamp, analysis_id, criticality, confidence, summary, event_count, feedback
		FROM analyses ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.AnalysisID, &r.Criticality,
			&r.Confidence, &r.Summary, &r.EventCount, &r.Feedback); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.sqlDB != nil {
		return s.sqlDB.Close()
	}
	return nil
}
