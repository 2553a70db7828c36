package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Recorder receives one entry per corrective action
type Recorder interface {
	Record(ctx context.Context, entry *Entry) error
}

// Entry is a single audited action
type Entry struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	Task      string         `json:"task"`
	Action    string         `json:"action"`
	AgentID   string         `json:"agent_id,omitempty"`
	AgentType string         `json:"agent_type,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	Component string
	Task      string
	AgentID   string
	Since     *time.Time
	Until     *time.Time
	Success   *bool
	Limit     int
	Offset    int
}

// Stats holds audit statistics
type Stats struct {
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	ErrorRate       float64       `json:"error_rate"`
	AverageDuration time.Duration `json:"average_duration"`
}

// SQLiteLogger implements Recorder using SQLite
type SQLiteLogger struct {
	db *sql.DB
}

// NewSQLiteLogger opens (or creates) the audit database at dbPath.
// ":memory:" opens a private in-memory database.
func NewSQLiteLogger(dbPath string) (*SQLiteLogger, error) {
	if strings.HasPrefix(dbPath, "~/") {
		home, _ := os.UserHomeDir()
		dbPath = filepath.Join(home, dbPath[2:])
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	logger := &SQLiteLogger{db: db}
	if err := logger.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return logger, nil
}

func (a *SQLiteLogger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		component TEXT NOT NULL,
		task TEXT NOT NULL,
		action TEXT NOT NULL,
		agent_id TEXT,
		agent_type TEXT,
		success BOOLEAN,
		error TEXT,
		duration_ms INTEGER,
		details TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_task ON audit_log(task);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_log(agent_id);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Record implements Recorder
func (a *SQLiteLogger) Record(ctx context.Context, entry *Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	details := "{}"
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
		details = string(data)
	}

	res, err := a.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			timestamp, component, task, action, agent_id, agent_type,
			success, error, duration_ms, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC(),
		entry.Component,
		entry.Task,
		entry.Action,
		entry.AgentID,
		entry.AgentType,
		entry.Success,
		entry.Error,
		entry.Duration.Milliseconds(),
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// Query retrieves entries, newest first
func (a *SQLiteLogger) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	query := "SELECT id, timestamp, component, task, action, agent_id, agent_type, success, error, duration_ms, details FROM audit_log WHERE 1=1"
	var args []any

	if filter.Component != "" {
		query += " AND component = ?"
		args = append(args, filter.Component)
	}
	if filter.Task != "" {
		query += " AND task = ?"
		args = append(args, filter.Task)
	}
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.Since != nil {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}
	if filter.Until != nil {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UTC())
	}
	if filter.Success != nil {
		query += " AND success = ?"
		args = append(args, *filter.Success)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			entry      Entry
			durationMs int64
			details    sql.NullString
			agentID    sql.NullString
			agentType  sql.NullString
			errText    sql.NullString
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.Component,
			&entry.Task,
			&entry.Action,
			&agentID,
			&agentType,
			&entry.Success,
			&errText,
			&durationMs,
			&details,
		); err != nil {
			return nil, err
		}

		entry.AgentID = agentID.String
		entry.AgentType = agentType.String
		entry.Error = errText.String
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		if details.Valid && details.String != "{}" {
			_ = json.Unmarshal([]byte(details.String), &entry.Details)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Stats summarises entries for task since the given time; empty task matches all
func (a *SQLiteLogger) Stats(ctx context.Context, task string, since time.Time) (*Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			AVG(duration_ms)
		FROM audit_log
		WHERE timestamp >= ? AND (? = '' OR task = ?)
	`

	var (
		stats       Stats
		avgDuration sql.NullFloat64
	)
	err := a.db.QueryRowContext(ctx, query, since.UTC(), task, task).Scan(
		&stats.Total,
		&stats.Successful,
		&avgDuration,
	)
	if err != nil {
		return nil, fmt.Errorf("audit stats failed: %w", err)
	}

	if avgDuration.Valid {
		stats.AverageDuration = time.Duration(avgDuration.Float64 * float64(time.Millisecond))
	}
	if stats.Total > 0 {
		stats.ErrorRate = float64(stats.Total-stats.Successful) / float64(stats.Total)
	}
	return &stats, nil
}

// Close closes the database connection
func (a *SQLiteLogger) Close() error {
	return a.db.Close()
}
