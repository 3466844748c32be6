// Package history provides SQLite-backed persistence for request records.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nolight-dev/nolight/internal/domain"
)

// ErrTerminal is returned when an update targets a record that has already
// reached a terminal status. Terminal records are immutable.
var ErrTerminal = fmt.Errorf("request record is terminal")

// Store provides SQLite-backed request persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts a new request record
func (s *Store) Save(rec *domain.RequestRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO requests (id, prompt, model, status, commit_id, description, files_changed, lines_changed, cost_usd, failure_reason, exit_code, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Prompt,
		rec.Model,
		string(rec.Status),
		rec.CommitID,
		rec.Description,
		rec.FilesChanged,
		rec.LinesChanged,
		rec.CostUSD,
		rec.FailureReason,
		rec.ExitCode,
		rec.StartedAt,
		rec.FinishedAt,
	)
	return err
}

// UpdateStatus updates the status of an in-flight request. Updating a
// record that already reached a terminal status returns ErrTerminal.
func (s *Store) UpdateStatus(id string, status domain.RequestStatus) error {
	current, err := s.Get(id)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return ErrTerminal
	}

	_, err = s.db.Exec(`UPDATE requests SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// Complete finalizes a request record with its terminal state. Further
// updates are rejected.
func (s *Store) Complete(rec *domain.RequestRecord) error {
	current, err := s.Get(rec.ID)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return ErrTerminal
	}

	_, err = s.db.Exec(`
		UPDATE requests
		SET status = ?, commit_id = ?, description = ?, files_changed = ?, lines_changed = ?, cost_usd = ?, failure_reason = ?, exit_code = ?, finished_at = ?
		WHERE id = ?
	`,
		string(rec.Status),
		rec.CommitID,
		rec.Description,
		rec.FilesChanged,
		rec.LinesChanged,
		rec.CostUSD,
		rec.FailureReason,
		rec.ExitCode,
		rec.FinishedAt,
		rec.ID,
	)
	return err
}

// Get retrieves a request record by id
func (s *Store) Get(id string) (*domain.RequestRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, prompt, model, status, commit_id, description, files_changed, lines_changed, cost_usd, failure_reason, exit_code, started_at, finished_at
		FROM requests WHERE id = ?
	`, id)
	return scanRequest(row)
}

// ListOptions specifies filters for listing request records
type ListOptions struct {
	Status domain.RequestStatus
	Limit  int
}

// List returns request records, newest first
func (s *Store) List(opts ListOptions) ([]*domain.RequestRecord, error) {
	query := `SELECT id, prompt, model, status, commit_id, description, files_changed, lines_changed, cost_usd, failure_reason, exit_code, started_at, finished_at FROM requests WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.RequestRecord
	for rows.Next() {
		rec, err := scanRequestRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// SessionCost returns the total dollar cost of requests started at or
// after the given time.
func (s *Store) SessionCost(since time.Time) (float64, error) {
	row := s.db.QueryRow(`SELECT COALESCE(SUM(cost_usd), 0) FROM requests WHERE started_at >= ?`, since)
	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// ToTSV renders records as tab-separated text for clipboard export.
func ToTSV(records []*domain.RequestRecord) string {
	var b strings.Builder
	b.WriteString("request_id\tcommit_id\tlines\tfiles\tcost\tfailure_reason\tdescription\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "%s\t%s\t%d\t%d\t%.4f\t%s\t%s\n",
			rec.ShortID(),
			rec.ShortCommit(),
			rec.LinesChanged,
			rec.FilesChanged,
			rec.CostUSD,
			rec.FailureReason,
			rec.Description,
		)
	}
	return b.String()
}

func scanRequest(row *sql.Row) (*domain.RequestRecord, error) {
	var rec domain.RequestRecord
	var status string
	var commitID, description, failureReason sql.NullString
	var exitCode sql.NullInt64
	var finishedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.Prompt, &rec.Model, &status, &commitID, &description, &rec.FilesChanged, &rec.LinesChanged, &rec.CostUSD, &failureReason, &exitCode, &rec.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	fillRequest(&rec, status, commitID, description, failureReason, exitCode, finishedAt)
	return &rec, nil
}

func scanRequestRows(rows *sql.Rows) (*domain.RequestRecord, error) {
	var rec domain.RequestRecord
	var status string
	var commitID, description, failureReason sql.NullString
	var exitCode sql.NullInt64
	var finishedAt sql.NullTime

	err := rows.Scan(&rec.ID, &rec.Prompt, &rec.Model, &status, &commitID, &description, &rec.FilesChanged, &rec.LinesChanged, &rec.CostUSD, &failureReason, &exitCode, &rec.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	fillRequest(&rec, status, commitID, description, failureReason, exitCode, finishedAt)
	return &rec, nil
}

func fillRequest(rec *domain.RequestRecord, status string, commitID, description, failureReason sql.NullString, exitCode sql.NullInt64, finishedAt sql.NullTime) {
	rec.Status = domain.RequestStatus(status)
	if commitID.Valid {
		rec.CommitID = commitID.String
	}
	if description.Valid {
		rec.Description = description.String
	}
	if failureReason.Valid {
		rec.FailureReason = failureReason.String
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		rec.FinishedAt = &t
	}
}
