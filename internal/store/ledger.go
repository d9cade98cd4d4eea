package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/carcrashlawyerai/backend/internal/model"
)

// LedgerStore manages the append-only processing log and retry queue. Rows
// are only ever inserted; both tables are safe under concurrent append.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const logCols = `id, doc_id, outcome, recipient, pdf_url, backup_link, error, processed_at`

func scanLogEntry(scanner interface{ Scan(...any) error }) (*model.ProcessingLogEntry, error) {
	var e model.ProcessingLogEntry
	err := scanner.Scan(&e.ID, &e.DocID, &e.Outcome, &e.Recipient, &e.PDFURL, &e.BackupLink, &e.Error, &e.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// AppendSuccess records a successful pipeline attempt.
func (s *LedgerStore) AppendSuccess(docID, recipient, pdfURL, backupLink string) (*model.ProcessingLogEntry, error) {
	result, err := s.db.Exec(
		`INSERT INTO processing_log (doc_id, outcome, recipient, pdf_url, backup_link, processed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		docID, model.OutcomeSuccess, recipient, pdfURL, backupLink, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("append success entry: %w", err)
	}
	return s.getLogEntry(result)
}

// AppendFailure records a failed pipeline attempt.
func (s *LedgerStore) AppendFailure(docID, errMsg string) (*model.ProcessingLogEntry, error) {
	result, err := s.db.Exec(
		`INSERT INTO processing_log (doc_id, outcome, error, processed_at) VALUES (?, ?, ?, ?)`,
		docID, model.OutcomeFailed, errMsg, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("append failure entry: %w", err)
	}
	return s.getLogEntry(result)
}

func (s *LedgerStore) getLogEntry(result sql.Result) (*model.ProcessingLogEntry, error) {
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+logCols+` FROM processing_log WHERE id = ?`, id)
	return scanLogEntry(row)
}

// ListByDocID returns all ledger entries for a document, oldest first.
func (s *LedgerStore) ListByDocID(docID string) ([]model.ProcessingLogEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+logCols+` FROM processing_log WHERE doc_id = ? ORDER BY id ASC`,
		docID,
	)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()

	var entries []model.ProcessingLogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Enqueue appends a retry-queue entry for a failed document. The queue is
// write-only here: nothing in this process drains it.
func (s *LedgerStore) Enqueue(docID, reason string) (*model.RetryQueueEntry, error) {
	result, err := s.db.Exec(
		`INSERT INTO retry_queue (doc_id, reason, queued_at, status) VALUES (?, ?, ?, 'pending')`,
		docID, reason, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue retry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	var e model.RetryQueueEntry
	row := s.db.QueryRow(`SELECT id, doc_id, reason, queued_at, status FROM retry_queue WHERE id = ?`, id)
	if err := row.Scan(&e.ID, &e.DocID, &e.Reason, &e.QueuedAt, &e.Status); err != nil {
		return nil, fmt.Errorf("get retry entry: %w", err)
	}
	return &e, nil
}

// ListRetries returns the retry-queue entries for a document, oldest first.
func (s *LedgerStore) ListRetries(docID string) ([]model.RetryQueueEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, doc_id, reason, queued_at, status FROM retry_queue WHERE doc_id = ? ORDER BY id ASC`,
		docID,
	)
	if err != nil {
		return nil, fmt.Errorf("list retries: %w", err)
	}
	defer rows.Close()

	var entries []model.RetryQueueEntry
	for rows.Next() {
		var e model.RetryQueueEntry
		if err := rows.Scan(&e.ID, &e.DocID, &e.Reason, &e.QueuedAt, &e.Status); err != nil {
			return nil, fmt.Errorf("scan retry entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
