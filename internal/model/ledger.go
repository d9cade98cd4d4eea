package model

import "time"

// Ledger outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// ProcessingLogEntry is one append-only audit row per pipeline attempt.
// Entries are write-once: never mutated or deleted.
type ProcessingLogEntry struct {
	ID          int64     `json:"id"`
	DocID       string    `json:"doc_id"`
	Outcome     string    `json:"outcome"`
	Recipient   string    `json:"recipient,omitempty"`
	PDFURL      string    `json:"pdf_url,omitempty"`
	BackupLink  string    `json:"backup_link,omitempty"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// RetryQueueEntry is an append-only holding record for a failed attempt.
// Nothing in this codebase drains the queue; it exists for inspection and
// manual replay.
type RetryQueueEntry struct {
	ID       int64     `json:"id"`
	DocID    string    `json:"doc_id"`
	Reason   string    `json:"reason"`
	QueuedAt time.Time `json:"queued_at"`
	Status   string    `json:"status"`
}
