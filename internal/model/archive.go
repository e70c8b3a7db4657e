package model

import "time"

type ArchiveStatus string

const (
	ArchiveStatusPending   ArchiveStatus = "pending"
	ArchiveStatusUploading ArchiveStatus = "uploading"
	ArchiveStatusCompleted ArchiveStatus = "completed"
	ArchiveStatusFailed    ArchiveStatus = "failed"
)

// LedgerArchive describes one encrypted export of events with seq in
// (FromSeq, ToSeq].
type LedgerArchive struct {
	ID          string        `json:"id"`
	S3Key       string        `json:"s3_key"`
	FromSeq     int64         `json:"from_seq"`
	ToSeq       int64         `json:"to_seq"`
	EventCount  int           `json:"event_count"`
	SizeBytes   int64         `json:"size_bytes"`
	Status      ArchiveStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
