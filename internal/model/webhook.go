package model

import "time"

// WebhookEvent is the audit and deduplication record for one external
// notification id.
type WebhookEvent struct {
	ID               string     `json:"id"`
	EventType        string     `json:"event_type"`
	Payload          string     `json:"payload"`
	ProcessingResult string     `json:"processing_result"`
	Success          bool       `json:"success"`
	InFlight         bool       `json:"in_flight"`
	RetryCount       int        `json:"retry_count"`
	LastError        string     `json:"last_error,omitempty"`
	ReceivedAt       time.Time  `json:"received_at"`
	ProcessedAt      *time.Time `json:"processed_at"`
}
