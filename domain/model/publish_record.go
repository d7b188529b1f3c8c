package model

import "time"

// PublishRecord is the latest outcome of one post per integration.
type PublishRecord struct {
	ID            int64      `json:"id"`
	IntegrationID string     `json:"integration_id"`
	Provider      string     `json:"provider"`
	PostID        string     `json:"post_id"` // id chosen by the scheduling layer
	Status        PostStatus `json:"status"`
	ExternalID    *string    `json:"external_id,omitempty"`
	ReleaseURL    *string    `json:"release_url,omitempty"`
	FailureKind   *string    `json:"failure_kind,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PublishAudit is an append-only log of publish attempts
type PublishAudit struct {
	ID           int64      `json:"id"`
	RecordID     int64      `json:"record_id"`
	Status       PostStatus `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
