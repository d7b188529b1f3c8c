package model

import "time"

// UploadPhase is a state of the multi-phase upload machine.
type UploadPhase string

const (
	PhaseStart        UploadPhase = "start"
	PhaseTransferring UploadPhase = "transferring"
	PhaseFinishing    UploadPhase = "finishing"
	PhasePolling      UploadPhase = "polling"
	PhaseReady        UploadPhase = "ready"
	PhaseFailed       UploadPhase = "failed"
)

func (p UploadPhase) Terminal() bool { return p == PhaseReady || p == PhaseFailed }

// UploadJob tracks one multi-phase provider upload.
type UploadJob struct {
	ExternalID string      `json:"external_id"`
	UploadURL  string      `json:"upload_url"`
	Phase      UploadPhase `json:"phase"`
	Attempts   int         `json:"attempts"` // status polls issued so far
	Deadline   time.Time   `json:"deadline"`
	Failure    *Failure    `json:"failure,omitempty"`
	Result     *PostRef    `json:"result,omitempty"`
}

type ProcessingState string

const (
	ProcessingInProgress ProcessingState = "processing"
	ProcessingReady      ProcessingState = "ready"
	ProcessingError      ProcessingState = "error"
)

// UploadStatus is one answer to a status poll.
type UploadStatus struct {
	State ProcessingState
	Error string // raw provider error text when State is ProcessingError
}
