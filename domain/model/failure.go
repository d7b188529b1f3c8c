package model

import "errors"

// ErrorKind is the remediation a provider error table assigns to a raw error body.
type ErrorKind string

const (
	KindRefreshToken ErrorKind = "refresh-token"
	KindBadBody      ErrorKind = "bad-body"
	KindNone         ErrorKind = "none"
)

// Classification is the outcome of matching a raw provider error against an error table.
type Classification struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Transient bool      `json:"transient,omitempty"` // rate-limit / service-unavailable bad-body subtype
}

// FailureKind is the closed taxonomy surfaced to the scheduling layer.
type FailureKind string

const (
	FailureCredentialInvalid FailureKind = "credential-invalid"
	FailureContentRejected   FailureKind = "content-rejected"
	FailureTransient         FailureKind = "transient-provider-error"
	FailureProtocolTimeout   FailureKind = "protocol-timeout"
	FailureUnclassified      FailureKind = "unclassified"
)

// Failure describes why a PostResponse failed.
type Failure struct {
	Kind           FailureKind `json:"kind"`
	Classification ErrorKind   `json:"classification"`
	Message        string      `json:"message"`
}

// Retryable reports whether the scheduling layer may try again later.
func (f *Failure) Retryable() bool {
	return f != nil && (f.Kind == FailureTransient || f.Kind == FailureProtocolTimeout)
}

// FailureFrom maps a classification onto the failure taxonomy.
func FailureFrom(c Classification) *Failure {
	f := &Failure{Classification: c.Kind, Message: c.Message}
	switch {
	case c.Kind == KindRefreshToken:
		f.Kind = FailureCredentialInvalid
	case c.Kind == KindBadBody && c.Transient:
		f.Kind = FailureTransient
	case c.Kind == KindBadBody:
		f.Kind = FailureContentRejected
	default:
		f.Kind = FailureUnclassified
	}
	return f
}

// ClassifiedError is an error that already carries a provider classification.
type ClassifiedError interface {
	error
	Classified() Classification
}

// TimeoutFailure is reported when status polling reaches its ceiling.
func TimeoutFailure(msg string) *Failure {
	return &Failure{Kind: FailureProtocolTimeout, Classification: KindNone, Message: msg}
}

// UnclassifiedFailure wraps any error that did not come with a classification.
func UnclassifiedFailure(msg string) *Failure {
	return &Failure{Kind: FailureUnclassified, Classification: KindNone, Message: msg}
}

var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrRemoteFetchRefused  = errors.New("provider could not fetch the remote media url")
	ErrRepliesUnsupported  = errors.New("provider does not support threaded replies")
	ErrUploadUnsupported   = errors.New("provider does not support this upload path")
)
