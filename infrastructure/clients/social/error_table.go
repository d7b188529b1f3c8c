package social

import (
	"fmt"
	"strings"

	"publish-pipeline/domain/model"
)

// Rule maps a substring or error code found in a raw provider body to a classification.
type Rule struct {
	Pattern   string
	Kind      model.ErrorKind
	Message   string
	Transient bool
}

// ErrorTable is an ordered list of rules; the first rule whose pattern occurs in the body wins.
type ErrorTable []Rule

func (t ErrorTable) Classify(body string) model.Classification {
	for _, r := range t {
		if strings.Contains(body, r.Pattern) {
			return model.Classification{Kind: r.Kind, Message: r.Message, Transient: r.Transient}
		}
	}
	return model.Classification{Kind: model.KindNone, Message: body}
}

// ProviderError is returned by Client for non-2xx responses and carries the classification
// the orchestrator uses to pick a remediation.
type ProviderError struct {
	Provider       string
	Step           string
	StatusCode     int
	Body           string
	Classification model.Classification
}

func (e *ProviderError) Error() string {
	msg := e.Classification.Message
	if msg == "" {
		msg = e.Body
	}
	return fmt.Sprintf("%s %s failed (%d): %s", e.Provider, e.Step, e.StatusCode, msg)
}

// Classified exposes the classification to callers that only see an error.
func (e *ProviderError) Classified() model.Classification { return e.Classification }
