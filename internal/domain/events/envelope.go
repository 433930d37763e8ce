// Package events emits lifecycle notifications to the broker: status events
// for every intake outcome, indexer records for accepted publications, and
// retry requests for operations that must be replayed asynchronously.
package events

import (
	"encoding/json"
	"time"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// Envelope is the status event payload consumed by the status manager.
type Envelope struct {
	TraceID            string              `json:"traceId"`
	WorkflowInstanceID string              `json:"workflowInstanceId"`
	EventType          outcome.EventType   `json:"eventType"`
	EventStatus        outcome.EventStatus `json:"eventStatus"`
	DocumentID         string              `json:"documentId,omitempty"`
	Issuer             string              `json:"issuer"`
	Subject            string              `json:"subject,omitempty"`
	Organization       string              `json:"organization,omitempty"`
	ActivityType       string              `json:"activityType,omitempty"`
	Message            string              `json:"message,omitempty"`
	MicroserviceName   string              `json:"microserviceName"`
	EventDate          time.Time           `json:"eventDate"`
}

// marshalBounded serializes env, cutting the message field down when the
// serialized form would exceed the producer's max request size.
func marshalBounded(env *Envelope, maxRequestSize int) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if maxRequestSize <= 0 || len(raw) < maxRequestSize {
		return raw, nil
	}

	bound := maxRequestSize / 1024
	msg := []rune(env.Message)
	if len(msg) > bound {
		clipped := *env
		clipped.Message = string(msg[:bound])
		return json.Marshal(&clipped)
	}
	return raw, nil
}
