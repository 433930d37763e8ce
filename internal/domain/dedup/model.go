// Package dedup is the content-addressed idempotency store: it records which
// document hashes have been validated so each document is validated and
// published exactly once from the caller's point of view.
package dedup

import "time"

// Record binds a content hash to the workflow that validated it.
// At most one live record exists per hash.
type Record struct {
	ID                 string
	Hash               string
	WorkflowInstanceID string
	TransformID        string
	EngineID           string
	InsertedAt         time.Time
}

// ValidationInfo is the answer to "may this content be published under this
// workflow id". Validated is false when the hash is unknown, expired, or
// bound to a different workflow id.
type ValidationInfo struct {
	Validated          bool
	Hash               string
	WorkflowInstanceID string
	TransformID        string
	EngineID           string
}
