// Package outcome defines the result taxonomy shared by the gateway
// pipeline: event types and statuses published on the bus, routing
// priorities, and the Problem error type returned to callers.
package outcome

// EventType identifies the workflow transition an event refers to.
type EventType string

const (
	EventValidation     EventType = "VALIDATION"
	EventPublication    EventType = "PUBLICATION"
	EventReplace        EventType = "REPLACE"
	EventUpdate         EventType = "UPDATE"
	EventDelete         EventType = "DELETE"
	EventRegistryMerge  EventType = "REGISTRY_MERGE"
	EventRegistryUpdate EventType = "REGISTRY_UPDATE"
	EventRegistryDelete EventType = "REGISTRY_DELETE"
	EventDocStoreUpdate EventType = "DOCSTORE_UPDATE"
	EventDocStoreDelete EventType = "DOCSTORE_DELETE"
)

// EventStatus is the terminal state of a single transition.
type EventStatus string

const (
	StatusSuccess          EventStatus = "SUCCESS"
	StatusBlockingError    EventStatus = "BLOCKING_ERROR"
	StatusNonBlockingError EventStatus = "NON_BLOCKING_ERROR"
	StatusAsyncRetry       EventStatus = "ASYNC_RETRY"
)

// Priority is the caller-requested indexing priority tier.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// DocumentClass is the high-level document typology carried by publication
// requests. The vocabulary is treated as an opaque validated set.
type DocumentClass string

const (
	ClassDischargeSummary DocumentClass = "LDO"
	ClassLabReport        DocumentClass = "REF"
	ClassRadiologyReport  DocumentClass = "RAD"
	ClassPatientSummary   DocumentClass = "PSS"
	ClassPrescription     DocumentClass = "PRE"
	ClassVaccination      DocumentClass = "VAC"
)

var documentClasses = map[DocumentClass]bool{
	ClassDischargeSummary: true,
	ClassLabReport:        true,
	ClassRadiologyReport:  true,
	ClassPatientSummary:   true,
	ClassPrescription:     true,
	ClassVaccination:      true,
}

// ValidDocumentClass reports whether c belongs to the known typology set.
func ValidDocumentClass(c DocumentClass) bool { return documentClasses[c] }
