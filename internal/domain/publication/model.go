// Package publication drives the post-validation lifecycle: building the
// searchable resources for an accepted document, notifying the indexer and
// status manager, and propagating metadata updates and deletions to the
// registry and the document store.
package publication

import (
	"github.com/medgate/dispatcher/internal/domain/claims"
	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// Request is the caller-supplied publication metadata accompanying a CDA.
type Request struct {
	DocumentID         string                `json:"identificativoDoc"`
	RepositoryID       string                `json:"identificativoRep"`
	SubmissionSetID    string                `json:"identificativoSottomissione"`
	WorkflowInstanceID string                `json:"workflowInstanceId,omitempty"`
	DocumentClass      outcome.DocumentClass `json:"tipoDocumentoLivAlto"`
	FacilityType       string                `json:"tipologiaStruttura"`
	PracticeSetting    string                `json:"assettoOrganizzativo"`
	ActivityType       string                `json:"tipoAttivitaClinica"`
	Priority           outcome.Priority      `json:"priorita,omitempty"`
	EventCodes         []string              `json:"attiCliniciRegoleAccesso,omitempty"`
	ServiceStart       string                `json:"dataInizioPrestazione,omitempty"`
	ServiceStop        string                `json:"dataFinePrestazione,omitempty"`
	ForcePublish       bool                  `json:"forcePublish,omitempty"`
}

// UpdateMetadata is the mutable slice of registry metadata.
type UpdateMetadata struct {
	FacilityType    string   `json:"tipologiaStruttura"`
	PracticeSetting string   `json:"assettoOrganizzativo"`
	ActivityType    string   `json:"tipoAttivitaClinica"`
	EventCodes      []string `json:"attiCliniciRegoleAccesso,omitempty"`
	ServiceStart    string   `json:"dataInizioPrestazione,omitempty"`
	ServiceStop     string   `json:"dataFinePrestazione,omitempty"`
}

// Result is what the caller gets back from a lifecycle operation. Warning is
// non-empty when the operation was taken in charge asynchronously.
type Result struct {
	WorkflowInstanceID string `json:"workflowInstanceId"`
	Warning            string `json:"warning,omitempty"`
}

// Input bundles everything Publish needs for one document.
type Input struct {
	CDA                string
	Raw                []byte
	WorkflowInstanceID string
	TraceID            string
	Claims             *claims.Payload
	Request            *Request
}
