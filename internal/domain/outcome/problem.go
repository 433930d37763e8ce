package outcome

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind partitions failures by how they propagate to the caller.
type Kind int

const (
	// KindExtraction covers content that could not be located or decoded.
	KindExtraction Kind = iota
	// KindClaims covers token missing, malformed or mismatched with the document.
	KindClaims
	// KindValidation covers structural/semantic rejections from the validator.
	KindValidation
	// KindNotValidated covers publish attempts for content never validated.
	KindNotValidated
	// KindUnreachable covers downstream connection failures; never a business rejection.
	KindUnreachable
	// KindStore covers idempotency-store persistence failures.
	KindStore
	// KindBusiness covers unclassified downstream or rule violations.
	KindBusiness
)

// Problem is the caller-visible error shape, mirroring the problem-details
// convention used across the gateway APIs.
type Problem struct {
	Kind     Kind   `json:"-"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Instance string `json:"instance,omitempty"`
	Detail   string `json:"detail,omitempty"`
	cause    error
}

func (p *Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Title
}

func (p *Problem) Unwrap() error { return p.cause }

// WithCause attaches the originating error without changing the caller-visible shape.
func (p *Problem) WithCause(err error) *Problem {
	p.cause = err
	return p
}

// HTTPStatus maps the problem kind to its transport status.
func (p *Problem) HTTPStatus() int {
	switch p.Kind {
	case KindExtraction, KindValidation, KindNotValidated:
		return http.StatusBadRequest
	case KindClaims:
		return http.StatusForbidden
	case KindUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AsProblem extracts a *Problem from err, wrapping unclassified errors as a
// generic business problem so every caller-visible failure has a stable shape.
func AsProblem(err error) *Problem {
	var p *Problem
	if errors.As(err, &p) {
		return p
	}
	return NewProblem(KindBusiness, TypeGenericError, "Errore generico.", "", err.Error()).WithCause(err)
}

// NewProblem builds a Problem; detail may be empty.
func NewProblem(kind Kind, typ, title, instance, detail string) *Problem {
	return &Problem{Kind: kind, Type: typ, Title: title, Instance: instance, Detail: detail}
}

// Problem types, kept aligned with the upstream gateway error catalogue so
// downstream consumers can switch on them.
const (
	TypeOK                    = "00"
	TypeMiningError           = "/msg/cda-element"
	TypeValidatorError        = "/msg/validator"
	TypeSyntaxError           = "/msg/syntax"
	TypeSemanticError         = "/msg/semantic"
	TypeVocabularyError       = "/msg/vocabulary"
	TypeMatchError            = "/msg/cda-match"
	TypeEmptyFile             = "/msg/empty-file"
	TypeDocumentType          = "/msg/document-type"
	TypeDocumentHash          = "/msg/document-hash"
	TypeMandatoryElement      = "/msg/mandatory-element"
	TypeFormatElement         = "/msg/invalid-format"
	TypeMandatoryTokenElement = "/msg/mandatory-element-token"
	TypeInvalidTokenField     = "/msg/jwt-validation"
	TypeInvalidDocumentID     = "/msg/id-doc"
	TypeInvalidWorkflowID     = "/msg/wii"
	TypeServiceError          = "/msg/service-error"
	TypeGenericError          = "/msg/generic-error"
	TypeMissingToken          = "/msg/missing-token"
	TypeRegistryError         = "/msg/registry-error"
	TypeDocStoreError         = "/msg/docstore-error"
)

// Problem instances, the finer-grained discriminator inside a type.
const (
	InstanceExtraction          = "/cda-extraction"
	InstanceNotValidated        = "/cda-validation"
	InstanceDifferentHash       = "/jwt-hash-match"
	InstanceMissingMandatory    = "/request-missing-field"
	InstanceInvalidDateFormat   = "/request-invalid-date-format"
	InstanceSemanticWarning     = "/schematron-malformed/warning"
	InstanceSemanticError       = "/schematron-malformed/error"
	InstanceDocTypeMismatch     = "/jwt-document-type"
	InstancePersonIDMismatch    = "/jwt-person-id"
	InstanceMissingJWT          = "/missing-jwt"
	InstanceMissingJWTField     = "/jwt-mandatory-field-missing"
	InstanceMalformedJWTField   = "/jwt-mandatory-field-malformed"
	InstanceInvalidDocumentID   = "/invalid-id"
	InstanceNonPDFFile          = "/multipart-file"
	InstanceEmptyFile           = "/empty-multipart-file"
	InstanceValidationError     = "/validation/error"
)
