// Package validation orchestrates structural and semantic checks of clinical
// documents against the validator microservice, recording accepted documents
// in the idempotency store so a later publication can prove validation
// happened.
package validation

import "github.com/medgate/dispatcher/internal/domain/outcome"

// RawOutcome is the validator microservice's verdict, carried verbatim.
type RawOutcome string

const (
	RawOK              RawOutcome = "OK"
	RawSemanticWarning RawOutcome = "SEMANTIC_WARNING"
	RawSyntaxError     RawOutcome = "SYNTAX_ERROR"
	RawSemanticError   RawOutcome = "SEMANTIC_ERROR"
	RawVocabularyError RawOutcome = "VOCABULARY_ERROR"
	RawGenericError    RawOutcome = "GENERIC_ERROR"
)

// RawResult is the validator microservice's response.
type RawResult struct {
	Outcome     RawOutcome `json:"outcome"`
	Messages    []string   `json:"messages"`
	TransformID string     `json:"transformID"`
	EngineID    string     `json:"engineID"`
}

// Accepted reports whether the verdict lets the document through. A semantic
// warning is acceptance with an advisory attached.
func (o RawOutcome) Accepted() bool {
	return o == RawOK || o == RawSemanticWarning
}

// problemFor maps a rejecting verdict onto the caller-visible taxonomy.
func problemFor(o RawOutcome, detail string) *outcome.Problem {
	switch o {
	case RawSyntaxError:
		return outcome.NewProblem(outcome.KindValidation,
			outcome.TypeSyntaxError, "Errore di sintassi.",
			outcome.InstanceValidationError, detail)
	case RawSemanticError:
		return outcome.NewProblem(outcome.KindValidation,
			outcome.TypeSemanticError, "Errore semantico.",
			outcome.InstanceSemanticError, detail)
	case RawVocabularyError:
		return outcome.NewProblem(outcome.KindValidation,
			outcome.TypeVocabularyError, "Errore di vocabolario.",
			outcome.InstanceValidationError, detail)
	default:
		return outcome.NewProblem(outcome.KindValidation,
			outcome.TypeGenericError, "Errore generico.",
			outcome.InstanceValidationError, detail)
	}
}

// Result is the orchestrator's successful outcome.
type Result struct {
	// Warning carries the advisory text when the validator accepted the
	// document with reservations; empty on a clean pass.
	Warning string
	// WorkflowInstanceID identifies the intake this validation belongs to.
	WorkflowInstanceID string
}
