package publication

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// documentIDRe is the master identifier shape: issuing OID, caret, local id.
var documentIDRe = regexp.MustCompile(`^[0-9][0-9.]*\^[A-Za-z0-9._\-]+$`)

// IsValidDocumentID reports whether idDoc is a well-formed master identifier.
func IsValidDocumentID(idDoc string) bool {
	return documentIDRe.MatchString(idDoc)
}

func invalidDocumentID() *outcome.Problem {
	return outcome.NewProblem(outcome.KindExtraction,
		outcome.TypeInvalidDocumentID, "Identificativo documento non valido.",
		outcome.InstanceInvalidDocumentID, "the document identifier is not a valid master identifier")
}

// NewWorkflowInstanceID mints the workflow id for one document lifecycle:
// the hashed master identifier joined to a fresh uuid, so retries of the
// same document stay distinguishable while the document stays traceable.
func NewWorkflowInstanceID(idDoc string) string {
	sum := sha256.Sum256([]byte(idDoc))
	return fmt.Sprintf("%s.%s", hex.EncodeToString(sum[:]), uuid.New().String())
}
