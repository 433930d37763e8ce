package claims

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// AttachmentHashMatches reports whether the hex SHA-256 of the uploaded file
// equals the attachment_hash claim, case-insensitively.
func AttachmentHashMatches(p *Payload, file []byte) bool {
	sum := sha256.Sum256(file)
	return strings.EqualFold(hex.EncodeToString(sum[:]), p.AttachmentHash)
}

// AttachmentHashMismatch is the problem returned when the uploaded file does
// not match the hash the token was issued for.
func AttachmentHashMismatch() *outcome.Problem {
	return outcome.NewProblem(outcome.KindClaims,
		outcome.TypeDocumentHash, "Hash allegato non corrispondente.",
		outcome.InstanceDifferentHash,
		"the attachment hash in the token does not match the uploaded file")
}
