package claims

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

const bearerPrefix = "Bearer "

// MissingIssuerPlaceholder stands in for the issuer on events emitted before
// a token was successfully decoded.
const MissingIssuerPlaceholder = "UNDEFINED_JWT_ISSUER"

func missingToken() *outcome.Problem {
	return outcome.NewProblem(outcome.KindClaims,
		outcome.TypeMissingToken, "Token non fornito.",
		outcome.InstanceMissingJWT, "the provided token is empty")
}

func malformedToken(detail string) *outcome.Problem {
	return outcome.NewProblem(outcome.KindClaims,
		outcome.TypeMandatoryTokenElement, "Token JWT non valido.",
		outcome.InstanceMissingJWTField, detail)
}

// Decode parses a bearer or header-embedded JWT into its payload without
// verifying the signature; verification belongs to the perimeter gateway.
func Decode(token string) (*Payload, error) {
	if strings.TrimSpace(token) == "" {
		return nil, missingToken()
	}
	token = strings.TrimPrefix(token, bearerPrefix)

	payload := &Payload{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, payload); err != nil {
		return nil, malformedToken(err.Error()).WithCause(err)
	}
	return payload, nil
}

// DecodeForwarded parses a token whose payload was re-packed into the first
// segment by the fronting gateway.
func DecodeForwarded(token string) (*Payload, error) {
	if strings.TrimSpace(token) == "" {
		return nil, missingToken()
	}
	chunk := strings.SplitN(strings.TrimPrefix(token, bearerPrefix), ".", 2)[0]

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(chunk, "="))
	if err != nil {
		return nil, malformedToken(err.Error()).WithCause(err)
	}
	payload := &Payload{}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, malformedToken(err.Error()).WithCause(err)
	}
	return payload, nil
}
