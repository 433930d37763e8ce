package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// System identifies the issuing system a document arrives from; the
// validator applies system-specific rule packs.
type System string

const (
	SystemTS   System = "TS"
	SystemNone System = "NONE"
)

// Client is the validator microservice contract.
type Client interface {
	Validate(ctx context.Context, cda []byte, workflowInstanceID string, system System) (*RawResult, error)
}

// HTTPClient calls the validator over HTTP.
type HTTPClient struct {
	base   string
	client *http.Client
	logger zerolog.Logger
}

func NewHTTPClient(base string, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With().Str("component", "validator-client").Logger(),
	}
}

type validateRequest struct {
	CDA                string `json:"cda"`
	WorkflowInstanceID string `json:"workflowInstanceId"`
	System             System `json:"system"`
}

func unreachable(base string, err error) *outcome.Problem {
	return outcome.NewProblem(outcome.KindUnreachable,
		outcome.TypeServiceError, "Servizio non disponibile.",
		"", fmt.Sprintf("connection refused by %s", base)).WithCause(err)
}

func (c *HTTPClient) Validate(ctx context.Context, cda []byte, workflowInstanceID string, system System) (*RawResult, error) {
	body, err := json.Marshal(validateRequest{
		CDA:                string(cda),
		WorkflowInstanceID: workflowInstanceID,
		System:             system,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/validate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("workflow_instance_id", workflowInstanceID).Msg("validator unreachable")
		return nil, unreachable(c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, outcome.NewProblem(outcome.KindBusiness,
			outcome.TypeValidatorError, "Errore del validatore.",
			"", fmt.Sprintf("validator answered %d", resp.StatusCode))
	}

	out := &RawResult{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, outcome.NewProblem(outcome.KindBusiness,
			outcome.TypeValidatorError, "Errore del validatore.",
			"", "malformed validator response").WithCause(err)
	}
	return out, nil
}
