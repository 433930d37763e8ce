package publication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/medgate/dispatcher/internal/domain/claims"
	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// MergeRequest asks the registry to merge caller metadata into the indexed
// document's current metadata.
type MergeRequest struct {
	DocumentID         string          `json:"idDoc"`
	WorkflowInstanceID string          `json:"workflowInstanceId"`
	Claims             *claims.Payload `json:"token"`
	Metadata           *UpdateMetadata `json:"body"`
}

// MergeResponse carries the merged registry metadata. A nil Marshalled with
// no error message means the registry runs in mock regime.
type MergeResponse struct {
	Marshalled            json.RawMessage `json:"marshallResponse"`
	DocumentType          string          `json:"documentType"`
	AdministrativeRequest []string        `json:"administrativeRequest"`
	AuthorInstitution     string          `json:"authorInstitution"`
	ErrorMessage          string          `json:"errorMessage"`
}

// RegistryUpdateRequest replays merged metadata into the registry index.
type RegistryUpdateRequest struct {
	Marshalled            json.RawMessage `json:"marshallResponse"`
	Claims                *claims.Payload `json:"token"`
	DocumentType          string          `json:"documentType"`
	WorkflowInstanceID    string          `json:"workflowInstanceId"`
	AdministrativeRequest []string        `json:"administrativeRequest"`
	AuthorInstitution     string          `json:"authorInstitution"`
}

// RegistryUpdateResponse reports whether the index accepted the update.
type RegistryUpdateResponse struct {
	Success bool `json:"esito"`
}

// RegistryDeleteRequest removes a document from the registry index.
type RegistryDeleteRequest struct {
	DocumentID         string          `json:"idDoc"`
	WorkflowInstanceID string          `json:"workflowInstanceId"`
	Claims             *claims.Payload `json:"token"`
}

// Registry is the metadata registry contract.
type Registry interface {
	MergeMetadata(ctx context.Context, req *MergeRequest) (*MergeResponse, error)
	Update(ctx context.Context, req *RegistryUpdateRequest) (*RegistryUpdateResponse, error)
	Delete(ctx context.Context, req *RegistryDeleteRequest) (*RegistryUpdateResponse, error)
}

// DocStoreRequest mutates the stored document's metadata.
type DocStoreRequest struct {
	DocumentID         string          `json:"idDoc"`
	WorkflowInstanceID string          `json:"workflowInstanceId"`
	Metadata           *UpdateMetadata `json:"body,omitempty"`
}

// DocStoreResponse reports the store's verdict.
type DocStoreResponse struct {
	Success      bool   `json:"esito"`
	ErrorMessage string `json:"messageError,omitempty"`
}

// DocStore is the document store contract.
type DocStore interface {
	Update(ctx context.Context, req *DocStoreRequest) (*DocStoreResponse, error)
	Delete(ctx context.Context, req *DocStoreRequest) (*DocStoreResponse, error)
}

// MapRequest asks the mapping service to convert a CDA into a resource bundle.
type MapRequest struct {
	CDA       string          `json:"cda"`
	ObjectID  string          `json:"objectId"`
	EngineID  string          `json:"engineId"`
	Reference json.RawMessage `json:"documentReferenceDTO"`
}

// MapResponse is the mapping service's bundle or error.
type MapResponse struct {
	Bundle       json.RawMessage `json:"json"`
	ErrorMessage string          `json:"errorMessage"`
}

// Mapper converts documents into indexable resource bundles.
type Mapper interface {
	Map(ctx context.Context, req *MapRequest) (*MapResponse, error)
}

// httpDoer is shared plumbing for the downstream JSON clients.
type httpDoer struct {
	base   string
	client *http.Client
	logger zerolog.Logger
}

func newHTTPDoer(base, component string, logger zerolog.Logger) httpDoer {
	return httpDoer{
		base:   base,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger.With().Str("component", component).Logger(),
	}
}

func (d *httpDoer) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error().Err(err).Str("path", path).Msg("downstream unreachable")
		return outcome.NewProblem(outcome.KindUnreachable,
			outcome.TypeServiceError, "Servizio non disponibile.",
			"", fmt.Sprintf("connection refused by %s", d.base)).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return outcome.NewProblem(outcome.KindBusiness,
			outcome.TypeServiceError, "Errore del servizio.",
			"", fmt.Sprintf("%s answered %d", path, resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// HTTPRegistry talks to the registry microservice.
type HTTPRegistry struct{ httpDoer }

func NewHTTPRegistry(base string, logger zerolog.Logger) *HTTPRegistry {
	return &HTTPRegistry{newHTTPDoer(base, "registry-client", logger)}
}

func (c *HTTPRegistry) MergeMetadata(ctx context.Context, req *MergeRequest) (*MergeResponse, error) {
	out := &MergeResponse{}
	if err := c.postJSON(ctx, "/v1/ini-update/merge", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPRegistry) Update(ctx context.Context, req *RegistryUpdateRequest) (*RegistryUpdateResponse, error) {
	out := &RegistryUpdateResponse{}
	if err := c.postJSON(ctx, "/v1/ini-update", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPRegistry) Delete(ctx context.Context, req *RegistryDeleteRequest) (*RegistryUpdateResponse, error) {
	out := &RegistryUpdateResponse{}
	if err := c.postJSON(ctx, "/v1/ini-delete", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HTTPDocStore talks to the document store microservice.
type HTTPDocStore struct{ httpDoer }

func NewHTTPDocStore(base string, logger zerolog.Logger) *HTTPDocStore {
	return &HTTPDocStore{newHTTPDoer(base, "docstore-client", logger)}
}

func (c *HTTPDocStore) Update(ctx context.Context, req *DocStoreRequest) (*DocStoreResponse, error) {
	out := &DocStoreResponse{}
	if err := c.postJSON(ctx, "/v1/documents/update", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPDocStore) Delete(ctx context.Context, req *DocStoreRequest) (*DocStoreResponse, error) {
	out := &DocStoreResponse{}
	if err := c.postJSON(ctx, "/v1/documents/delete", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// HTTPMapper talks to the CDA-to-bundle mapping microservice.
type HTTPMapper struct{ httpDoer }

func NewHTTPMapper(base string, logger zerolog.Logger) *HTTPMapper {
	return &HTTPMapper{newHTTPDoer(base, "mapper-client", logger)}
}

func (c *HTTPMapper) Map(ctx context.Context, req *MapRequest) (*MapResponse, error) {
	out := &MapResponse{}
	if err := c.postJSON(ctx, "/v1/documents/transform", req, out); err != nil {
		return nil, err
	}
	return out, nil
}
