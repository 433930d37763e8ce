package publication

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/medgate/dispatcher/internal/domain/claims"
	"github.com/medgate/dispatcher/internal/domain/dedup"
	"github.com/medgate/dispatcher/internal/domain/events"
	"github.com/medgate/dispatcher/internal/domain/intake"
	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// WarnAsyncTransaction is returned to the caller when the registry update
// was taken in charge for asynchronous replay instead of completing inline.
const WarnAsyncTransaction = "Transazione presa in carico"

// benignMergeError marks registry merge complaints that do not invalidate
// the merge itself and must not block the update.
const benignMergeError = "Invalid region ip"

// Store is the slice of the idempotency store the workflow reads.
type Store interface {
	RetrieveValidationInfo(ctx context.Context, hash, wii string) (*dedup.ValidationInfo, error)
	Consume(ctx context.Context, hash string) (bool, error)
}

// Emitter is the slice of the event emitter the workflow drives.
type Emitter interface {
	SendStatus(ctx context.Context, env *events.Envelope) error
	SendIndexAndStatus(ctx context.Context, key string, payload []byte, priority outcome.Priority, class outcome.DocumentClass, env *events.Envelope) error
	SendRetryRequest(ctx context.Context, topic, wii string, request any) error
}

// Service coordinates the publication lifecycle across the registry, the
// document store and the broker.
type Service struct {
	store           Store
	registry        Registry
	docstore        DocStore
	builder         *ResourceBuilder
	emitter         Emitter
	topics          events.Topics
	hasher          *intake.Hasher
	docstoreEnabled bool
	logger          zerolog.Logger
}

func NewService(store Store, registry Registry, docstore DocStore, builder *ResourceBuilder,
	emitter Emitter, topics events.Topics, hasher *intake.Hasher, docstoreEnabled bool, logger zerolog.Logger) *Service {
	return &Service{
		store:           store,
		registry:        registry,
		docstore:        docstore,
		builder:         builder,
		emitter:         emitter,
		topics:          topics,
		hasher:          hasher,
		docstoreEnabled: docstoreEnabled,
		logger:          logger.With().Str("component", "publication").Logger(),
	}
}

func notValidated() *outcome.Problem {
	return outcome.NewProblem(outcome.KindNotValidated,
		outcome.TypeMatchError, "CDA non validato.",
		outcome.InstanceNotValidated, "the document was not validated before publication")
}

func envelope(traceID, wii string, event outcome.EventType, status outcome.EventStatus, docID, message string, payload *claims.Payload) *events.Envelope {
	env := &events.Envelope{
		TraceID:            traceID,
		WorkflowInstanceID: wii,
		EventType:          event,
		EventStatus:        status,
		DocumentID:         docID,
		Message:            message,
		Issuer:             claims.MissingIssuerPlaceholder,
	}
	if payload != nil {
		env.Issuer = payload.Issuer
		env.Subject = payload.Subject
		env.Organization = payload.SubjectOrganizationID
	}
	return env
}

// Publish indexes a validated document. The canonical hash must have been
// recorded under the same workflow id by a previous validation; replaying a
// publish without revalidating fails closed. The indexer record and the
// status event commit atomically, then the hash is consumed so the same
// content cannot be published twice.
func (s *Service) Publish(ctx context.Context, in *Input, event outcome.EventType) (*Result, error) {
	if !IsValidDocumentID(in.Request.DocumentID) {
		return nil, invalidDocumentID()
	}
	wii := in.WorkflowInstanceID

	hash := s.hasher.DocumentHash(in.CDA, wii)
	info, err := s.store.RetrieveValidationInfo(ctx, hash, wii)
	if err != nil {
		return nil, s.failStatus(ctx, in.TraceID, wii, event, in.Request.DocumentID, err, in.Claims)
	}
	if !info.Validated {
		s.sendStatus(ctx, envelope(in.TraceID, wii, event, outcome.StatusBlockingError,
			in.Request.DocumentID, "CDA non validato", in.Claims))
		return nil, notValidated()
	}
	// The workflow id is not mandatory on publication: an omitted one is
	// adopted from the validation record matched by hash.
	if wii == "" {
		wii = info.WorkflowInstanceID
	}

	res, err := s.builder.Build(ctx, in.CDA, in.Request, in.Claims.SubjectRole,
		intake.HexHash(in.Raw), info.TransformID, info.EngineID)
	if err != nil {
		return nil, s.failStatus(ctx, in.TraceID, wii, event, in.Request.DocumentID, err, in.Claims)
	}
	if res.ErrorMessage != "" {
		s.sendStatus(ctx, envelope(in.TraceID, wii, event, outcome.StatusBlockingError,
			in.Request.DocumentID, res.ErrorMessage, in.Claims))
		return nil, outcome.NewProblem(outcome.KindBusiness,
			outcome.TypeGenericError, "Errore generico.", "", res.ErrorMessage)
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return nil, s.failStatus(ctx, in.TraceID, wii, event, in.Request.DocumentID, err, in.Claims)
	}
	env := envelope(in.TraceID, wii, event, outcome.StatusSuccess,
		in.Request.DocumentID, "Pubblicazione effettuata correttamente", in.Claims)
	env.ActivityType = in.Request.ActivityType
	if err := s.emitter.SendIndexAndStatus(ctx, in.Request.DocumentID, payload,
		in.Request.Priority, in.Request.DocumentClass, env); err != nil {
		return nil, s.failStatus(ctx, in.TraceID, wii, event, in.Request.DocumentID, err, in.Claims)
	}

	if _, err := s.store.Consume(ctx, hash); err != nil {
		s.logger.Error().Err(err).Str("workflow_instance_id", wii).
			Msg("published document left in the idempotency store")
	}
	return &Result{WorkflowInstanceID: wii}, nil
}

// Update propagates a metadata change. The merge and the document store
// update are mandatory; a refused registry index update degrades to an
// asynchronous replay and the caller still succeeds, with a warning.
func (s *Service) Update(ctx context.Context, traceID, idDoc string, metadata *UpdateMetadata, payload *claims.Payload) (*Result, error) {
	if !IsValidDocumentID(idDoc) {
		return nil, invalidDocumentID()
	}
	wii := NewWorkflowInstanceID(idDoc)

	merged, err := s.registry.MergeMetadata(ctx, &MergeRequest{
		DocumentID:         idDoc,
		WorkflowInstanceID: wii,
		Claims:             payload,
		Metadata:           metadata,
	})
	if err != nil {
		return nil, s.failStatus(ctx, traceID, wii, outcome.EventRegistryMerge, idDoc, err, payload)
	}
	if merged.ErrorMessage != "" && !strings.Contains(merged.ErrorMessage, benignMergeError) {
		s.sendStatus(ctx, envelope(traceID, wii, outcome.EventRegistryMerge,
			outcome.StatusBlockingError, idDoc, merged.ErrorMessage, payload))
		return nil, outcome.NewProblem(outcome.KindBusiness,
			outcome.TypeRegistryError, "Errore del registry.", "", merged.ErrorMessage)
	}

	// A registry answering without a marshalled document runs in mock
	// regime: acknowledge and skip the real index update.
	mock := len(merged.Marshalled) == 0
	mergeMsg := "Merge metadati effettuato correttamente"
	if mock {
		mergeMsg = "Regime mock"
	}
	s.sendStatus(ctx, envelope(traceID, wii, outcome.EventRegistryMerge,
		outcome.StatusSuccess, idDoc, mergeMsg, payload))

	if s.docstoreEnabled {
		eds, err := s.docstore.Update(ctx, &DocStoreRequest{
			DocumentID:         idDoc,
			WorkflowInstanceID: wii,
			Metadata:           metadata,
		})
		if err != nil {
			return nil, s.failStatus(ctx, traceID, wii, outcome.EventDocStoreUpdate, idDoc, err, payload)
		}
		if !eds.Success {
			s.sendStatus(ctx, envelope(traceID, wii, outcome.EventDocStoreUpdate,
				outcome.StatusBlockingError, idDoc, "Update EDS fallito", payload))
			return nil, outcome.NewProblem(outcome.KindBusiness,
				outcome.TypeDocStoreError, "Errore del document store.", "", eds.ErrorMessage)
		}
		s.sendStatus(ctx, envelope(traceID, wii, outcome.EventDocStoreUpdate,
			outcome.StatusSuccess, idDoc, "Update EDS effettuato correttamente", payload))
	}

	if mock {
		s.sendStatus(ctx, envelope(traceID, wii, outcome.EventRegistryUpdate,
			outcome.StatusSuccess, idDoc, "Regime di mock", payload))
		return &Result{WorkflowInstanceID: wii}, nil
	}

	req := &RegistryUpdateRequest{
		Marshalled:            merged.Marshalled,
		Claims:                payload,
		DocumentType:          merged.DocumentType,
		WorkflowInstanceID:    wii,
		AdministrativeRequest: merged.AdministrativeRequest,
		AuthorInstitution:     merged.AuthorInstitution,
	}
	res, err := s.registry.Update(ctx, req)
	if err != nil {
		return nil, s.failStatus(ctx, traceID, wii, outcome.EventRegistryUpdate, idDoc, err, payload)
	}
	if !res.Success {
		if err := s.emitter.SendRetryRequest(ctx, s.topics.RetryUpdate, wii, req); err != nil {
			return nil, s.failStatus(ctx, traceID, wii, outcome.EventRegistryUpdate, idDoc, err, payload)
		}
		s.sendStatus(ctx, envelope(traceID, wii, outcome.EventRegistryUpdate,
			outcome.StatusAsyncRetry, idDoc, WarnAsyncTransaction, payload))
		return &Result{WorkflowInstanceID: wii, Warning: WarnAsyncTransaction}, nil
	}

	s.sendStatus(ctx, envelope(traceID, wii, outcome.EventRegistryUpdate,
		outcome.StatusSuccess, idDoc, "Update INI effettuato correttamente", payload))
	return &Result{WorkflowInstanceID: wii}, nil
}

// Delete removes a document from the registry and the document store, with
// the same asynchronous degradation as Update on a refused registry delete.
func (s *Service) Delete(ctx context.Context, traceID, idDoc string, payload *claims.Payload) (*Result, error) {
	if !IsValidDocumentID(idDoc) {
		return nil, invalidDocumentID()
	}
	wii := NewWorkflowInstanceID(idDoc)

	if s.docstoreEnabled {
		eds, err := s.docstore.Delete(ctx, &DocStoreRequest{DocumentID: idDoc, WorkflowInstanceID: wii})
		if err != nil {
			return nil, s.failStatus(ctx, traceID, wii, outcome.EventDocStoreDelete, idDoc, err, payload)
		}
		if !eds.Success {
			s.sendStatus(ctx, envelope(traceID, wii, outcome.EventDocStoreDelete,
				outcome.StatusBlockingError, idDoc, "Delete EDS fallito", payload))
			return nil, outcome.NewProblem(outcome.KindBusiness,
				outcome.TypeDocStoreError, "Errore del document store.", "", eds.ErrorMessage)
		}
		s.sendStatus(ctx, envelope(traceID, wii, outcome.EventDocStoreDelete,
			outcome.StatusSuccess, idDoc, "Delete EDS effettuato correttamente", payload))
	}

	req := &RegistryDeleteRequest{DocumentID: idDoc, WorkflowInstanceID: wii, Claims: payload}
	res, err := s.registry.Delete(ctx, req)
	if err != nil {
		return nil, s.failStatus(ctx, traceID, wii, outcome.EventRegistryDelete, idDoc, err, payload)
	}
	if !res.Success {
		if err := s.emitter.SendRetryRequest(ctx, s.topics.RetryDelete, wii, req); err != nil {
			return nil, s.failStatus(ctx, traceID, wii, outcome.EventRegistryDelete, idDoc, err, payload)
		}
		s.sendStatus(ctx, envelope(traceID, wii, outcome.EventRegistryDelete,
			outcome.StatusAsyncRetry, idDoc, WarnAsyncTransaction, payload))
		return &Result{WorkflowInstanceID: wii, Warning: WarnAsyncTransaction}, nil
	}

	s.sendStatus(ctx, envelope(traceID, wii, outcome.EventRegistryDelete,
		outcome.StatusSuccess, idDoc, "Delete INI effettuato correttamente", payload))
	return &Result{WorkflowInstanceID: wii}, nil
}

// failStatus announces a terminal failure on the status topic and hands the
// error back unchanged. Every abort after a workflow id exists goes through
// here so the status manager always sees the blocking transition.
func (s *Service) failStatus(ctx context.Context, traceID, wii string, event outcome.EventType, idDoc string, err error, payload *claims.Payload) error {
	s.sendStatus(ctx, envelope(traceID, wii, event, outcome.StatusBlockingError, idDoc, err.Error(), payload))
	return err
}

// sendStatus publishes a status event, logging instead of failing when the
// broker refuses it: a lost status event never blocks the operation itself.
func (s *Service) sendStatus(ctx context.Context, env *events.Envelope) {
	if err := s.emitter.SendStatus(ctx, env); err != nil {
		s.logger.Error().Err(err).
			Str("workflow_instance_id", env.WorkflowInstanceID).
			Str("event_type", string(env.EventType)).
			Msg("status event lost")
	}
}
