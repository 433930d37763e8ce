package publication

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medgate/dispatcher/internal/domain/claims"
	"github.com/medgate/dispatcher/internal/domain/dedup"
	"github.com/medgate/dispatcher/internal/domain/events"
	"github.com/medgate/dispatcher/internal/domain/intake"
	"github.com/medgate/dispatcher/internal/domain/outcome"
)

type mockStore struct {
	info     *dedup.ValidationInfo
	gotWii   string
	consumed []string
}

func (m *mockStore) RetrieveValidationInfo(_ context.Context, hash, wii string) (*dedup.ValidationInfo, error) {
	m.gotWii = wii
	if m.info != nil {
		return m.info, nil
	}
	return &dedup.ValidationInfo{Hash: hash}, nil
}

func (m *mockStore) Consume(_ context.Context, hash string) (bool, error) {
	m.consumed = append(m.consumed, hash)
	return true, nil
}

type mockRegistry struct {
	merge      *MergeResponse
	mergeErr   error
	updateOK   bool
	deleteOK   bool
	updateReqs []*RegistryUpdateRequest
	deleteReqs []*RegistryDeleteRequest
}

func (m *mockRegistry) MergeMetadata(_ context.Context, _ *MergeRequest) (*MergeResponse, error) {
	if m.mergeErr != nil {
		return nil, m.mergeErr
	}
	return m.merge, nil
}

func (m *mockRegistry) Update(_ context.Context, req *RegistryUpdateRequest) (*RegistryUpdateResponse, error) {
	m.updateReqs = append(m.updateReqs, req)
	return &RegistryUpdateResponse{Success: m.updateOK}, nil
}

func (m *mockRegistry) Delete(_ context.Context, req *RegistryDeleteRequest) (*RegistryUpdateResponse, error) {
	m.deleteReqs = append(m.deleteReqs, req)
	return &RegistryUpdateResponse{Success: m.deleteOK}, nil
}

type mockDocStore struct {
	ok      bool
	updates int
	deletes int
}

func (m *mockDocStore) Update(_ context.Context, _ *DocStoreRequest) (*DocStoreResponse, error) {
	m.updates++
	return &DocStoreResponse{Success: m.ok, ErrorMessage: "eds refused"}, nil
}

func (m *mockDocStore) Delete(_ context.Context, _ *DocStoreRequest) (*DocStoreResponse, error) {
	m.deletes++
	return &DocStoreResponse{Success: m.ok, ErrorMessage: "eds refused"}, nil
}

type mockMapper struct {
	errorMessage string
}

func (m *mockMapper) Map(_ context.Context, _ *MapRequest) (*MapResponse, error) {
	return &MapResponse{Bundle: json.RawMessage(`{"resourceType":"Bundle"}`), ErrorMessage: m.errorMessage}, nil
}

type mockEmitter struct {
	statuses []*events.Envelope
	indexed  [][]byte
	retries  []string
	indexErr error
}

func (m *mockEmitter) SendStatus(_ context.Context, env *events.Envelope) error {
	m.statuses = append(m.statuses, env)
	return nil
}

func (m *mockEmitter) SendIndexAndStatus(_ context.Context, _ string, payload []byte, _ outcome.Priority, _ outcome.DocumentClass, env *events.Envelope) error {
	if m.indexErr != nil {
		return m.indexErr
	}
	m.indexed = append(m.indexed, payload)
	m.statuses = append(m.statuses, env)
	return nil
}

func (m *mockEmitter) SendRetryRequest(_ context.Context, topic, _ string, _ any) error {
	m.retries = append(m.retries, topic)
	return nil
}

func (m *mockEmitter) lastStatus() *events.Envelope {
	if len(m.statuses) == 0 {
		return nil
	}
	return m.statuses[len(m.statuses)-1]
}

var testTopics = events.Topics{
	Status:        "status",
	IndexerLow:    "indexer-low",
	IndexerMedium: "indexer-medium",
	IndexerHigh:   "indexer-high",
	RetryUpdate:   "retry-update",
	RetryDelete:   "retry-delete",
}

const testCDA = `<?xml version="1.0"?>
<ClinicalDocument xmlns="urn:hl7-org:v3">
  <code code="11502-2" codeSystem="2.16.840.1.113883.6.1" displayName="Referto di laboratorio"/>
  <confidentialityCode code="N"/>
  <recordTarget><patientRole><id root="2.16.840.1.113883.2.9.4.3.2" extension="RSSMRA85T10A562S"/></patientRole></recordTarget>
  <author><assignedAuthor>
    <id root="2.16.840.1.113883.2.9.4.3.2" extension="VRDLGU70T10A562X"/>
    <representedOrganization><id root="2.16.840.1.113883.2.9.4.1.3" extension="150201"/><name>ASL Roma 1</name></representedOrganization>
  </assignedAuthor></author>
  <custodian><assignedCustodian><representedCustodianOrganization><id root="2.16.840.1.113883.2.9.4.1.2"/></representedCustodianOrganization></assignedCustodian></custodian>
</ClinicalDocument>`

func testRequest() *Request {
	return &Request{
		DocumentID:      "2.16.840.1.113883.2.9.4.3.2^doc-1",
		RepositoryID:    "2.16.840.1.113883.2.9.4.1.1",
		SubmissionSetID: "sub-1",
		DocumentClass:   outcome.ClassLabReport,
		FacilityType:    "Ospedale",
		PracticeSetting: "AD_PSC001",
		ActivityType:    "PHR",
		Priority:        outcome.PriorityHigh,
	}
}

func testClaims() *claims.Payload {
	p := &claims.Payload{SubjectRole: "RSA", SubjectOrganizationID: "120"}
	p.Issuer = "ISS_CODE"
	p.Subject = "RSSMRA85T10A562S"
	return p
}

func newService(store *mockStore, reg *mockRegistry, eds *mockDocStore, mapper *mockMapper, em *mockEmitter, docstoreEnabled bool) *Service {
	builder := NewResourceBuilder(mapper, zerolog.Nop())
	hasher := intake.NewHasher(false, zerolog.Nop())
	return NewService(store, reg, eds, builder, em, testTopics, hasher, docstoreEnabled, zerolog.Nop())
}

func publishInput() *Input {
	return &Input{
		CDA:                testCDA,
		Raw:                []byte("%PDF-raw"),
		WorkflowInstanceID: "wii-1",
		TraceID:            "trace-1",
		Claims:             testClaims(),
		Request:            testRequest(),
	}
}

func TestPublishRequiresValidation(t *testing.T) {
	store := &mockStore{}
	em := &mockEmitter{}
	svc := newService(store, &mockRegistry{}, &mockDocStore{ok: true}, &mockMapper{}, em, true)

	_, err := svc.Publish(context.Background(), publishInput(), outcome.EventPublication)
	problem := outcome.AsProblem(err)
	if problem.Kind != outcome.KindNotValidated {
		t.Fatalf("kind = %d, want not-validated", problem.Kind)
	}
	if len(em.indexed) != 0 {
		t.Error("unvalidated document reached the indexer")
	}
	if st := em.lastStatus(); st == nil || st.EventStatus != outcome.StatusBlockingError {
		t.Errorf("status = %+v, want blocking error", st)
	}
}

func TestPublishIndexesAndConsumesHash(t *testing.T) {
	hasher := intake.NewHasher(false, zerolog.Nop())
	hash := hasher.DocumentHash(testCDA, "wii-1")
	store := &mockStore{info: &dedup.ValidationInfo{
		Validated: true, Hash: hash, WorkflowInstanceID: "wii-1",
		TransformID: "t1", EngineID: "e1",
	}}
	em := &mockEmitter{}
	svc := newService(store, &mockRegistry{}, &mockDocStore{ok: true}, &mockMapper{}, em, true)

	res, err := svc.Publish(context.Background(), publishInput(), outcome.EventPublication)
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if res.WorkflowInstanceID != "wii-1" {
		t.Errorf("wii = %q", res.WorkflowInstanceID)
	}
	if len(em.indexed) != 1 {
		t.Fatalf("indexed %d payloads, want 1", len(em.indexed))
	}
	out := &Resources{}
	if err := json.Unmarshal(em.indexed[0], out); err != nil {
		t.Fatalf("indexer payload not json: %v", err)
	}
	if len(out.Bundle) == 0 || len(out.SubmissionSet) == 0 || len(out.DocumentEntry) == 0 {
		t.Errorf("incomplete resources: %s", em.indexed[0])
	}
	if len(store.consumed) != 1 || store.consumed[0] != hash {
		t.Errorf("consumed = %v, want the canonical hash", store.consumed)
	}
}

func TestPublishWithoutWorkflowIDAdoptsStoredOne(t *testing.T) {
	hasher := intake.NewHasher(false, zerolog.Nop())
	hash := hasher.DocumentHash(testCDA, "")
	store := &mockStore{info: &dedup.ValidationInfo{
		Validated: true, Hash: hash, WorkflowInstanceID: "validation-wii",
	}}
	em := &mockEmitter{}
	svc := newService(store, &mockRegistry{}, &mockDocStore{ok: true}, &mockMapper{}, em, true)

	in := publishInput()
	in.WorkflowInstanceID = ""
	res, err := svc.Publish(context.Background(), in, outcome.EventPublication)
	if err != nil {
		t.Fatalf("publish without a workflow id must match by hash: %v", err)
	}
	if store.gotWii != "" {
		t.Errorf("store queried with wii %q, want empty", store.gotWii)
	}
	if res.WorkflowInstanceID != "validation-wii" {
		t.Errorf("wii = %q, want the one recorded at validation", res.WorkflowInstanceID)
	}
	if st := em.lastStatus(); st == nil || st.WorkflowInstanceID != "validation-wii" {
		t.Errorf("status = %+v, want the validation workflow id", st)
	}
}

func TestPublishBrokerFailureEmitsBlockingStatus(t *testing.T) {
	hasher := intake.NewHasher(false, zerolog.Nop())
	hash := hasher.DocumentHash(testCDA, "wii-1")
	store := &mockStore{info: &dedup.ValidationInfo{Validated: true, Hash: hash, WorkflowInstanceID: "wii-1"}}
	em := &mockEmitter{indexErr: errors.New("produce in transaction: broker down")}
	svc := newService(store, &mockRegistry{}, &mockDocStore{ok: true}, &mockMapper{}, em, true)

	_, err := svc.Publish(context.Background(), publishInput(), outcome.EventPublication)
	if err == nil {
		t.Fatal("expected the broker failure to surface")
	}
	if st := em.lastStatus(); st == nil || st.EventStatus != outcome.StatusBlockingError {
		t.Errorf("status = %+v, want blocking error", st)
	}
	if len(store.consumed) != 0 {
		t.Error("hash consumed despite the aborted publish")
	}
}

func TestPublishMapperErrorIsBlocking(t *testing.T) {
	hasher := intake.NewHasher(false, zerolog.Nop())
	hash := hasher.DocumentHash(testCDA, "wii-1")
	store := &mockStore{info: &dedup.ValidationInfo{Validated: true, Hash: hash, WorkflowInstanceID: "wii-1"}}
	em := &mockEmitter{}
	svc := newService(store, &mockRegistry{}, &mockDocStore{ok: true}, &mockMapper{errorMessage: "mapping refused"}, em, true)

	_, err := svc.Publish(context.Background(), publishInput(), outcome.EventPublication)
	if err == nil {
		t.Fatal("expected a rejection")
	}
	if st := em.lastStatus(); st == nil || st.EventStatus != outcome.StatusBlockingError {
		t.Errorf("status = %+v, want blocking error", st)
	}
	if len(store.consumed) != 0 {
		t.Error("hash consumed despite the failed publish")
	}
}

func TestPublishRejectsMalformedDocumentID(t *testing.T) {
	svc := newService(&mockStore{}, &mockRegistry{}, &mockDocStore{ok: true}, &mockMapper{}, &mockEmitter{}, true)
	in := publishInput()
	in.Request.DocumentID = "not a master id"
	_, err := svc.Publish(context.Background(), in, outcome.EventPublication)
	problem := outcome.AsProblem(err)
	if problem.Type != outcome.TypeInvalidDocumentID {
		t.Errorf("type = %q, want invalid document id", problem.Type)
	}
}

const updateDocID = "2.16.840.1.113883.2.9.4.3.2^doc-1"

func testMetadata() *UpdateMetadata {
	return &UpdateMetadata{FacilityType: "Ospedale", PracticeSetting: "AD_PSC001", ActivityType: "PHR"}
}

func TestUpdateHappyPath(t *testing.T) {
	reg := &mockRegistry{merge: &MergeResponse{Marshalled: json.RawMessage(`{"doc":1}`)}, updateOK: true}
	eds := &mockDocStore{ok: true}
	em := &mockEmitter{}
	svc := newService(&mockStore{}, reg, eds, &mockMapper{}, em, true)

	res, err := svc.Update(context.Background(), "trace-1", updateDocID, testMetadata(), testClaims())
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning %q", res.Warning)
	}
	if eds.updates != 1 || len(reg.updateReqs) != 1 {
		t.Errorf("downstream calls: eds=%d registry=%d", eds.updates, len(reg.updateReqs))
	}
	for _, st := range em.statuses {
		if st.EventStatus != outcome.StatusSuccess {
			t.Errorf("status %s = %s, want success", st.EventType, st.EventStatus)
		}
	}
}

func TestUpdateFatalMergeError(t *testing.T) {
	reg := &mockRegistry{merge: &MergeResponse{ErrorMessage: "document not found"}}
	em := &mockEmitter{}
	svc := newService(&mockStore{}, reg, &mockDocStore{ok: true}, &mockMapper{}, em, true)

	_, err := svc.Update(context.Background(), "trace-1", updateDocID, testMetadata(), testClaims())
	if err == nil {
		t.Fatal("expected a rejection")
	}
	if st := em.lastStatus(); st == nil || st.EventType != outcome.EventRegistryMerge || st.EventStatus != outcome.StatusBlockingError {
		t.Errorf("status = %+v, want registry merge blocking error", st)
	}
}

func TestUpdateUnreachableRegistryEmitsBlockingStatus(t *testing.T) {
	reg := &mockRegistry{mergeErr: outcome.NewProblem(outcome.KindUnreachable,
		outcome.TypeGenericError, "Servizio non disponibile.", "", "connection refused")}
	em := &mockEmitter{}
	svc := newService(&mockStore{}, reg, &mockDocStore{ok: true}, &mockMapper{}, em, true)

	_, err := svc.Update(context.Background(), "trace-1", updateDocID, testMetadata(), testClaims())
	problem := outcome.AsProblem(err)
	if problem.Kind != outcome.KindUnreachable {
		t.Fatalf("kind = %d, want unreachable", problem.Kind)
	}
	if st := em.lastStatus(); st == nil || st.EventType != outcome.EventRegistryMerge || st.EventStatus != outcome.StatusBlockingError {
		t.Errorf("status = %+v, want registry merge blocking error", st)
	}
}

func TestUpdateBenignMergeErrorProceeds(t *testing.T) {
	reg := &mockRegistry{
		merge:    &MergeResponse{Marshalled: json.RawMessage(`{"doc":1}`), ErrorMessage: "Invalid region ip for caller"},
		updateOK: true,
	}
	svc := newService(&mockStore{}, reg, &mockDocStore{ok: true}, &mockMapper{}, &mockEmitter{}, true)

	if _, err := svc.Update(context.Background(), "trace-1", updateDocID, testMetadata(), testClaims()); err != nil {
		t.Fatalf("benign merge complaint must not block: %v", err)
	}
	if len(reg.updateReqs) != 1 {
		t.Error("registry index update skipped")
	}
}

func TestUpdateMockRegimeSkipsIndexUpdate(t *testing.T) {
	reg := &mockRegistry{merge: &MergeResponse{}}
	em := &mockEmitter{}
	svc := newService(&mockStore{}, reg, &mockDocStore{ok: true}, &mockMapper{}, em, true)

	res, err := svc.Update(context.Background(), "trace-1", updateDocID, testMetadata(), testClaims())
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning %q", res.Warning)
	}
	if len(reg.updateReqs) != 0 {
		t.Error("index update called under mock regime")
	}
	if st := em.lastStatus(); st == nil || st.EventStatus != outcome.StatusSuccess {
		t.Errorf("status = %+v, want success", st)
	}
}

func TestUpdateDocStoreFailureIsFatal(t *testing.T) {
	reg := &mockRegistry{merge: &MergeResponse{Marshalled: json.RawMessage(`{"doc":1}`)}, updateOK: true}
	em := &mockEmitter{}
	svc := newService(&mockStore{}, reg, &mockDocStore{ok: false}, &mockMapper{}, em, true)

	_, err := svc.Update(context.Background(), "trace-1", updateDocID, testMetadata(), testClaims())
	if err == nil {
		t.Fatal("expected a rejection")
	}
	if len(reg.updateReqs) != 0 {
		t.Error("index update attempted after document store failure")
	}
	if st := em.lastStatus(); st == nil || st.EventType != outcome.EventDocStoreUpdate || st.EventStatus != outcome.StatusBlockingError {
		t.Errorf("status = %+v, want docstore blocking error", st)
	}
}

func TestUpdateRegistryRefusalDegradesToAsyncRetry(t *testing.T) {
	reg := &mockRegistry{merge: &MergeResponse{Marshalled: json.RawMessage(`{"doc":1}`)}, updateOK: false}
	em := &mockEmitter{}
	svc := newService(&mockStore{}, reg, &mockDocStore{ok: true}, &mockMapper{}, em, true)

	res, err := svc.Update(context.Background(), "trace-1", updateDocID, testMetadata(), testClaims())
	if err != nil {
		t.Fatalf("refused index update must not fail the caller: %v", err)
	}
	if res.Warning != WarnAsyncTransaction {
		t.Errorf("warning = %q, want %q", res.Warning, WarnAsyncTransaction)
	}
	if len(em.retries) != 1 || em.retries[0] != "retry-update" {
		t.Errorf("retries = %v, want one on retry-update", em.retries)
	}
	if st := em.lastStatus(); st == nil || st.EventStatus != outcome.StatusAsyncRetry {
		t.Errorf("status = %+v, want async retry", st)
	}
}

func TestDeleteRegistryRefusalDegradesToAsyncRetry(t *testing.T) {
	reg := &mockRegistry{deleteOK: false}
	em := &mockEmitter{}
	svc := newService(&mockStore{}, reg, &mockDocStore{ok: true}, &mockMapper{}, em, true)

	res, err := svc.Delete(context.Background(), "trace-1", updateDocID, testClaims())
	if err != nil {
		t.Fatalf("refused registry delete must not fail the caller: %v", err)
	}
	if res.Warning != WarnAsyncTransaction {
		t.Errorf("warning = %q", res.Warning)
	}
	if len(em.retries) != 1 || em.retries[0] != "retry-delete" {
		t.Errorf("retries = %v, want one on retry-delete", em.retries)
	}
}

func TestDeleteHappyPath(t *testing.T) {
	reg := &mockRegistry{deleteOK: true}
	eds := &mockDocStore{ok: true}
	em := &mockEmitter{}
	svc := newService(&mockStore{}, reg, eds, &mockMapper{}, em, true)

	res, err := svc.Delete(context.Background(), "trace-1", updateDocID, testClaims())
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if res.Warning != "" || eds.deletes != 1 || len(reg.deleteReqs) != 1 {
		t.Errorf("res=%+v eds=%d registry=%d", res, eds.deletes, len(reg.deleteReqs))
	}
}

func TestStatusEnvelopeCarriesIssuerPlaceholder(t *testing.T) {
	env := envelope("trace", "wii", outcome.EventUpdate, outcome.StatusSuccess, "doc", "ok", nil)
	if env.Issuer != claims.MissingIssuerPlaceholder {
		t.Errorf("issuer = %q", env.Issuer)
	}
}

func TestPublishedResourcesMineDocumentSlots(t *testing.T) {
	builder := NewResourceBuilder(&mockMapper{}, zerolog.Nop())
	res, err := builder.Build(context.Background(), testCDA, testRequest(), "RSA", "hash", "t1", "e1")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	entry := string(res.DocumentEntry)
	for _, want := range []string{
		`"patientId":"RSSMRA85T10A562S^^^&2.16.840.1.113883.2.9.4.3.2&ISO"`,
		`"typeCode":"11502-2"`,
		`"confidentialityCode":"N"`,
	} {
		if !strings.Contains(entry, want) {
			t.Errorf("document entry missing %s: %s", want, entry)
		}
	}
	if !strings.Contains(string(res.SubmissionSet), "ASL Roma 1") {
		t.Errorf("submission set missing author institution: %s", res.SubmissionSet)
	}
}
