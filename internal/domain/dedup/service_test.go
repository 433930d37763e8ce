package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// -- Mock repository --

type mockRepo struct {
	byHash  map[string]*Record
	failing bool
	deletes int
}

func newMockRepo() *mockRepo {
	return &mockRepo{byHash: make(map[string]*Record)}
}

func (m *mockRepo) Upsert(_ context.Context, rec *Record) error {
	if m.failing {
		return errors.New("storage down")
	}
	if existing, ok := m.byHash[rec.Hash]; ok {
		existing.WorkflowInstanceID = rec.WorkflowInstanceID
		existing.TransformID = rec.TransformID
		existing.EngineID = rec.EngineID
		existing.InsertedAt = time.Now()
		return nil
	}
	rec.ID = uuid.NewString()
	rec.InsertedAt = time.Now()
	m.byHash[rec.Hash] = rec
	return nil
}

func (m *mockRepo) FindByHash(_ context.Context, hash string) (*Record, error) {
	if m.failing {
		return nil, errors.New("storage down")
	}
	return m.byHash[hash], nil
}

func (m *mockRepo) FindByWorkflowInstanceID(_ context.Context, wii string) (*Record, error) {
	if m.failing {
		return nil, errors.New("storage down")
	}
	for _, rec := range m.byHash {
		if rec.WorkflowInstanceID == wii {
			return rec, nil
		}
	}
	return nil, nil
}

func (m *mockRepo) Delete(_ context.Context, hash string) (bool, error) {
	if m.failing {
		return false, errors.New("storage down")
	}
	m.deletes++
	_, ok := m.byHash[hash]
	delete(m.byHash, hash)
	return ok, nil
}

func (m *mockRepo) ShiftInsertedAt(_ context.Context, wii string, days int) (string, error) {
	if m.failing {
		return "", errors.New("storage down")
	}
	for _, rec := range m.byHash {
		if rec.WorkflowInstanceID == wii {
			rec.InsertedAt = rec.InsertedAt.AddDate(0, 0, days)
			return rec.ID, nil
		}
	}
	return "", nil
}

func newTestService(repo *mockRepo) *Service {
	return NewService(repo, newMockRepo(), 5, zerolog.Nop())
}

// -- Tests --

func TestPutLastWriterWins(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.Put(ctx, "h1", "wii-1", "t1", "e1"); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := svc.Put(ctx, "h1", "wii-2", "t2", "e2"); err != nil {
		t.Fatalf("second put: %v", err)
	}

	if len(repo.byHash) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(repo.byHash))
	}
	rec, err := svc.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.WorkflowInstanceID != "wii-2" {
		t.Errorf("expected second workflow id to win, got %q", rec.WorkflowInstanceID)
	}
}

func TestGetExpiredRecord(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.Put(ctx, "h1", "wii-1", "", ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	repo.byHash["h1"].InsertedAt = time.Now().AddDate(0, 0, -6)

	rec, err := svc.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Error("expected expired record to be invisible")
	}
}

func TestConsumeEmptyHashNeverTouchesStorage(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)

	ok, err := svc.Consume(context.Background(), "")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok {
		t.Error("empty hash must report false")
	}
	if repo.deletes != 0 {
		t.Error("empty hash must not invoke the repository")
	}
}

func TestConsumeExisting(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.Put(ctx, "h1", "wii-1", "", ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := svc.Consume(ctx, "h1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !ok {
		t.Error("expected consume of existing hash to report true")
	}
	if ok, _ = svc.Consume(ctx, "h1"); ok {
		t.Error("expected second consume to report false")
	}
}

func TestRetrieveValidationInfo(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.Put(ctx, "h1", "wii-stored", "t1", "e1"); err != nil {
		t.Fatalf("put: %v", err)
	}

	info, err := svc.RetrieveValidationInfo(ctx, "h1", "wii-stored")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !info.Validated {
		t.Error("matching workflow id should be validated")
	}
	if info.TransformID != "t1" || info.EngineID != "e1" {
		t.Errorf("expected transform/engine ids, got %q/%q", info.TransformID, info.EngineID)
	}

	info, err = svc.RetrieveValidationInfo(ctx, "h1", "another-wii")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if info.Validated {
		t.Error("mismatching workflow id must fail closed")
	}

	info, err = svc.RetrieveValidationInfo(ctx, "unknown", "wii-stored")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if info.Validated {
		t.Error("unknown hash must not be validated")
	}
}

func TestExtendExpiry(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if err := svc.Put(ctx, "h1", "wii-1", "", ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	before := repo.byHash["h1"].InsertedAt

	id, err := svc.ExtendExpiry(ctx, "wii-1", 2)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if id == "" {
		t.Error("expected the record id")
	}
	if got := repo.byHash["h1"].InsertedAt; !got.After(before) {
		t.Error("expected insertion date shifted forward")
	}

	id, err = svc.ExtendExpiry(ctx, "wii-unknown", 2)
	if err != nil {
		t.Fatalf("extend unknown: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty id for unknown workflow id, got %q", id)
	}
}

func TestStorageFailureIsStoreProblem(t *testing.T) {
	repo := newMockRepo()
	repo.failing = true
	svc := newTestService(repo)

	err := svc.Put(context.Background(), "h1", "wii-1", "", "")
	if err == nil {
		t.Fatal("expected error")
	}
	p := outcome.AsProblem(err)
	if p.Kind != outcome.KindStore {
		t.Errorf("expected store kind, got %v", p.Kind)
	}
}

func TestBenchmarkPartitionIsolation(t *testing.T) {
	repo := newMockRepo()
	bench := newMockRepo()
	svc := NewService(repo, bench, 5, zerolog.Nop())
	ctx := context.Background()

	if err := svc.PutBenchmark(ctx, "h1", "wii-b", "", ""); err != nil {
		t.Fatalf("put benchmark: %v", err)
	}
	rec, err := svc.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Error("benchmark record must not be visible in the production partition")
	}
	rec, err = svc.GetBenchmark(ctx, "h1")
	if err != nil {
		t.Fatalf("get benchmark: %v", err)
	}
	if rec == nil {
		t.Error("expected the benchmark record")
	}
}
