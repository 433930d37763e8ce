package dedup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// Service wraps the repositories with the store's business rules: logical
// expiry, fail-closed workflow-id matching, and the empty-hash guard.
// Storage failures surface as fatal store problems; callers never retry.
type Service struct {
	repo      Repository
	benchmark Repository
	retention time.Duration
	logger    zerolog.Logger
}

// NewService builds the store service. retentionDays bounds how long a
// validated hash stays consumable; zero disables expiry.
func NewService(repo, benchmark Repository, retentionDays int, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		benchmark: benchmark,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
	}
}

func storeError(op string, err error) error {
	return outcome.NewProblem(outcome.KindStore,
		outcome.TypeGenericError, "Errore generico.", "", op).WithCause(err)
}

func (s *Service) expired(rec *Record) bool {
	return s.retention > 0 && time.Since(rec.InsertedAt) > s.retention
}

// Put registers hash as validated under wii. A previous record for the same
// hash is overwritten, last writer wins.
func (s *Service) Put(ctx context.Context, hash, wii, transformID, engineID string) error {
	err := s.repo.Upsert(ctx, &Record{
		Hash:               hash,
		WorkflowInstanceID: wii,
		TransformID:        transformID,
		EngineID:           engineID,
	})
	if err != nil {
		return storeError("insert validated document", err)
	}
	return nil
}

// Get returns the live record for hash, or nil when absent or expired.
func (s *Service) Get(ctx context.Context, hash string) (*Record, error) {
	rec, err := s.repo.FindByHash(ctx, hash)
	if err != nil {
		return nil, storeError("retrieve validated document by hash", err)
	}
	if rec == nil || s.expired(rec) {
		return nil, nil
	}
	return rec, nil
}

// GetByWorkflowInstanceID returns the live record bound to wii, or nil.
func (s *Service) GetByWorkflowInstanceID(ctx context.Context, wii string) (*Record, error) {
	rec, err := s.repo.FindByWorkflowInstanceID(ctx, wii)
	if err != nil {
		return nil, storeError("retrieve validated document by workflow id", err)
	}
	if rec == nil || s.expired(rec) {
		return nil, nil
	}
	return rec, nil
}

// Consume deletes the record for hash, reporting whether one existed.
// Empty hashes short-circuit before touching storage.
func (s *Service) Consume(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	ok, err := s.repo.Delete(ctx, hash)
	if err != nil {
		return false, storeError("delete validated document", err)
	}
	return ok, nil
}

// ExtendExpiry slides the record's insertion date forward by days, returning
// the record id, or "" when no record is bound to wii.
func (s *Service) ExtendExpiry(ctx context.Context, wii string, days int) (string, error) {
	id, err := s.repo.ShiftInsertedAt(ctx, wii, days)
	if err != nil {
		return "", storeError("update validated document insertion date", err)
	}
	return id, nil
}

// RetrieveValidationInfo answers whether hash may be published under wii.
// A record bound to a different workflow id counts as not validated.
func (s *Service) RetrieveValidationInfo(ctx context.Context, hash, wii string) (*ValidationInfo, error) {
	rec, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	info := &ValidationInfo{Hash: hash}
	if rec == nil || rec.WorkflowInstanceID == "" {
		return info, nil
	}
	if wii != "" && rec.WorkflowInstanceID != wii {
		s.logger.Warn().Str("workflow_instance_id", wii).
			Msg("hash validated under a different workflow id")
		return info, nil
	}
	info.Validated = true
	info.WorkflowInstanceID = rec.WorkflowInstanceID
	info.TransformID = rec.TransformID
	info.EngineID = rec.EngineID
	return info, nil
}

// PutBenchmark mirrors Put against the benchmark partition.
func (s *Service) PutBenchmark(ctx context.Context, hash, wii, transformID, engineID string) error {
	err := s.benchmark.Upsert(ctx, &Record{
		Hash:               hash,
		WorkflowInstanceID: wii,
		TransformID:        transformID,
		EngineID:           engineID,
	})
	if err != nil {
		return storeError("insert benchmark document", err)
	}
	return nil
}

// GetBenchmark mirrors Get against the benchmark partition.
func (s *Service) GetBenchmark(ctx context.Context, hash string) (*Record, error) {
	rec, err := s.benchmark.FindByHash(ctx, hash)
	if err != nil {
		return nil, storeError("retrieve benchmark document", err)
	}
	if rec == nil || s.expired(rec) {
		return nil, nil
	}
	return rec, nil
}

// ConsumeBenchmark mirrors Consume against the benchmark partition.
func (s *Service) ConsumeBenchmark(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	ok, err := s.benchmark.Delete(ctx, hash)
	if err != nil {
		return false, storeError("delete benchmark document", err)
	}
	return ok, nil
}

// ExtendBenchmarkExpiry mirrors ExtendExpiry against the benchmark partition.
func (s *Service) ExtendBenchmarkExpiry(ctx context.Context, wii string, days int) (string, error) {
	id, err := s.benchmark.ShiftInsertedAt(ctx, wii, days)
	if err != nil {
		return "", storeError("update benchmark insertion date", err)
	}
	return id, nil
}
