package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgRepo struct {
	pool  *pgxpool.Pool
	table string
}

// NewRepoPG returns the production-partition repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &pgRepo{pool: pool, table: "validated_documents"}
}

// NewBenchmarkRepoPG returns the benchmark-partition repository. Benchmark
// writes land in their own table so synthetic floods cannot evict or collide
// with real records.
func NewBenchmarkRepoPG(pool *pgxpool.Pool) Repository {
	return &pgRepo{pool: pool, table: "validated_documents_benchmark"}
}

const recordCols = `id, hash, workflow_instance_id, transform_id, engine_id, inserted_at`

func (r *pgRepo) scan(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Hash, &rec.WorkflowInstanceID,
		&rec.TransformID, &rec.EngineID, &rec.InsertedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *pgRepo) Upsert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, hash, workflow_instance_id, transform_id, engine_id, inserted_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (hash) DO UPDATE SET
			workflow_instance_id = EXCLUDED.workflow_instance_id,
			transform_id = EXCLUDED.transform_id,
			engine_id = EXCLUDED.engine_id,
			inserted_at = NOW()`, r.table),
		rec.ID, rec.Hash, rec.WorkflowInstanceID, rec.TransformID, rec.EngineID)
	return err
}

func (r *pgRepo) FindByHash(ctx context.Context, hash string) (*Record, error) {
	return r.scan(r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE hash = $1`, recordCols, r.table), hash))
}

func (r *pgRepo) FindByWorkflowInstanceID(ctx context.Context, wii string) (*Record, error) {
	return r.scan(r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE workflow_instance_id = $1`, recordCols, r.table), wii))
}

func (r *pgRepo) Delete(ctx context.Context, hash string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE hash = $1`, r.table), hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgRepo) ShiftInsertedAt(ctx context.Context, wii string, days int) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s SET inserted_at = inserted_at + ($2 * INTERVAL '1 day')
		WHERE workflow_instance_id = $1
		RETURNING id`, r.table), wii, days).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
