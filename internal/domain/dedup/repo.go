package dedup

import "context"

// Repository is the persistence contract for validation records. Upsert is
// last-writer-wins on hash; implementations must expose the same operations
// for the structurally separate benchmark partition.
type Repository interface {
	Upsert(ctx context.Context, rec *Record) error
	FindByHash(ctx context.Context, hash string) (*Record, error)
	FindByWorkflowInstanceID(ctx context.Context, wii string) (*Record, error)
	Delete(ctx context.Context, hash string) (bool, error)
	ShiftInsertedAt(ctx context.Context, wii string, days int) (string, error)
}
