package domain

import "context"

// ModelCatalog resolves model metadata.
type ModelCatalog interface {
	Get(modelID string) (ModelSpec, error)
	List() []ModelSpec
}

// AccountDirectory exposes account standing and the counters admission and
// reconciliation consult.
type AccountDirectory interface {
	GetAccount(ctx context.Context, userID string) (Account, error)
	FreeRemaining(ctx context.Context, userID, modelID string, allowance int) (int, error)
	ConsumeFree(ctx context.Context, userID, modelID string) error
	AdminSpent(ctx context.Context, userID string) (int64, error)
	RecordAdminSpend(ctx context.Context, userID string, amount int64) error
}

// HistoryStore persists finalized jobs. Only Append is needed by the engine.
type HistoryStore interface {
	Append(ctx context.Context, rec JobHistoryRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]JobHistoryRecord, error)
}
