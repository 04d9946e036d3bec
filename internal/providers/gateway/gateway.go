// Package gateway defines the provider boundary the engine talks to and its
// two implementations: a deterministic mock and the Kie HTTP provider.
package gateway

import (
	"context"

	"genbot/internal/domain"
)

// CreateResult is returned by a successful Create.
type CreateResult struct {
	JobID string
	State domain.JobState
}

// StatusResult is a single status observation.
type StatusResult struct {
	State       domain.JobState
	RawState    string
	ResultURLs  []string
	FailCode    string
	FailMessage string
}

// Gateway creates remote jobs and reports their status. Failures are returned
// as *domain.ProviderError.
type Gateway interface {
	Name() string
	Create(ctx context.Context, modelID string, params map[string]any, callbackURL string) (*CreateResult, error)
	GetStatus(ctx context.Context, jobID string) (*StatusResult, error)
}
