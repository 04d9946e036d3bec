package gateway

import (
	"context"

	"genbot/internal/domain"
	"genbot/internal/providers/kie"
)

// Kie adapts the Kie jobs client to the Gateway contract.
type Kie struct {
	client *kie.Client
}

var _ Gateway = (*Kie)(nil)

// NewKie wraps an already configured client.
func NewKie(client *kie.Client) *Kie {
	return &Kie{client: client}
}

func (k *Kie) Name() string { return "kie" }

func (k *Kie) Create(ctx context.Context, modelID string, params map[string]any, callbackURL string) (*CreateResult, error) {
	id, err := k.client.CreateTask(ctx, modelID, params, callbackURL)
	if err != nil {
		return nil, domain.AsProviderError(err)
	}
	return &CreateResult{JobID: id, State: domain.JobStateWaiting}, nil
}

func (k *Kie) GetStatus(ctx context.Context, jobID string) (*StatusResult, error) {
	rec, err := k.client.RecordInfo(ctx, jobID)
	if err != nil {
		return nil, domain.AsProviderError(err)
	}
	return &StatusResult{
		State:       domain.ParseJobState(rec.State),
		RawState:    rec.State,
		ResultURLs:  rec.ResultURLs,
		FailCode:    rec.FailCode,
		FailMessage: rec.FailMessage,
	}, nil
}
