// Package history persists finalized generation jobs.
package history

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"genbot/internal/domain"
)

// DefaultListLimit bounds ListByUser when the caller passes no limit.
const DefaultListLimit = 50

func prepare(rec domain.JobHistoryRecord) (domain.JobHistoryRecord, []byte, []byte, error) {
	if rec.UserID == "" || rec.JobID == "" {
		return rec, nil, nil, fmt.Errorf("history: user id and job id are required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = rec.CreatedAt
	}
	params, err := json.Marshal(nonNilParams(rec.Params))
	if err != nil {
		return rec, nil, nil, fmt.Errorf("history: encode params: %w", err)
	}
	urls := rec.ResultURLs
	if urls == nil {
		urls = []string{}
	}
	encodedURLs, err := json.Marshal(urls)
	if err != nil {
		return rec, nil, nil, fmt.Errorf("history: encode result urls: %w", err)
	}
	return rec, params, encodedURLs, nil
}

func nonNilParams(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	return p
}

func decodeJSON(params, urls []byte, rec *domain.JobHistoryRecord) error {
	if len(params) > 0 {
		if err := json.Unmarshal(params, &rec.Params); err != nil {
			return fmt.Errorf("history: decode params: %w", err)
		}
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &rec.ResultURLs); err != nil {
			return fmt.Errorf("history: decode result urls: %w", err)
		}
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return DefaultListLimit
	}
	return limit
}
