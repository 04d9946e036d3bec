// Package kie talks to the Kie jobs API used for image, video and audio
// generation.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"genbot/internal/domain"
	"genbot/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("kie: api key is required")

const (
	createTaskPath = "/api/v1/jobs/createTask"
	recordInfoPath = "/api/v1/jobs/recordInfo"
)

// Options configures the Kie client.
type Options struct {
	APIKey            string
	BaseURL           string
	CallbackURL       string
	HTTPClient        *http.Client
	Logger            *infra.Logger
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client performs HTTP calls to the Kie jobs API.
type Client struct {
	apiKey      string
	baseURL     string
	callbackURL string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *infra.Logger
}

// TaskRecord is the normalized recordInfo payload.
type TaskRecord struct {
	TaskID      string
	Model       string
	State       string
	ResultURLs  []string
	FailCode    string
	FailMessage string
	CostTime    time.Duration
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type createTaskRequest struct {
	Model       string         `json:"model"`
	CallBackURL string         `json:"callBackUrl,omitempty"`
	Input       map[string]any `json:"input"`
}

type createTaskData struct {
	TaskID string `json:"taskId"`
}

type recordInfoData struct {
	TaskID     string `json:"taskId"`
	Model      string `json:"model"`
	State      string `json:"state"`
	ResultJSON string `json:"resultJson"`
	FailCode   string `json:"failCode"`
	FailMsg    string `json:"failMsg"`
	CostTime   int64  `json:"costTime"`
}

type resultPayload struct {
	ResultURLs []string `json:"resultUrls"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.kie.ai"
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		callbackURL: strings.TrimSpace(opts.CallbackURL),
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
	}, nil
}

// CreateTask submits a generation job and returns the provider task id.
// An empty callbackURL falls back to the configured one.
func (c *Client) CreateTask(ctx context.Context, model string, input map[string]any, callbackURL string) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", &domain.ProviderError{Kind: domain.KindValidation, Message: "model is required"}
	}
	if callbackURL == "" {
		callbackURL = c.callbackURL
	}
	body, err := json.Marshal(createTaskRequest{Model: model, CallBackURL: callbackURL, Input: input})
	if err != nil {
		return "", fmt.Errorf("kie: encode request: %w", err)
	}

	var data createTaskData
	if err := c.do(ctx, http.MethodPost, c.baseURL+createTaskPath, body, &data); err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", &domain.ProviderError{Kind: domain.KindUnknown, Message: "empty task id"}
	}
	c.logger.Debug().
		Str("model", model).
		Str("job_id", data.TaskID).
		Msg("kie: task created")
	return data.TaskID, nil
}

// RecordInfo fetches the current state of a task.
func (c *Client) RecordInfo(ctx context.Context, taskID string) (*TaskRecord, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, &domain.ProviderError{Kind: domain.KindValidation, Message: "task id is required"}
	}
	endpoint := c.baseURL + recordInfoPath + "?taskId=" + url.QueryEscape(taskID)

	var data recordInfoData
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &data); err != nil {
		return nil, err
	}

	rec := &TaskRecord{
		TaskID:      data.TaskID,
		Model:       data.Model,
		State:       data.State,
		FailCode:    data.FailCode,
		FailMessage: data.FailMsg,
		CostTime:    time.Duration(data.CostTime) * time.Millisecond,
	}
	if raw := strings.TrimSpace(data.ResultJSON); raw != "" {
		var result resultPayload
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, &domain.ProviderError{Kind: domain.KindUnknown, Message: "malformed resultJson", Err: err}
		}
		rec.ResultURLs = result.ResultURLs
	}
	return rec, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.ProviderError{Kind: domain.KindNetwork, Message: "rate limiter wait", Err: err}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("kie: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ProviderError{Kind: domain.KindNetwork, Message: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.ProviderError{Kind: domain.KindNetwork, Message: "read response", Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		code := ""
		if decodeErr == nil && env.Msg != "" {
			msg = env.Msg
			code = fmt.Sprint(env.Code)
		}
		return domain.NewProviderError(resp.StatusCode, code, msg, nil)
	}
	if decodeErr != nil {
		return &domain.ProviderError{Kind: domain.KindUnknown, StatusCode: resp.StatusCode, Message: "decode response", Err: decodeErr}
	}
	if env.Code != 0 && env.Code != http.StatusOK {
		return domain.NewProviderError(env.Code, fmt.Sprint(env.Code), env.Msg, nil)
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &domain.ProviderError{Kind: domain.KindUnknown, StatusCode: resp.StatusCode, Message: "decode data", Err: err}
		}
	}
	return nil
}
