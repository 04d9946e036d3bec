package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"genbot/internal/domain"
)

// MockOptions tunes the simulated provider. Zero values select defaults.
type MockOptions struct {
	Now           func() time.Time
	Sleep         func(ctx context.Context, d time.Duration) error
	MinLatency    time.Duration
	MaxLatency    time.Duration
	QueueAfter    time.Duration
	GenerateAfter time.Duration
	SucceedAfter  time.Duration
	ResultBaseURL string
	// FailWhen makes matching jobs finish in the failed state.
	FailWhen func(modelID string, params map[string]any) bool
}

type mockJob struct {
	modelID   string
	createdAt time.Time
	fail      bool
	url       string
}

// Mock is a deterministic in-process provider. It never performs network
// I/O: ids and URLs are derived from hashes and state from elapsed time.
type Mock struct {
	opts MockOptions

	mu   sync.Mutex
	seq  uint64
	jobs map[string]*mockJob
}

var _ Gateway = (*Mock)(nil)

// NewMock constructs a mock gateway.
func NewMock(opts MockOptions) *Mock {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.MinLatency <= 0 {
		opts.MinLatency = 20 * time.Millisecond
	}
	if opts.MaxLatency < opts.MinLatency {
		opts.MaxLatency = 60 * time.Millisecond
		if opts.MaxLatency < opts.MinLatency {
			opts.MaxLatency = opts.MinLatency
		}
	}
	if opts.QueueAfter <= 0 {
		opts.QueueAfter = 150 * time.Millisecond
	}
	if opts.GenerateAfter <= 0 {
		opts.GenerateAfter = 300 * time.Millisecond
	}
	if opts.SucceedAfter <= 0 {
		opts.SucceedAfter = 600 * time.Millisecond
	}
	if opts.ResultBaseURL == "" {
		opts.ResultBaseURL = "https://mock.genbot.local/results"
	}
	return &Mock{opts: opts, jobs: make(map[string]*mockJob)}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Create(ctx context.Context, modelID string, params map[string]any, _ string) (*CreateResult, error) {
	if strings.TrimSpace(modelID) == "" {
		return nil, &domain.ProviderError{Kind: domain.KindValidation, StatusCode: 400, Message: "model is required"}
	}

	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	id := "mock-" + digest(modelID, canonicalParams(params), fmt.Sprint(seq))[:24]
	if err := m.opts.Sleep(ctx, m.latency(id)); err != nil {
		return nil, &domain.ProviderError{Kind: domain.KindNetwork, Message: "request cancelled", Err: err}
	}

	job := &mockJob{
		modelID:   modelID,
		createdAt: m.opts.Now(),
		url:       fmt.Sprintf("%s/%s%s", strings.TrimRight(m.opts.ResultBaseURL, "/"), digest(id)[:32], extensionFor(modelID)),
	}
	if m.opts.FailWhen != nil {
		job.fail = m.opts.FailWhen(modelID, params)
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return &CreateResult{JobID: id, State: domain.JobStateWaiting}, nil
}

func (m *Mock) GetStatus(ctx context.Context, jobID string) (*StatusResult, error) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return nil, &domain.ProviderError{Kind: domain.KindValidation, StatusCode: 400, Message: "unknown task id " + jobID}
	}

	if err := m.opts.Sleep(ctx, m.latency(jobID)); err != nil {
		return nil, &domain.ProviderError{Kind: domain.KindNetwork, Message: "request cancelled", Err: err}
	}

	elapsed := m.opts.Now().Sub(job.createdAt)
	res := &StatusResult{}
	switch {
	case elapsed >= m.opts.SucceedAfter && job.fail:
		res.State = domain.JobStateFailed
		res.FailCode = "500"
		res.FailMessage = "simulated failure"
	case elapsed >= m.opts.SucceedAfter:
		res.State = domain.JobStateSuccess
		res.ResultURLs = []string{job.url}
	case elapsed >= m.opts.GenerateAfter:
		res.State = domain.JobStateGenerating
	case elapsed >= m.opts.QueueAfter:
		res.State = domain.JobStateQueuing
	default:
		res.State = domain.JobStateWaiting
	}
	res.RawState = string(res.State)
	return res, nil
}

// latency is stable per job id so repeated runs see identical timings.
func (m *Mock) latency(id string) time.Duration {
	span := m.opts.MaxLatency - m.opts.MinLatency
	if span <= 0 {
		return m.opts.MinLatency
	}
	sum := sha256.Sum256([]byte(id))
	n := binary.BigEndian.Uint64(sum[:8])
	return m.opts.MinLatency + time.Duration(n%uint64(span+1))
}

func digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, params[k])
	}
	return b.String()
}

func extensionFor(modelID string) string {
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "veo"), strings.Contains(id, "kling"), strings.Contains(id, "video"), strings.Contains(id, "sora"):
		return ".mp4"
	case strings.Contains(id, "suno"), strings.Contains(id, "audio"), strings.Contains(id, "tts"):
		return ".mp3"
	default:
		return ".png"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
