// Package polling drives a provider job to a terminal state with bounded
// exponential backoff.
package polling

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"genbot/internal/domain"
	"genbot/internal/infra"
	"genbot/internal/providers/gateway"
	"genbot/internal/telemetry"
)

// Config bounds a poll loop.
type Config struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxPolls     int
}

// DefaultConfig returns the production backoff settings.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 2 * time.Second,
		Multiplier:   1.5,
		MaxDelay:     30 * time.Second,
		MaxPolls:     300,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = d.MaxPolls
	}
	return c
}

// NextDelay applies the multiplier and the cap.
func (c Config) NextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * c.Multiplier)
	if next > c.MaxDelay {
		return c.MaxDelay
	}
	return next
}

// ResultKind tells how a poll loop ended.
type ResultKind string

const (
	ResultTerminal  ResultKind = "terminal"
	ResultTimedOut  ResultKind = "timed_out"
	ResultCancelled ResultKind = "cancelled"
)

// Result is the outcome of Poll. Status is the last successful observation
// and may be nil when every call failed.
type Result struct {
	Kind    ResultKind
	Status  *gateway.StatusResult
	LastErr *domain.ProviderError
	Polls   int
	Waited  time.Duration
	Elapsed time.Duration
}

// State returns the last observed state, or "" when nothing was observed.
func (r *Result) State() domain.JobState {
	if r == nil || r.Status == nil {
		return ""
	}
	return r.Status.State
}

// Observation is emitted after every status call. It is informational only.
type Observation struct {
	JobID   string
	Poll    int
	State   domain.JobState
	Waited  time.Duration
	Latency time.Duration
	Elapsed time.Duration
	Err     error
}

// Options configures a Poller.
type Options struct {
	Config   Config
	Clock    Clock
	Logger   *infra.Logger
	Observer func(Observation)
	// OnState is called whenever a successful observation changes the state.
	OnState func(jobID string, st *gateway.StatusResult)
}

// Poller polls a gateway. A single Poller is shared by all jobs; each Poll
// call keeps its own state and takes no locks.
type Poller struct {
	gw       gateway.Gateway
	cfg      Config
	clock    Clock
	logger   *infra.Logger
	observer func(Observation)
	onState  func(string, *gateway.StatusResult)
}

// New constructs a Poller.
func New(gw gateway.Gateway, opts Options) *Poller {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Poller{
		gw:       gw,
		cfg:      opts.Config.withDefaults(),
		clock:    clock,
		logger:   logger,
		observer: opts.Observer,
		onState:  opts.OnState,
	}
}

// Config returns the effective configuration.
func (p *Poller) Config() Config { return p.cfg }

// Poll runs until the job is terminal, the poll budget is spent or ctx is
// done. Status errors are treated as non-terminal and retried. After MaxPolls
// non-terminal observations one final check is made; if that is still not
// terminal the result is ResultTimedOut. The returned error is non-nil only
// for cancellation.
func (p *Poller) Poll(ctx context.Context, jobID string) (*Result, error) {
	res := &Result{}
	start := p.clock.Now()
	delay := p.cfg.InitialDelay
	var lastState domain.JobState

	finish := func(kind ResultKind) *Result {
		res.Kind = kind
		res.Elapsed = p.clock.Now().Sub(start)
		return res
	}

	for poll := 1; poll <= p.cfg.MaxPolls+1; poll++ {
		if err := ctx.Err(); err != nil {
			return finish(ResultCancelled), err
		}

		st, err := p.observe(ctx, jobID, poll, res.Waited, start)
		res.Polls = poll
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish(ResultCancelled), ctxErr
			}
			res.LastErr = domain.AsProviderError(err)
		} else {
			res.Status = st
			if st.State != lastState {
				lastState = st.State
				if p.onState != nil {
					p.onState(jobID, st)
				}
			}
			if st.State.IsTerminal() {
				return finish(ResultTerminal), nil
			}
		}

		// The extra iteration is the final check after the budget is spent.
		if poll > p.cfg.MaxPolls {
			break
		}
		if err := p.clock.Sleep(ctx, delay); err != nil {
			return finish(ResultCancelled), err
		}
		res.Waited += delay
		delay = p.cfg.NextDelay(delay)
	}

	p.logger.Warn().
		Str("job_id", jobID).
		Int("polls", res.Polls).
		Dur("waited", res.Waited).
		Str("state", string(res.State())).
		Msg("polling: budget exhausted without terminal state")
	return finish(ResultTimedOut), nil
}

// Check performs one status call outside any loop, e.g. for callbacks or
// recovery.
func (p *Poller) Check(ctx context.Context, jobID string) (*gateway.StatusResult, error) {
	start := p.clock.Now()
	return p.observe(ctx, jobID, 0, 0, start)
}

func (p *Poller) observe(ctx context.Context, jobID string, poll int, waited time.Duration, start time.Time) (*gateway.StatusResult, error) {
	began := p.clock.Now()
	st, err := p.gw.GetStatus(ctx, jobID)
	now := p.clock.Now()

	obs := Observation{
		JobID:   jobID,
		Poll:    poll,
		Waited:  waited,
		Latency: now.Sub(began),
		Elapsed: now.Sub(start),
		Err:     err,
	}
	if err == nil && st == nil {
		err = errors.New("polling: empty status")
		obs.Err = err
	}
	if err == nil {
		obs.State = st.State
	}
	p.emit(obs)
	return st, err
}

func (p *Poller) emit(obs Observation) {
	label := string(obs.State)
	if obs.Err != nil {
		label = "error"
	} else if !obs.State.Known() {
		label = "unknown"
	}
	telemetry.PollsTotal.WithLabelValues(label).Inc()
	telemetry.PollLatency.WithLabelValues(p.gw.Name()).Observe(obs.Latency.Seconds())

	evt := p.logger.Debug().
		Str("job_id", obs.JobID).
		Int("poll", obs.Poll).
		Str("state", string(obs.State)).
		Dur("waited", obs.Waited).
		Dur("latency", obs.Latency).
		Dur("elapsed", obs.Elapsed)
	if obs.Err != nil {
		evt = evt.Err(obs.Err)
	}
	evt.Msg("polling: observation")

	if p.observer != nil {
		p.observer(obs)
	}
}
