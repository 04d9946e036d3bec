// Package engine wires admission, the provider gateway, polling and
// reconciliation into the submit / track / complete lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"genbot/internal/admission"
	"genbot/internal/domain"
	"genbot/internal/infra"
	"genbot/internal/ledger"
	"genbot/internal/polling"
	"genbot/internal/providers/gateway"
	"genbot/internal/reconciler"
	"genbot/internal/registry"
	"genbot/internal/telemetry"
)

// CompletionEvent is fired whenever a job reaches an outcome, including the
// intermediate timeout outcome before recovery.
type CompletionEvent = reconciler.Completion

// Options wires the engine's collaborators.
type Options struct {
	Gateway  gateway.Gateway
	Registry *registry.Registry
	Catalog  domain.ModelCatalog
	Accounts domain.AccountDirectory
	Ledger   *ledger.Ledger
	History  domain.HistoryStore

	Poll                polling.Config
	Clock               polling.Clock
	DedupWindow         time.Duration
	MaxActivePerUser    int
	AdminPeriodLimit    int64
	ChargeMode          infra.ChargeMode
	MaxRecoveryAttempts int
	CallbackURL         string
	FinalizeTimeout     time.Duration

	Logger *infra.Logger
}

// SubmitResult is either an accepted job or a rejection.
type SubmitResult struct {
	Accepted  bool
	JobID     string
	State     domain.JobState
	Pricing   domain.PricingDecision
	Rejection *domain.Rejection
}

// Engine is safe for concurrent use.
type Engine struct {
	gw         gateway.Gateway
	reg        *registry.Registry
	guard      *admission.Guard
	poller     *polling.Poller
	reconciler *reconciler.Reconciler
	ledger     *ledger.Ledger
	clock      polling.Clock
	mode       infra.ChargeMode
	callback   string
	finalize   time.Duration
	logger     *infra.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	hmu      sync.RWMutex
	handlers []func(CompletionEvent)
}

// New constructs an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, errors.New("engine: gateway is required")
	}
	if opts.Catalog == nil || opts.Accounts == nil || opts.Ledger == nil {
		return nil, errors.New("engine: catalog, accounts and ledger are required")
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	clock := opts.Clock
	if clock == nil {
		clock = polling.SystemClock{}
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	mode := opts.ChargeMode
	if mode == "" {
		mode = infra.ChargeOnSuccess
	}
	finalize := opts.FinalizeTimeout
	if finalize <= 0 {
		finalize = 30 * time.Second
	}

	base, stop := context.WithCancel(context.Background())
	e := &Engine{
		gw:       opts.Gateway,
		reg:      reg,
		ledger:   opts.Ledger,
		clock:    clock,
		mode:     mode,
		callback: opts.CallbackURL,
		finalize: finalize,
		logger:   logger,
		baseCtx:  base,
		stop:     stop,
	}
	e.guard = admission.New(admission.Options{
		Registry:         reg,
		Catalog:          opts.Catalog,
		Accounts:         opts.Accounts,
		Balances:         opts.Ledger,
		DedupWindow:      opts.DedupWindow,
		MaxActivePerUser: opts.MaxActivePerUser,
		AdminPeriodLimit: opts.AdminPeriodLimit,
		Now:              clock.Now,
		Logger:           logger,
	})
	e.poller = polling.New(opts.Gateway, polling.Options{
		Config:  opts.Poll,
		Clock:   clock,
		Logger:  logger,
		OnState: e.onState,
	})
	e.reconciler = reconciler.New(reconciler.Options{
		Registry:            reg,
		Ledger:              opts.Ledger,
		Accounts:            opts.Accounts,
		History:             opts.History,
		ChargeMode:          mode,
		MaxRecoveryAttempts: opts.MaxRecoveryAttempts,
		Now:                 clock.Now,
		Logger:              logger,
		OnComplete:          e.dispatch,
	})
	return e, nil
}

// OnCompletion registers a handler for completion events. Handlers run on the
// goroutine that finalized the job and must not block.
func (e *Engine) OnCompletion(fn func(CompletionEvent)) {
	if fn == nil {
		return
	}
	e.hmu.Lock()
	e.handlers = append(e.handlers, fn)
	e.hmu.Unlock()
}

func (e *Engine) dispatch(c reconciler.Completion) {
	telemetry.ActiveJobs.Set(float64(e.reg.Len()))
	e.hmu.RLock()
	handlers := append([]func(CompletionEvent){}, e.handlers...)
	e.hmu.RUnlock()
	for _, fn := range handlers {
		fn(c)
	}
}

// Submit admits the request, creates the provider job and starts polling it.
// Rejections are reported in the result; the error is reserved for
// infrastructure and provider failures, in which case no job is tracked.
func (e *Engine) Submit(ctx context.Context, req domain.GenerationRequest, sink domain.StatusSink) (*SubmitResult, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, domain.ErrEngineStopped
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = e.clock.Now()
	}

	adm, err := e.guard.Admit(ctx, req)
	if err != nil {
		if rej, ok := domain.IsRejection(err); ok {
			telemetry.SubmissionsTotal.WithLabelValues(string(rej.Kind)).Inc()
			return &SubmitResult{Rejection: rej}, nil
		}
		telemetry.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	held := false
	if e.mode == infra.ChargeProvisional && adm.Pricing.Chargeable() {
		debit, err := e.ledger.SubtractBalance(ctx, req.UserID, adm.Pricing.Price)
		if err != nil {
			e.reg.Release(req.UserID, adm.ReservationID)
			telemetry.SubmissionsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("engine: provisional hold: %w", err)
		}
		if !debit.OK {
			e.reg.Release(req.UserID, adm.ReservationID)
			rej := &domain.Rejection{Kind: domain.KindInsufficientFunds, Need: adm.Pricing.Price, Have: debit.Balance}
			rej.Message = domain.RejectionMessage(language.English, rej)
			telemetry.SubmissionsTotal.WithLabelValues(string(rej.Kind)).Inc()
			return &SubmitResult{Rejection: rej}, nil
		}
		held = true
	}

	abort := func(cause error) (*SubmitResult, error) {
		e.reg.Release(req.UserID, adm.ReservationID)
		if held {
			if _, err := e.ledger.AddBalance(context.WithoutCancel(ctx), req.UserID, adm.Pricing.Price); err != nil {
				e.logger.Error().Err(err).Str("user_id", req.UserID).Msg("engine: hold refund failed")
			}
		}
		telemetry.SubmissionsTotal.WithLabelValues("error").Inc()
		return nil, cause
	}

	// An unsettled hold would be skipped by the refund path at finalization.
	if held {
		if err := e.reg.MarkSettled(req.UserID, adm.ReservationID); err != nil {
			e.logger.Error().Err(err).Str("user_id", req.UserID).Msg("engine: mark hold settled failed")
			return abort(fmt.Errorf("engine: mark hold settled: %w", err))
		}
	}

	created, err := e.gw.Create(ctx, adm.Spec.ProviderModel(), adm.Params, e.callback)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", req.UserID).Str("model", req.ModelID).Msg("engine: provider create failed")
		return abort(domain.AsProviderError(err))
	}

	state := created.State
	if state == "" {
		state = domain.JobStateWaiting
	}
	job := &domain.Job{
		ID:        created.JobID,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		ModelID:   req.ModelID,
		Params:    domain.CloneParams(adm.Params),
		CreatedAt: adm.AdmittedAt,
		State:     state,
		Price:     adm.Pricing.Price,
	}

	// Shutdown flips closed under the write lock, so no poll goroutine is
	// added once it has started waiting.
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return abort(domain.ErrEngineStopped)
	}
	pollCtx, cancel := context.WithCancel(e.baseCtx)
	if err := e.reg.Commit(req.UserID, adm.ReservationID, job, sink, cancel); err != nil {
		e.mu.RUnlock()
		cancel()
		return abort(fmt.Errorf("engine: register job %s: %w", job.ID, err))
	}
	if sink != nil {
		sink.JobUpdated(job.Clone())
	}
	e.wg.Add(1)
	go e.track(pollCtx, req.UserID, job.ID)
	e.mu.RUnlock()

	telemetry.SubmissionsTotal.WithLabelValues("accepted").Inc()
	telemetry.ActiveJobs.Set(float64(e.reg.Len()))
	e.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", req.UserID).
		Str("model", req.ModelID).
		Int64("price", adm.Pricing.Price).
		Bool("free", adm.Pricing.Free).
		Msg("engine: job submitted")
	return &SubmitResult{Accepted: true, JobID: job.ID, State: state, Pricing: adm.Pricing}, nil
}

// track is the per-job goroutine.
func (e *Engine) track(ctx context.Context, userID, jobID string) {
	defer e.wg.Done()
	res, err := e.poller.Poll(ctx, jobID)
	if err != nil {
		e.logger.Debug().Err(err).Str("job_id", jobID).Msg("engine: poll loop stopped")
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.finalize)
	defer cancel()
	if _, err := e.reconciler.Reconcile(fctx, userID, jobID, res); err != nil && !errors.Is(err, reconciler.ErrNotActive) {
		e.logger.Error().Err(err).Str("job_id", jobID).Msg("engine: reconcile failed")
	}
}

func (e *Engine) onState(jobID string, st *gateway.StatusResult) {
	entry, ok := e.reg.Lookup(jobID)
	if !ok {
		return
	}
	updated, ok := e.reg.Update(entry.UserID, jobID, func(job *domain.Job) {
		job.State = st.State
		if len(st.ResultURLs) > 0 {
			job.ResultURLs = append([]string(nil), st.ResultURLs...)
		}
	})
	if ok && updated.Sink != nil {
		updated.Sink.JobUpdated(updated.Job)
	}
}

// ActiveCount returns the number of in-flight jobs and pending admissions
// held by the user.
func (e *Engine) ActiveCount(userID string) int {
	return e.reg.CountActive(userID)
}

// Job returns a copy of an in-flight job.
func (e *Engine) Job(userID, jobID string) (*domain.Job, bool) {
	entry, ok := e.reg.Get(userID, jobID)
	if !ok || entry.Job == nil {
		return nil, false
	}
	return entry.Job, true
}

// Active lists the user's in-flight jobs, oldest first.
func (e *Engine) Active(userID string) []*domain.Job {
	var out []*domain.Job
	for _, entry := range e.reg.Snapshot() {
		if entry.UserID == userID && entry.Job != nil {
			out = append(out, entry.Job)
		}
	}
	return out
}

// Cancel stops tracking the job and finalizes it as cancelled. Any
// provisional hold is refunded. It reports whether the job was active.
func (e *Engine) Cancel(ctx context.Context, userID, jobID string) bool {
	_, err := e.reconciler.Reconcile(ctx, userID, jobID, &polling.Result{Kind: polling.ResultCancelled})
	return err == nil
}

// Refresh performs one immediate status check, typically triggered by a
// provider callback. Terminal jobs are finalized right away; the poll loop
// then finds the job gone and exits. Unknown job ids return domain.ErrNotFound.
func (e *Engine) Refresh(ctx context.Context, jobID string) (domain.JobState, error) {
	if e.reconciler.IsPending(jobID) {
		e.reconciler.RecoverOne(ctx, jobID, e.poller.Check)
		return "", nil
	}
	entry, ok := e.reg.Lookup(jobID)
	if !ok {
		return "", domain.ErrNotFound
	}
	st, err := e.poller.Check(ctx, jobID)
	if err != nil {
		return "", err
	}
	e.onState(jobID, st)
	if st.State.IsTerminal() {
		res := &polling.Result{Kind: polling.ResultTerminal, Status: st, Polls: 1}
		if _, err := e.reconciler.Reconcile(ctx, entry.UserID, jobID, res); err != nil && !errors.Is(err, reconciler.ErrNotActive) {
			return st.State, err
		}
	}
	return st.State, nil
}

// Unresolved returns the jobs waiting for recovery.
func (e *Engine) Unresolved() []reconciler.Unresolved {
	return e.reconciler.Pending()
}

// Recover checks every unresolved job once and returns how many were
// resolved or abandoned.
func (e *Engine) Recover(ctx context.Context) int {
	return e.reconciler.Recover(ctx, e.poller.Check)
}

// RunRecovery calls Recover every interval until ctx is done.
func (e *Engine) RunRecovery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := e.Recover(ctx); n > 0 {
				e.logger.Info().Int("resolved", n).Msg("engine: recovery sweep")
			}
		}
	}
}

// Shutdown stops accepting submissions, cancels every poll loop and waits for
// the loops to finalize their jobs or for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: shutdown: %w", ctx.Err())
	}
}
