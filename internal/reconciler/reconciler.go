// Package reconciler finalizes jobs exactly once: it settles billing, writes
// history, releases the registry entry and announces the outcome.
package reconciler

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"genbot/internal/domain"
	"genbot/internal/infra"
	"genbot/internal/ledger"
	"genbot/internal/polling"
	"genbot/internal/providers/gateway"
	"genbot/internal/registry"
	"genbot/internal/telemetry"
)

// ErrNotActive is returned when the job was already finalized by another
// caller or was never registered.
var ErrNotActive = errors.New("reconciler: job is not active")

// Completion is the event fired when a job reaches an outcome.
type Completion struct {
	UserID     string
	JobID      string
	ModelID    string
	Outcome    domain.Outcome
	ResultURLs []string
	ErrorKind  domain.ErrorKind
	Message    string
	Price      int64
	Charged    int64
	Refunded   int64
	Attempts   int
}

// Unresolved is a timed-out job awaiting recovery.
type Unresolved struct {
	Entry    registry.Entry
	Attempts int
	Since    time.Time
}

// Options configures a Reconciler.
type Options struct {
	Registry            *registry.Registry
	Ledger              *ledger.Ledger
	Accounts            domain.AccountDirectory
	History             domain.HistoryStore
	ChargeMode          infra.ChargeMode
	MaxRecoveryAttempts int
	Now                 func() time.Time
	Logger              *infra.Logger
	OnComplete          func(Completion)
}

// Reconciler owns the finalization path and the unresolved set.
type Reconciler struct {
	reg         *registry.Registry
	ledger      *ledger.Ledger
	accounts    domain.AccountDirectory
	history     domain.HistoryStore
	mode        infra.ChargeMode
	maxAttempts int
	now         func() time.Time
	logger      *infra.Logger
	onComplete  func(Completion)

	mu         sync.Mutex
	unresolved map[string]*Unresolved
}

// New constructs a Reconciler.
func New(opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	mode := opts.ChargeMode
	if mode == "" {
		mode = infra.ChargeOnSuccess
	}
	attempts := opts.MaxRecoveryAttempts
	if attempts <= 0 {
		attempts = 5
	}
	return &Reconciler{
		reg:         opts.Registry,
		ledger:      opts.Ledger,
		accounts:    opts.Accounts,
		history:     opts.History,
		mode:        mode,
		maxAttempts: attempts,
		now:         now,
		logger:      logger,
		onComplete:  opts.OnComplete,
		unresolved:  make(map[string]*Unresolved),
	}
}

// Reconcile finalizes the job according to the poll result. Only the first
// caller for a job does any work; later callers get ErrNotActive.
func (r *Reconciler) Reconcile(ctx context.Context, userID, jobID string, res *polling.Result) (*Completion, error) {
	entry, ok := r.reg.Remove(userID, jobID)
	if !ok {
		return nil, ErrNotActive
	}

	switch {
	case res == nil || res.Kind == polling.ResultCancelled:
		return r.finalize(ctx, entry, domain.OutcomeCancelled, nil, nil, 0), nil
	case res.Kind == polling.ResultTimedOut:
		return r.park(entry, res), nil
	case res.State() == domain.JobStateSuccess:
		return r.finalize(ctx, entry, domain.OutcomeSuccess, res.Status, nil, 0), nil
	default:
		return r.finalize(ctx, entry, domain.OutcomeFailed, res.Status, failure(res.Status, res.LastErr), 0), nil
	}
}

// park moves a timed-out job to the unresolved set. Nothing is charged and a
// provisional hold stays until recovery decides. The registry keeps the
// price claimed so the same balance cannot fund another job meanwhile.
func (r *Reconciler) park(entry registry.Entry, res *polling.Result) *Completion {
	r.reg.Park(entry)
	r.mu.Lock()
	r.unresolved[entry.ID] = &Unresolved{Entry: entry, Since: r.now()}
	r.mu.Unlock()

	kind := domain.KindUnknown
	if res.LastErr != nil {
		kind = res.LastErr.Kind
	}
	r.logger.Warn().
		Str("job_id", entry.ID).
		Str("user_id", entry.UserID).
		Str("state", string(res.State())).
		Int("polls", res.Polls).
		Msg("reconciler: job timed out, awaiting recovery")

	r.updateSink(entry, res.State(), nil)
	c := Completion{
		UserID:    entry.UserID,
		JobID:     entry.ID,
		ModelID:   entry.ModelID,
		Outcome:   domain.OutcomeTimeout,
		ErrorKind: kind,
		Price:     entry.Pricing.Price,
	}
	telemetry.OutcomesTotal.WithLabelValues(string(domain.OutcomeTimeout)).Inc()
	r.emit(c)
	return &c
}

// Pending returns the unresolved jobs ordered by the time they were parked.
func (r *Reconciler) Pending() []Unresolved {
	r.mu.Lock()
	out := make([]Unresolved, 0, len(r.unresolved))
	for _, u := range r.unresolved {
		out = append(out, *u)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// IsPending reports whether the job is in the unresolved set.
func (r *Reconciler) IsPending(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.unresolved[jobID]
	return ok
}

// CheckFunc fetches the current provider status of a job.
type CheckFunc func(ctx context.Context, jobID string) (*gateway.StatusResult, error)

// Recover checks every unresolved job once. Terminal jobs are finalized; a
// job that stays unresolved for MaxRecoveryAttempts checks is abandoned. It
// returns the number of jobs that left the unresolved set.
func (r *Reconciler) Recover(ctx context.Context, check CheckFunc) int {
	resolved := 0
	for _, u := range r.Pending() {
		if ctx.Err() != nil {
			break
		}
		if r.RecoverOne(ctx, u.Entry.ID, check) {
			resolved++
		}
	}
	return resolved
}

// RecoverOne checks a single unresolved job. It reports whether the job left
// the unresolved set.
func (r *Reconciler) RecoverOne(ctx context.Context, jobID string, check CheckFunc) bool {
	if !r.IsPending(jobID) {
		return false
	}
	st, err := check(ctx, jobID)

	r.mu.Lock()
	u, ok := r.unresolved[jobID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	u.Attempts++
	attempts := u.Attempts
	entry := u.Entry
	terminal := err == nil && st != nil && st.State.IsTerminal()
	abandon := !terminal && attempts >= r.maxAttempts
	if terminal || abandon {
		delete(r.unresolved, jobID)
	}
	r.mu.Unlock()

	switch {
	case terminal && st.State == domain.JobStateSuccess:
		r.finalize(ctx, entry, domain.OutcomeSuccess, st, nil, attempts)
	case terminal:
		r.finalize(ctx, entry, domain.OutcomeFailed, st, failure(st, nil), attempts)
	case abandon:
		var last *domain.ProviderError
		if err != nil {
			last = domain.AsProviderError(err)
		}
		r.finalize(ctx, entry, domain.OutcomeAbandoned, st, last, attempts)
	default:
		ev := r.logger.Debug().Str("job_id", jobID).Int("attempt", attempts)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("reconciler: job still unresolved")
		return false
	}
	r.reg.Unpark(entry.UserID, jobID)
	return true
}

func (r *Reconciler) finalize(ctx context.Context, entry registry.Entry, outcome domain.Outcome, st *gateway.StatusResult, perr *domain.ProviderError, attempts int) *Completion {
	now := r.now()
	c := Completion{
		UserID:   entry.UserID,
		JobID:    entry.ID,
		ModelID:  entry.ModelID,
		Outcome:  outcome,
		Price:    entry.Pricing.Price,
		Attempts: attempts,
	}

	if outcome == domain.OutcomeSuccess {
		if st != nil {
			c.ResultURLs = append([]string(nil), st.ResultURLs...)
		}
		c.Charged = r.settle(ctx, entry)
	} else {
		c.Refunded = r.refund(ctx, entry)
		switch {
		case perr != nil:
			c.ErrorKind = perr.Kind
		case outcome == domain.OutcomeCancelled:
		default:
			c.ErrorKind = domain.KindUnknown
		}
		if c.ErrorKind != "" {
			c.Message = domain.UserMessage(language.English, c.ErrorKind, domain.MessageArgs{})
		}
	}

	state := domain.JobStateFailed
	if outcome == domain.OutcomeSuccess {
		state = domain.JobStateSuccess
	}
	r.updateSink(entry, state, &c)

	rec := domain.JobHistoryRecord{
		UserID:      entry.UserID,
		JobID:       entry.ID,
		ModelID:     entry.ModelID,
		Price:       entry.Pricing.Price,
		Charged:     c.Charged,
		Free:        entry.Pricing.Free,
		Outcome:     outcome,
		ResultURLs:  c.ResultURLs,
		ErrorKind:   c.ErrorKind,
		CreatedAt:   entry.CreatedAt,
		CompletedAt: now,
	}
	if entry.Job != nil {
		rec.Params = entry.Job.Params
	}
	if perr != nil {
		rec.ErrorMessage = perr.Message
	}
	if r.history != nil {
		if err := r.history.Append(ctx, rec); err != nil {
			r.logger.Error().Err(err).Str("job_id", entry.ID).Msg("reconciler: history append failed")
		}
	}

	telemetry.OutcomesTotal.WithLabelValues(string(outcome)).Inc()
	r.logger.Info().
		Str("job_id", entry.ID).
		Str("user_id", entry.UserID).
		Str("model", entry.ModelID).
		Str("outcome", string(outcome)).
		Int64("charged", c.Charged).
		Int64("refunded", c.Refunded).
		Msg("reconciler: job finalized")
	r.emit(c)
	return &c
}

// settle finalizes the charge of a successful job and returns the amount
// taken from the personal balance.
func (r *Reconciler) settle(ctx context.Context, entry registry.Entry) int64 {
	p := entry.Pricing
	switch {
	case p.Free:
		if err := r.accounts.ConsumeFree(ctx, entry.UserID, entry.ModelID); err != nil {
			r.logger.Error().Err(err).Str("job_id", entry.ID).Msg("reconciler: free usage not recorded")
		}
		return 0
	case p.AdminExempt:
		return 0
	case p.AdminLimited:
		if err := r.accounts.RecordAdminSpend(ctx, entry.UserID, p.Price); err != nil {
			r.logger.Error().Err(err).Str("job_id", entry.ID).Msg("reconciler: admin spend not recorded")
		}
		return 0
	case !p.Chargeable():
		return 0
	case entry.Settled:
		return p.Price
	}

	debit, err := r.ledger.SubtractBalance(ctx, entry.UserID, p.Price)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", entry.ID).Int64("price", p.Price).Msg("reconciler: charge failed")
		return 0
	}
	if !debit.OK {
		r.logger.Error().
			Str("job_id", entry.ID).
			Int64("price", p.Price).
			Int64("balance", debit.Balance).
			Msg("reconciler: balance no longer covers a delivered job")
		return 0
	}
	return p.Price
}

// refund returns a provisional hold.
func (r *Reconciler) refund(ctx context.Context, entry registry.Entry) int64 {
	if !entry.Settled || !entry.Pricing.Chargeable() {
		return 0
	}
	if _, err := r.ledger.AddBalance(ctx, entry.UserID, entry.Pricing.Price); err != nil {
		r.logger.Error().Err(err).Str("job_id", entry.ID).Int64("amount", entry.Pricing.Price).Msg("reconciler: refund failed")
		return 0
	}
	return entry.Pricing.Price
}

func (r *Reconciler) updateSink(entry registry.Entry, state domain.JobState, c *Completion) {
	if entry.Sink == nil || entry.Job == nil {
		return
	}
	job := entry.Job.Clone()
	if state != "" {
		job.State = state
	}
	if c != nil {
		job.ResultURLs = c.ResultURLs
		if c.ErrorKind != "" {
			job.Err = &domain.ProviderError{Kind: c.ErrorKind, Message: c.Message}
		}
	}
	entry.Sink.JobUpdated(job)
}

func (r *Reconciler) emit(c Completion) {
	if r.onComplete != nil {
		r.onComplete(c)
	}
}

// failure classifies a failed terminal status. Provider fail codes that look
// like HTTP statuses go through the status table.
func failure(st *gateway.StatusResult, last *domain.ProviderError) *domain.ProviderError {
	if st == nil {
		if last != nil {
			return last
		}
		return &domain.ProviderError{Kind: domain.KindUnknown, Message: "no status observed"}
	}
	status := 0
	if n, err := strconv.Atoi(st.FailCode); err == nil {
		status = n
	}
	pe := domain.NewProviderError(status, st.FailCode, st.FailMessage, nil)
	if status == 0 {
		pe.Kind = domain.KindUnknown
	}
	return pe
}
