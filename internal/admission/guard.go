// Package admission decides whether a generation request may become a job.
package admission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"genbot/internal/domain"
	"genbot/internal/infra"
	"genbot/internal/params"
	"genbot/internal/registry"
)

// BalanceReader is the part of the ledger admission needs.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
}

// Options configures a Guard.
type Options struct {
	Registry         *registry.Registry
	Catalog          domain.ModelCatalog
	Accounts         domain.AccountDirectory
	Balances         BalanceReader
	DedupWindow      time.Duration
	MaxActivePerUser int
	AdminPeriodLimit int64
	Now              func() time.Time
	Logger           *infra.Logger
}

// Admission is an approved request. The reservation it holds must be either
// committed to a job or released by the caller.
type Admission struct {
	ReservationID string
	UserID        string
	SessionID     string
	Spec          domain.ModelSpec
	Params        map[string]any
	Typed         params.Typed
	Fingerprint   string
	Pricing       domain.PricingDecision
	Account       domain.Account
	AdmittedAt    time.Time
}

// Guard runs the admission checks in order and stops at the first failure.
type Guard struct {
	reg        *registry.Registry
	catalog    domain.ModelCatalog
	accounts   domain.AccountDirectory
	balances   BalanceReader
	window     time.Duration
	ceiling    int
	adminLimit int64
	now        func() time.Time
	logger     *infra.Logger
}

// New constructs a Guard.
func New(opts Options) *Guard {
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
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	ceiling := opts.MaxActivePerUser
	if ceiling <= 0 {
		ceiling = 3
	}
	return &Guard{
		reg:        reg,
		catalog:    opts.Catalog,
		accounts:   opts.Accounts,
		balances:   opts.Balances,
		window:     opts.DedupWindow,
		ceiling:    ceiling,
		adminLimit: opts.AdminPeriodLimit,
		now:        now,
		logger:     logger,
	}
}

// Registry returns the registry reservations are made in.
func (g *Guard) Registry() *registry.Registry { return g.reg }

// Admit returns an Admission, a *domain.Rejection, or an infrastructure error.
// Infrastructure failures (accounts or ledger unreachable) never admit.
func (g *Guard) Admit(ctx context.Context, req domain.GenerationRequest) (*Admission, error) {
	if req.UserID == "" || req.ModelID == "" {
		return nil, g.reject(req, &domain.Rejection{Kind: domain.KindInvalidParameters, Detail: "user and model are required"})
	}
	now := req.RequestedAt
	if now.IsZero() {
		now = g.now()
	}

	acct, err := g.accounts.GetAccount(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("admission: load account: %w", err)
	}
	if acct.Blocked && !acct.IsAdmin() {
		return nil, g.reject(req, &domain.Rejection{Kind: domain.KindBlockedAccount})
	}

	fp := params.Fingerprint(req.ModelID, req.Params)
	resID, rej := g.reg.Reserve(registry.ReserveRequest{
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		ModelID:     req.ModelID,
		Fingerprint: fp,
		Now:         now,
		Window:      g.window,
		Ceiling:     g.ceiling,
	})
	if rej != nil {
		return nil, g.reject(req, rej)
	}

	adm, err := g.evaluate(ctx, req, acct, resID)
	if err != nil {
		g.reg.Release(req.UserID, resID)
		if rej, ok := domain.IsRejection(err); ok {
			return nil, g.reject(req, rej)
		}
		return nil, err
	}
	adm.Fingerprint = fp
	adm.AdmittedAt = now
	return adm, nil
}

func (g *Guard) evaluate(ctx context.Context, req domain.GenerationRequest, acct domain.Account, resID string) (*Admission, error) {
	spec, err := g.catalog.Get(req.ModelID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownModel) {
			return nil, &domain.Rejection{Kind: domain.KindUnknownModel, Detail: req.ModelID}
		}
		return nil, fmt.Errorf("admission: catalog: %w", err)
	}

	normalized, err := params.Normalize(spec, req.Params)
	if err != nil {
		return nil, &domain.Rejection{Kind: domain.KindInvalidParameters, Detail: err.Error()}
	}
	typed, err := params.Decode(spec.Category, normalized)
	if err != nil {
		return nil, &domain.Rejection{Kind: domain.KindInvalidParameters, Detail: err.Error()}
	}

	pricing, err := g.price(ctx, req, acct, spec, normalized, resID)
	if err != nil {
		return nil, err
	}

	return &Admission{
		ReservationID: resID,
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		Spec:          spec,
		Params:        normalized,
		Typed:         typed,
		Pricing:       pricing,
		Account:       acct,
	}, nil
}

// price picks the funding source and claims it against the user's other
// in-flight jobs. Free-tier uses come first, then root exemption, then the
// admin period budget, then the personal balance.
func (g *Guard) price(ctx context.Context, req domain.GenerationRequest, acct domain.Account, spec domain.ModelSpec, normalized map[string]any, resID string) (domain.PricingDecision, error) {
	price := params.Price(spec.Pricing, normalized)

	if spec.FreeGenerations > 0 {
		left, err := g.accounts.FreeRemaining(ctx, req.UserID, spec.ID, spec.FreeGenerations)
		if err != nil {
			return domain.PricingDecision{}, fmt.Errorf("admission: free usage: %w", err)
		}
		if left > 0 {
			free := domain.PricingDecision{Price: 0, Free: true}
			_, ok, err := g.reg.Claim(req.UserID, resID, free, int64(left))
			if err != nil {
				return domain.PricingDecision{}, fmt.Errorf("admission: claim: %w", err)
			}
			if ok {
				return free, nil
			}
		}
	}

	switch {
	case acct.IsRoot():
		exempt := domain.PricingDecision{Price: price, AdminExempt: true}
		if _, _, err := g.reg.Claim(req.UserID, resID, exempt, 0); err != nil {
			return domain.PricingDecision{}, fmt.Errorf("admission: claim: %w", err)
		}
		return exempt, nil

	case acct.IsAdmin():
		spent, err := g.accounts.AdminSpent(ctx, req.UserID)
		if err != nil {
			return domain.PricingDecision{}, fmt.Errorf("admission: admin spend: %w", err)
		}
		limited := domain.PricingDecision{Price: price, AdminLimited: true}
		have, ok, err := g.reg.Claim(req.UserID, resID, limited, g.adminLimit-spent)
		if err != nil {
			return domain.PricingDecision{}, fmt.Errorf("admission: claim: %w", err)
		}
		if !ok {
			return domain.PricingDecision{}, &domain.Rejection{Kind: domain.KindAdminLimitExceeded, Need: price, Have: clampZero(have)}
		}
		return limited, nil
	}

	decision := domain.PricingDecision{Price: price}
	if price <= 0 {
		if _, _, err := g.reg.Claim(req.UserID, resID, decision, 0); err != nil {
			return domain.PricingDecision{}, fmt.Errorf("admission: claim: %w", err)
		}
		return decision, nil
	}

	balance, err := g.balances.GetBalance(ctx, req.UserID)
	if err != nil {
		return domain.PricingDecision{}, fmt.Errorf("admission: balance: %w", err)
	}
	have, ok, err := g.reg.Claim(req.UserID, resID, decision, balance)
	if err != nil {
		return domain.PricingDecision{}, fmt.Errorf("admission: claim: %w", err)
	}
	if !ok {
		return domain.PricingDecision{}, &domain.Rejection{Kind: domain.KindInsufficientFunds, Need: price, Have: clampZero(have)}
	}
	return decision, nil
}

func (g *Guard) reject(req domain.GenerationRequest, rej *domain.Rejection) *domain.Rejection {
	if rej.Message == "" {
		rej.Message = domain.RejectionMessage(language.English, rej)
	}
	g.logger.Debug().
		Str("user_id", req.UserID).
		Str("model", req.ModelID).
		Str("kind", string(rej.Kind)).
		Str("detail", rej.Detail).
		Msg("admission: rejected")
	return rej
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
