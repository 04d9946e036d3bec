package admission

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"genbot/internal/accounts"
	"genbot/internal/catalog"
	"genbot/internal/domain"
	"genbot/internal/registry"
)

var t0 = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

type stubBalances struct {
	balances map[string]int64
	err      error
}

func (s *stubBalances) GetBalance(_ context.Context, userID string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.balances[userID], nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		domain.ModelSpec{
			ID:       "img",
			Category: domain.CategoryImage,
			Title:    "Image",
			Pricing:  domain.PricingRule{Base: 30},
			Params: []domain.ParamSpec{
				{Name: "prompt", Type: domain.ParamString, Required: true},
				{Name: "resolution", Type: domain.ParamString, Default: "1K", Enum: []string{"1K", "2K", "4K"}},
				{Name: "enhance", Type: domain.ParamBool, Default: false},
			},
		},
		domain.ModelSpec{
			ID:              "free-img",
			Category:        domain.CategoryImage,
			Title:           "Free image",
			Pricing:         domain.PricingRule{Base: 20},
			FreeGenerations: 1,
			Params:          []domain.ParamSpec{{Name: "prompt", Type: domain.ParamString, Required: true}},
		},
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

type fixture struct {
	guard    *Guard
	reg      *registry.Registry
	accounts *accounts.Memory
	balances *stubBalances
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	dir := accounts.NewMemory()
	bal := &stubBalances{balances: map[string]int64{}}
	g := New(Options{
		Registry:         reg,
		Catalog:          testCatalog(t),
		Accounts:         dir,
		Balances:         bal,
		DedupWindow:      10 * time.Second,
		MaxActivePerUser: 3,
		AdminPeriodLimit: 100,
		Now:              func() time.Time { return t0 },
	})
	return &fixture{guard: g, reg: reg, accounts: dir, balances: bal}
}

func request(user, prompt string) domain.GenerationRequest {
	return domain.GenerationRequest{UserID: user, ModelID: "img", Params: map[string]any{"prompt": prompt}, RequestedAt: t0}
}

func expectRejection(t *testing.T, err error, kind domain.ErrorKind) *domain.Rejection {
	t.Helper()
	rej, ok := domain.IsRejection(err)
	if !ok {
		t.Fatalf("expected %s rejection, got %v", kind, err)
	}
	if rej.Kind != kind {
		t.Fatalf("expected %s rejection, got %s", kind, rej.Kind)
	}
	if rej.Message == "" {
		t.Fatalf("rejection must carry a user message")
	}
	return rej
}

func TestAdmitAppliesDefaultsAndPrice(t *testing.T) {
	f := newFixture(t)
	f.balances.balances["u1"] = 100
	req := request("u1", "  a red fox ")
	req.Params["enhance"] = "true"

	adm, err := f.guard.Admit(context.Background(), req)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if adm.Pricing.Price != 30 || !adm.Pricing.Chargeable() {
		t.Fatalf("unexpected pricing %+v", adm.Pricing)
	}
	if adm.Params["resolution"] != "1K" || adm.Params["enhance"] != true || adm.Params["prompt"] != "a red fox" {
		t.Fatalf("unexpected normalized params %+v", adm.Params)
	}
	if adm.Typed == nil || adm.Typed.Category() != domain.CategoryImage {
		t.Fatalf("expected typed image params, got %#v", adm.Typed)
	}
	if f.reg.CountActive("u1") != 1 {
		t.Fatalf("admission must hold a reservation")
	}
}

func TestAdmitRejectsBlockedUnlessAdmin(t *testing.T) {
	f := newFixture(t)
	f.accounts.Put(domain.Account{UserID: "u1", Blocked: true, Role: domain.RoleUser})
	f.accounts.Put(domain.Account{UserID: "boss", Blocked: true, Role: domain.RoleRoot})

	_, err := f.guard.Admit(context.Background(), request("u1", "x"))
	expectRejection(t, err, domain.KindBlockedAccount)

	if _, err := f.guard.Admit(context.Background(), request("boss", "x")); err != nil {
		t.Fatalf("blocked root admin should be admitted: %v", err)
	}
}

func TestAdmitInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.balances.balances["u1"] = 10

	_, err := f.guard.Admit(context.Background(), request("u1", "x"))
	rej := expectRejection(t, err, domain.KindInsufficientFunds)
	if rej.Need != 30 || rej.Have != 10 {
		t.Fatalf("expected need 30 have 10, got need %d have %d", rej.Need, rej.Have)
	}
	if !strings.Contains(rej.Message, "need 30, have 10") {
		t.Fatalf("unexpected message %q", rej.Message)
	}
	if f.reg.Len() != 0 {
		t.Fatalf("rejected admission must release its reservation")
	}
}

func TestAdmitCountsInFlightPrices(t *testing.T) {
	f := newFixture(t)
	f.balances.balances["u1"] = 50

	if _, err := f.guard.Admit(context.Background(), request("u1", "first")); err != nil {
		t.Fatalf("first admission: %v", err)
	}
	_, err := f.guard.Admit(context.Background(), request("u1", "second"))
	rej := expectRejection(t, err, domain.KindInsufficientFunds)
	if rej.Have != 20 {
		t.Fatalf("expected 20 available after the in-flight job, got %d", rej.Have)
	}
}

func TestAdmitDuplicateAndPendingSession(t *testing.T) {
	f := newFixture(t)
	f.balances.balances["u1"] = 1000

	adm, err := f.guard.Admit(context.Background(), request("u1", "same"))
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := f.reg.Commit("u1", adm.ReservationID, &domain.Job{ID: "job-1", UserID: "u1"}, nil, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}

	dup := request("u1", "same")
	dup.RequestedAt = t0.Add(5 * time.Second)
	_, err = f.guard.Admit(context.Background(), dup)
	rej := expectRejection(t, err, domain.KindDuplicate)
	if rej.ExistingJobID != "job-1" {
		t.Fatalf("expected existing job id, got %q", rej.ExistingJobID)
	}

	pending := request("u1", "a")
	pending.SessionID = "chat-9"
	if _, err := f.guard.Admit(context.Background(), pending); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	again := request("u1", "b")
	again.SessionID = "chat-9"
	_, err = f.guard.Admit(context.Background(), again)
	expectRejection(t, err, domain.KindDuplicate)
}

func TestAdmitConcurrencyCeiling(t *testing.T) {
	f := newFixture(t)
	f.balances.balances["u1"] = 1000
	for _, p := range []string{"a", "b", "c"} {
		if _, err := f.guard.Admit(context.Background(), request("u1", p)); err != nil {
			t.Fatalf("Admit(%s): %v", p, err)
		}
	}
	_, err := f.guard.Admit(context.Background(), request("u1", "d"))
	expectRejection(t, err, domain.KindConcurrencyLimit)
}

func TestAdmitSchemaFailuresReleaseReservation(t *testing.T) {
	tests := map[string]struct {
		req  domain.GenerationRequest
		kind domain.ErrorKind
	}{
		"unknown model": {
			req:  domain.GenerationRequest{UserID: "u1", ModelID: "nope", Params: map[string]any{"prompt": "x"}},
			kind: domain.KindUnknownModel,
		},
		"unknown field": {
			req:  domain.GenerationRequest{UserID: "u1", ModelID: "img", Params: map[string]any{"prompt": "x", "steps": 30}},
			kind: domain.KindInvalidParameters,
		},
		"enum": {
			req:  domain.GenerationRequest{UserID: "u1", ModelID: "img", Params: map[string]any{"prompt": "x", "resolution": "8K"}},
			kind: domain.KindInvalidParameters,
		},
		"missing prompt": {
			req:  domain.GenerationRequest{UserID: "u1", ModelID: "img", Params: map[string]any{}},
			kind: domain.KindInvalidParameters,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.balances.balances["u1"] = 1000
			_, err := f.guard.Admit(context.Background(), tc.req)
			expectRejection(t, err, tc.kind)
			if f.reg.Len() != 0 {
				t.Fatalf("reservation leaked")
			}
		})
	}
}

func TestAdmitFreeTierThenPaid(t *testing.T) {
	f := newFixture(t)
	f.balances.balances["u1"] = 100
	req := domain.GenerationRequest{UserID: "u1", ModelID: "free-img", Params: map[string]any{"prompt": "one"}}

	first, err := f.guard.Admit(context.Background(), req)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !first.Pricing.Free || first.Pricing.Price != 0 {
		t.Fatalf("expected free pricing, got %+v", first.Pricing)
	}

	req.Params = map[string]any{"prompt": "two"}
	second, err := f.guard.Admit(context.Background(), req)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if second.Pricing.Free || second.Pricing.Price != 20 {
		t.Fatalf("allowance is taken by the in-flight job, expected paid, got %+v", second.Pricing)
	}
}

func TestAdmitAdminBudget(t *testing.T) {
	f := newFixture(t)
	f.accounts.Put(domain.Account{UserID: "admin", Role: domain.RoleAdmin})
	f.accounts.Put(domain.Account{UserID: "root", Role: domain.RoleRoot})
	_ = f.accounts.RecordAdminSpend(context.Background(), "admin", 80)

	_, err := f.guard.Admit(context.Background(), request("admin", "x"))
	rej := expectRejection(t, err, domain.KindAdminLimitExceeded)
	if rej.Need != 30 || rej.Have != 20 {
		t.Fatalf("expected need 30 have 20, got %+v", rej)
	}

	adm, err := f.guard.Admit(context.Background(), request("root", "x"))
	if err != nil {
		t.Fatalf("root admission: %v", err)
	}
	if !adm.Pricing.AdminExempt || adm.Pricing.Chargeable() {
		t.Fatalf("root must be exempt, got %+v", adm.Pricing)
	}
}

func TestAdmitFailsClosedWhenLedgerIsDown(t *testing.T) {
	f := newFixture(t)
	f.balances.err = domain.ErrLedgerOffline

	_, err := f.guard.Admit(context.Background(), request("u1", "x"))
	if !errors.Is(err, domain.ErrLedgerOffline) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if _, ok := domain.IsRejection(err); ok {
		t.Fatalf("infrastructure failures are not rejections")
	}
	if f.reg.Len() != 0 {
		t.Fatalf("reservation leaked")
	}
}
