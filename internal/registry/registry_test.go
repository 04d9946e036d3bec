package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"genbot/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func reserve(t *testing.T, r *Registry, req ReserveRequest) string {
	t.Helper()
	id, rej := r.Reserve(req)
	if rej != nil {
		t.Fatalf("unexpected rejection: %v", rej)
	}
	return id
}

func commit(t *testing.T, r *Registry, user, resID, jobID string) {
	t.Helper()
	job := &domain.Job{ID: jobID, UserID: user, State: domain.JobStateWaiting}
	if err := r.Commit(user, resID, job, nil, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestReserveRejectsDuplicateWithinWindow(t *testing.T) {
	r := New()
	req := ReserveRequest{UserID: "u1", ModelID: "m", Fingerprint: "fp", Now: t0, Window: 10 * time.Second, Ceiling: 3}
	res := reserve(t, r, req)
	commit(t, r, "u1", res, "job-1")

	req.Now = t0.Add(5 * time.Second)
	_, rej := r.Reserve(req)
	if rej == nil || rej.Kind != domain.KindDuplicate {
		t.Fatalf("expected duplicate rejection, got %v", rej)
	}
	if rej.ExistingJobID != "job-1" {
		t.Fatalf("expected existing job id job-1, got %q", rej.ExistingJobID)
	}
	if r.Len() != 1 {
		t.Fatalf("expected a single entry, got %d", r.Len())
	}

	req.Now = t0.Add(10 * time.Second)
	if _, rej := r.Reserve(req); rej != nil {
		t.Fatalf("expected window to have elapsed, got %v", rej)
	}
}

func TestReserveDuplicateIsPerUser(t *testing.T) {
	r := New()
	req := ReserveRequest{UserID: "u1", Fingerprint: "fp", Now: t0, Window: 10 * time.Second, Ceiling: 3}
	reserve(t, r, req)
	req.UserID = "u2"
	reserve(t, r, req)
}

func TestReserveRejectsSessionWithLiveJob(t *testing.T) {
	r := New()
	session := func(fp string) ReserveRequest {
		return ReserveRequest{UserID: "u1", SessionID: "chat-1", Fingerprint: fp, Now: t0, Window: time.Second, Ceiling: 3}
	}
	first := reserve(t, r, session("a"))

	_, rej := r.Reserve(session("b"))
	if rej == nil || rej.Kind != domain.KindDuplicate {
		t.Fatalf("expected pending session rejection, got %v", rej)
	}

	commit(t, r, "u1", first, "job-1")
	_, rej = r.Reserve(session("b"))
	if rej == nil || rej.Kind != domain.KindDuplicate {
		t.Fatalf("a committed job must still block its session, got %v", rej)
	}
	if rej.ExistingJobID != "job-1" {
		t.Fatalf("expected existing job id job-1, got %q", rej.ExistingJobID)
	}

	other := session("b")
	other.SessionID = "chat-2"
	reserve(t, r, other)

	if _, ok := r.Remove("u1", "job-1"); !ok {
		t.Fatalf("remove failed")
	}
	reserve(t, r, session("b"))
}

func TestReserveEnforcesCeilingUnderContention(t *testing.T) {
	r := New()
	const ceiling = 3
	var accepted, limited atomic.Int32

	var g errgroup.Group
	for i := 0; i < 25; i++ {
		fp := string(rune('a' + i))
		g.Go(func() error {
			_, rej := r.Reserve(ReserveRequest{UserID: "u1", Fingerprint: fp, Now: t0, Window: 10 * time.Second, Ceiling: ceiling})
			switch {
			case rej == nil:
				accepted.Add(1)
			case rej.Kind == domain.KindConcurrencyLimit:
				limited.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if accepted.Load() != ceiling {
		t.Fatalf("expected %d accepted reservations, got %d", ceiling, accepted.Load())
	}
	if limited.Load() != 25-ceiling {
		t.Fatalf("expected %d concurrency rejections, got %d", 25-ceiling, limited.Load())
	}
	if got := r.CountActive("u1"); got != ceiling {
		t.Fatalf("CountActive = %d, want %d", got, ceiling)
	}
}

func TestReserveAdmitsOnlyOneOfIdenticalRacers(t *testing.T) {
	r := New()
	var accepted atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			if _, rej := r.Reserve(ReserveRequest{UserID: "u1", Fingerprint: "same", Now: t0, Window: 10 * time.Second, Ceiling: 10}); rej == nil {
				accepted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	if accepted.Load() != 1 {
		t.Fatalf("expected exactly one reservation, got %d", accepted.Load())
	}
}

func TestRemoveSucceedsOnceAndCancels(t *testing.T) {
	r := New()
	res := reserve(t, r, ReserveRequest{UserID: "u1", Fingerprint: "fp", Now: t0, Window: time.Second, Ceiling: 3})
	ctx, cancel := context.WithCancel(context.Background())
	job := &domain.Job{ID: "job-1", UserID: "u1"}
	if err := r.Commit("u1", res, job, nil, cancel); err != nil {
		t.Fatalf("commit: %v", err)
	}

	entry, ok := r.Remove("u1", "job-1")
	if !ok {
		t.Fatalf("expected first remove to succeed")
	}
	if entry.Job == nil || entry.Job.ID != "job-1" {
		t.Fatalf("unexpected removed entry %+v", entry)
	}
	if ctx.Err() == nil {
		t.Fatalf("expected poll context to be cancelled")
	}
	if _, ok := r.Remove("u1", "job-1"); ok {
		t.Fatalf("second remove must be a no-op")
	}
}

func TestReleaseOnlyDropsReservations(t *testing.T) {
	r := New()
	res := reserve(t, r, ReserveRequest{UserID: "u1", Fingerprint: "fp", Now: t0, Window: time.Second, Ceiling: 3})
	if !r.Release("u1", res) {
		t.Fatalf("expected release to succeed")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry")
	}

	res = reserve(t, r, ReserveRequest{UserID: "u1", Fingerprint: "fp", Now: t0, Window: time.Second, Ceiling: 3})
	commit(t, r, "u1", res, "job-1")
	if r.Release("u1", "job-1") {
		t.Fatalf("committed entries cannot be released")
	}
}

func TestClaimAccountsForOtherInFlightPrices(t *testing.T) {
	r := New()
	a := reserve(t, r, ReserveRequest{UserID: "u1", Fingerprint: "a", Now: t0, Window: time.Second, Ceiling: 3})
	b := reserve(t, r, ReserveRequest{UserID: "u1", Fingerprint: "b", Now: t0, Window: time.Second, Ceiling: 3})

	pricing := domain.PricingDecision{Price: 30}
	if _, ok, err := r.Claim("u1", a, pricing, 50); err != nil || !ok {
		t.Fatalf("first claim should fit: ok=%v err=%v", ok, err)
	}
	have, ok, err := r.Claim("u1", b, pricing, 50)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok {
		t.Fatalf("second claim must see the first job's price")
	}
	if have != 20 {
		t.Fatalf("expected 20 available, got %d", have)
	}

	if err := r.MarkSettled("u1", a); err != nil {
		t.Fatalf("mark settled: %v", err)
	}
	if _, ok, _ := r.Claim("u1", b, pricing, 50); !ok {
		t.Fatalf("settled entries must not count against the balance")
	}
}

func TestParkedEntriesHoldFundsUntilUnparked(t *testing.T) {
	r := New()
	pricing := domain.PricingDecision{Price: 30}
	a := reserve(t, r, ReserveRequest{UserID: "u1", Fingerprint: "a", Now: t0, Window: time.Second, Ceiling: 3})
	if _, ok, _ := r.Claim("u1", a, pricing, 30); !ok {
		t.Fatalf("first claim should fit")
	}
	commit(t, r, "u1", a, "job-1")

	entry, ok := r.Remove("u1", "job-1")
	if !ok {
		t.Fatalf("remove failed")
	}
	r.Park(entry)
	if r.CountActive("u1") != 0 || r.Len() != 0 {
		t.Fatalf("parked entries must not count as active")
	}
	if _, ok := r.Lookup("job-1"); ok {
		t.Fatalf("parked entries must not be looked up")
	}

	b := reserve(t, r, ReserveRequest{UserID: "u1", Fingerprint: "a", Now: t0.Add(2 * time.Second), Window: time.Second, Ceiling: 3})
	have, ok, err := r.Claim("u1", b, pricing, 30)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok || have != 0 {
		t.Fatalf("parked price must stay claimed: ok=%v have=%d", ok, have)
	}

	if !r.Unpark("u1", "job-1") {
		t.Fatalf("expected unpark to succeed")
	}
	if r.Unpark("u1", "job-1") {
		t.Fatalf("second unpark must be a no-op")
	}
	if _, ok, _ := r.Claim("u1", b, pricing, 30); !ok {
		t.Fatalf("claim should fit once the parked job is finalized")
	}
}

func TestClaimFreeUsesCountAllowance(t *testing.T) {
	r := New()
	a := reserve(t, r, ReserveRequest{UserID: "u1", ModelID: "m", Fingerprint: "a", Now: t0, Window: time.Second, Ceiling: 3})
	b := reserve(t, r, ReserveRequest{UserID: "u1", ModelID: "m", Fingerprint: "b", Now: t0, Window: time.Second, Ceiling: 3})

	free := domain.PricingDecision{Free: true}
	if _, ok, _ := r.Claim("u1", a, free, 1); !ok {
		t.Fatalf("first free claim should succeed")
	}
	if _, ok, _ := r.Claim("u1", b, free, 1); ok {
		t.Fatalf("second free claim must exceed the allowance")
	}
}

func TestLookupAndSnapshot(t *testing.T) {
	r := New()
	res := reserve(t, r, ReserveRequest{UserID: "u1", Fingerprint: "a", Now: t0, Window: time.Second, Ceiling: 3})
	commit(t, r, "u1", res, "job-1")
	reserve(t, r, ReserveRequest{UserID: "u2", Fingerprint: "a", Now: t0.Add(time.Second), Window: time.Second, Ceiling: 3})

	entry, ok := r.Lookup("job-1")
	if !ok || entry.UserID != "u1" {
		t.Fatalf("lookup failed: %+v", entry)
	}

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].ID != "job-1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	updated, ok := r.Update("u1", "job-1", func(job *domain.Job) { job.State = domain.JobStateGenerating })
	if !ok || updated.Job.State != domain.JobStateGenerating {
		t.Fatalf("update failed: %+v", updated)
	}
	snap[0].Job.State = domain.JobStateFailed
	if got, _ := r.Get("u1", "job-1"); got.Job.State != domain.JobStateGenerating {
		t.Fatalf("snapshot must not alias registry state")
	}
}
