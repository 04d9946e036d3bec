// Package registry holds the process-local set of in-flight generations.
//
// Every read and write goes through a single mutex. Callers compute
// fingerprints and timestamps before calling in so the critical sections stay
// short.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"genbot/internal/domain"
)

var (
	ErrNotFound  = errors.New("registry: entry not found")
	ErrConflict  = errors.New("registry: entry already exists")
	ErrCommitted = errors.New("registry: reservation already committed")
)

// Entry is a registry value. While Job is nil the entry is a reservation
// created by admission and not yet backed by a provider job.
type Entry struct {
	ID            string
	ReservationID string
	UserID        string
	SessionID     string
	ModelID       string
	Fingerprint   string
	CreatedAt     time.Time
	Pricing       domain.PricingDecision
	Settled       bool
	Job           *domain.Job
	Sink          domain.StatusSink

	cancel context.CancelFunc
}

// Committed reports whether the entry is backed by a provider job.
func (e *Entry) Committed() bool {
	return e.Job != nil
}

func (e *Entry) clone() Entry {
	out := *e
	out.Job = e.Job.Clone()
	out.cancel = nil
	return out
}

type key struct {
	user string
	id   string
}

// Registry is a mutex-guarded map keyed by (user, job or reservation id).
//
// Parked entries are timed-out jobs awaiting recovery. They no longer count
// as active, but their unsettled prices still hold funds in Claim until
// recovery finalizes them.
type Registry struct {
	mu      sync.Mutex
	entries map[key]*Entry
	parked  map[key]*Entry
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[key]*Entry),
		parked:  make(map[key]*Entry),
	}
}

// ReserveRequest carries the precomputed inputs of an admission attempt.
type ReserveRequest struct {
	UserID      string
	SessionID   string
	ModelID     string
	Fingerprint string
	Now         time.Time
	Window      time.Duration
	Ceiling     int
}

// Reserve performs the session, duplicate and ceiling checks and inserts a
// reservation, all within one lock acquisition. It returns the reservation
// id or the rejection that stopped it.
func (r *Registry) Reserve(req ReserveRequest) (string, *domain.Rejection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.SessionID != "" {
		for k, e := range r.entries {
			if k.user == req.UserID && e.SessionID == req.SessionID {
				rej := &domain.Rejection{
					Kind:   domain.KindDuplicate,
					Detail: "this session already has a job in progress",
				}
				if e.Committed() {
					rej.ExistingJobID = e.Job.ID
				}
				return "", rej
			}
		}
	}

	if existing, ok := r.duplicateLocked(req.UserID, req.Fingerprint, req.Window, req.Now); ok {
		return "", &domain.Rejection{
			Kind:          domain.KindDuplicate,
			ExistingJobID: existing,
			Detail:        "identical request submitted within the dedup window",
		}
	}

	if req.Ceiling > 0 && r.countLocked(req.UserID) >= req.Ceiling {
		return "", &domain.Rejection{
			Kind:   domain.KindConcurrencyLimit,
			Detail: "too many active generations",
		}
	}

	id := "res-" + uuid.NewString()
	r.entries[key{req.UserID, id}] = &Entry{
		ID:            id,
		ReservationID: id,
		UserID:        req.UserID,
		SessionID:     req.SessionID,
		ModelID:       req.ModelID,
		Fingerprint:   req.Fingerprint,
		CreatedAt:     req.Now,
	}
	return id, nil
}

// Claim attaches pricing to a reservation when available, minus the cost of
// the user's other unsettled entries funded the same way, covers it. Free
// decisions cost one use of the model allowance. It returns the amount that
// was available to this reservation.
func (r *Registry) Claim(userID, reservationID string, pricing domain.PricingDecision, available int64) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key{userID, reservationID}]
	if !ok {
		return 0, false, ErrNotFound
	}
	if entry.Committed() {
		return 0, false, ErrCommitted
	}

	class := fundingClass(pricing, entry.ModelID)
	if class == "" {
		entry.Pricing = pricing
		return available, true, nil
	}

	var pending int64
	for _, set := range []map[key]*Entry{r.entries, r.parked} {
		for k, e := range set {
			if k.user != userID || e == entry || e.Settled {
				continue
			}
			if fundingClass(e.Pricing, e.ModelID) == class {
				pending += cost(e.Pricing)
			}
		}
	}

	have := available - pending
	if have < cost(pricing) {
		return have, false, nil
	}
	entry.Pricing = pricing
	return have, true, nil
}

// MarkSettled records that the entry's price has already left the balance.
func (r *Registry) MarkSettled(userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key{userID, id}]
	if !ok {
		return ErrNotFound
	}
	entry.Settled = true
	return nil
}

// Commit swaps a reservation for the provider job it produced. The entry
// keeps its creation time so the dedup window is measured from admission.
func (r *Registry) Commit(userID, reservationID string, job *domain.Job, sink domain.StatusSink, cancel context.CancelFunc) error {
	if job == nil || job.ID == "" {
		return errors.New("registry: job id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{userID, reservationID}
	entry, ok := r.entries[k]
	if !ok {
		return ErrNotFound
	}
	if entry.Committed() {
		return ErrCommitted
	}
	nk := key{userID, job.ID}
	if _, exists := r.entries[nk]; exists {
		return ErrConflict
	}

	delete(r.entries, k)
	entry.ID = job.ID
	entry.Job = job.Clone()
	entry.Sink = sink
	entry.cancel = cancel
	r.entries[nk] = entry
	return nil
}

// Release drops a reservation that never became a job.
func (r *Registry) Release(userID, reservationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{userID, reservationID}
	entry, ok := r.entries[k]
	if !ok || entry.Committed() {
		return false
	}
	delete(r.entries, k)
	return true
}

// Insert adds a committed entry directly.
func (r *Registry) Insert(entry Entry) error {
	if entry.Job == nil || entry.Job.ID == "" {
		return errors.New("registry: job id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{entry.UserID, entry.Job.ID}
	if _, exists := r.entries[k]; exists {
		return ErrConflict
	}
	e := entry
	e.ID = entry.Job.ID
	e.Job = entry.Job.Clone()
	r.entries[k] = &e
	return nil
}

// ExistsDuplicate reports whether the user has an entry with the same
// fingerprint created less than window before now, returning its job id.
func (r *Registry) ExistsDuplicate(userID, fingerprint string, window time.Duration, now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duplicateLocked(userID, fingerprint, window, now)
}

func (r *Registry) duplicateLocked(userID, fingerprint string, window time.Duration, now time.Time) (string, bool) {
	if fingerprint == "" || window <= 0 {
		return "", false
	}
	for k, e := range r.entries {
		if k.user != userID || e.Fingerprint != fingerprint {
			continue
		}
		if now.Sub(e.CreatedAt) < window {
			if e.Committed() {
				return e.Job.ID, true
			}
			return "", true
		}
	}
	return "", false
}

// CountActive returns the number of entries (reservations included) held by
// the user.
func (r *Registry) CountActive(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(userID)
}

func (r *Registry) countLocked(userID string) int {
	n := 0
	for k := range r.entries {
		if k.user == userID {
			n++
		}
	}
	return n
}

// Remove deletes the entry and cancels its poll context. Only the first
// caller for a given entry receives ok=true.
func (r *Registry) Remove(userID, jobID string) (Entry, bool) {
	r.mu.Lock()
	k := key{userID, jobID}
	entry, ok := r.entries[k]
	if ok {
		delete(r.entries, k)
	}
	r.mu.Unlock()

	if !ok {
		return Entry{}, false
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	return entry.clone(), true
}

// Park keeps a removed entry's pricing claimed while its job awaits
// recovery. Parked entries are invisible to every other query.
func (r *Registry) Park(entry Entry) {
	e := entry
	e.Job = entry.Job.Clone()
	e.cancel = nil
	r.mu.Lock()
	r.parked[key{entry.UserID, entry.ID}] = &e
	r.mu.Unlock()
}

// Unpark releases the claim of a parked entry once it has been finalized.
func (r *Registry) Unpark(userID, jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{userID, jobID}
	if _, ok := r.parked[k]; !ok {
		return false
	}
	delete(r.parked, k)
	return true
}

// Parked returns the number of parked entries.
func (r *Registry) Parked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parked)
}

// Update applies fn to the entry's job under the lock and returns a copy of
// the updated entry.
func (r *Registry) Update(userID, jobID string, fn func(job *domain.Job)) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key{userID, jobID}]
	if !ok || !entry.Committed() {
		return Entry{}, false
	}
	fn(entry.Job)
	return entry.clone(), true
}

// Get returns a copy of the entry.
func (r *Registry) Get(userID, jobID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key{userID, jobID}]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// Lookup finds a committed entry by job id alone. Provider callbacks only
// carry the job id.
func (r *Registry) Lookup(jobID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.entries {
		if k.id == jobID && e.Committed() {
			return e.clone(), true
		}
	}
	return Entry{}, false
}

// Snapshot returns copies of all entries ordered by creation time.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func fundingClass(p domain.PricingDecision, modelID string) string {
	switch {
	case p.Free:
		return "free:" + modelID
	case p.AdminExempt || p.Price <= 0:
		return ""
	case p.AdminLimited:
		return "admin"
	default:
		return "balance"
	}
}

func cost(p domain.PricingDecision) int64 {
	if p.Free {
		return 1
	}
	return p.Price
}
