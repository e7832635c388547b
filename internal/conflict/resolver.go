package conflict

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/pairpad/internal/textedit"
)

// Decision is the resolver's verdict on an incoming batch.
type Decision struct {
	// Accept is true when the batch may be applied.
	Accept bool
	// Conflict is the record created for the batch, or nil when it was clean.
	Conflict *Conflict
}

// Err returns the error a refused batch should fail with, or nil if accepted.
func (d Decision) Err() error {
	if d.Accept || d.Conflict == nil {
		return nil
	}
	return &Error{
		ConflictID: d.Conflict.ID,
		FileID:     d.Conflict.FileID,
		Kind:       d.Conflict.Kind,
		errs:       []error{ErrConflict, ErrPolicyRejected},
	}
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithIDGenerator overrides conflict ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Resolver) {
		r.newID = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// Resolver detects conflicts for one session, applies the session policy,
// and keeps every conflict it creates for audit. Records are never removed.
//
// All methods are safe for concurrent use. Callers serialize Evaluate per
// file (the document serializer) so detection sees a stable version.
type Resolver struct {
	mu        sync.RWMutex
	sessionID string
	policy    Policy
	conflicts map[string]*Conflict
	order     []string // creation order
	newID     func() string
	now       func() time.Time
}

// NewResolver creates a Resolver for sessionID using policy.
func NewResolver(sessionID string, policy Policy, opts ...Option) *Resolver {
	r := &Resolver{
		sessionID: sessionID,
		policy:    policy,
		conflicts: make(map[string]*Conflict),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the session's conflict policy.
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Evaluate runs detection for c and applies the policy. A conflict record is
// created for every positive detection before Evaluate returns, whatever the
// policy decides.
func (r *Resolver) Evaluate(c Check) Decision {
	finding := Detect(c)
	if finding == nil {
		return Decision{Accept: true}
	}

	conflict := r.record(c, *finding)
	return Decision{
		Accept:   r.policy == PolicyAuto,
		Conflict: &conflict,
	}
}

// Gate returns an error when the policy is manual and fileID has an
// unresolved conflict. Other policies never block.
func (r *Resolver) Gate(fileID string) error {
	if r.policy != PolicyManual {
		return nil
	}
	pending := r.Pending(fileID)
	if len(pending) == 0 {
		return nil
	}
	c := pending[0]
	return &Error{
		ConflictID: c.ID,
		FileID:     fileID,
		Kind:       c.Kind,
		errs:       []error{ErrPolicyRejected},
	}
}

// Settle finishes an automatically accepted conflict once the batch has been
// attempted. A batch that applied is resolved in favour of the incoming
// change; one that failed is marked skipped with the failure as the note.
func (r *Resolver) Settle(id string, applyErr error) (Conflict, error) {
	res := Resolution{
		Strategy:   PolicyAuto,
		Outcome:    OutcomeAcceptIncoming,
		ResolverID: SystemResolver,
	}
	if applyErr != nil {
		res.Outcome = OutcomeSkip
		res.Note = applyErr.Error()
	}
	return r.Resolve(id, res)
}

// Resolve stores res on the conflict. OutcomeSkip moves it to skipped, any
// other outcome to resolved. An empty Strategy defaults to the session policy.
func (r *Resolver) Resolve(id string, res Resolution) (Conflict, error) {
	if res.Strategy == "" {
		res.Strategy = r.policy
	}
	if _, err := ParsePolicy(string(res.Strategy)); err != nil {
		return Conflict{}, err
	}
	if res.Outcome == "" {
		res.Outcome = OutcomeKeepCurrent
	}
	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conflicts[id]
	if !ok {
		return Conflict{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if c.Terminal() {
		return Conflict{}, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, c.Status)
	}

	c.Status = StatusResolved
	if res.Outcome == OutcomeSkip {
		c.Status = StatusSkipped
	}
	c.Resolution = &res
	return c.clone(), nil
}

// Get returns a copy of the conflict with the given ID.
func (r *Resolver) Get(id string) (Conflict, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conflicts[id]
	if !ok {
		return Conflict{}, false
	}
	return c.clone(), true
}

// List returns every conflict in creation order.
func (r *Resolver) List() []Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conflict, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.conflicts[id].clone())
	}
	return out
}

// Pending returns the unresolved conflicts on fileID in creation order.
func (r *Resolver) Pending(fileID string) []Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Conflict
	for _, id := range r.order {
		c := r.conflicts[id]
		if c.FileID == fileID && c.Status == StatusPending {
			out = append(out, c.clone())
		}
	}
	return out
}

// Restore loads previously persisted conflicts, keeping their order.
// Conflicts whose IDs are already known are ignored.
func (r *Resolver) Restore(conflicts []Conflict) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range conflicts {
		if _, ok := r.conflicts[c.ID]; ok {
			continue
		}
		cc := c.clone()
		r.conflicts[c.ID] = &cc
		r.order = append(r.order, c.ID)
	}
}

func (r *Resolver) record(c Check, f Finding) Conflict {
	conflict := &Conflict{
		ID:             r.newID(),
		SessionID:      r.sessionID,
		FileID:         c.FileID,
		Kind:           f.Kind,
		Status:         StatusPending,
		SubmittedBy:    c.SubmittedBy,
		BaseVersion:    f.BaseVersion,
		CurrentVersion: c.CurrentVersion,
		Incoming:       cloneOps(c.Incoming),
		Competing:      cloneOps(f.Competing),
		DetectedAt:     r.now(),
	}

	r.mu.Lock()
	r.conflicts[conflict.ID] = conflict
	r.order = append(r.order, conflict.ID)
	r.mu.Unlock()

	return conflict.clone()
}

func (c *Conflict) clone() Conflict {
	out := *c
	out.Incoming = cloneOps(c.Incoming)
	out.Competing = cloneOps(c.Competing)
	if c.Resolution != nil {
		res := *c.Resolution
		out.Resolution = &res
	}
	return out
}

func cloneOps(ops []textedit.Operation) []textedit.Operation {
	if ops == nil {
		return nil
	}
	out := make([]textedit.Operation, len(ops))
	copy(out, ops)
	return out
}
