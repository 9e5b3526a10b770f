// Package exception implements the whitelist approval workflow.
//
// An exception starts PENDING, is decided once (APPROVED or REJECTED) and an
// approved exception with an expiry ends EXPIRED. Expiry is computed at read
// time, so no background sweep is needed for correctness; Expire only
// persists what readers already observe.
package exception

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/storage"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/telemetry"
	"github.com/evansosei0707/Enterprise-Grade-Cloud-Governance-Platform-on-AWS/types"
)

var (
	// ErrActiveException refuses a request while a pending or approved one exists
	ErrActiveException = errors.New("an active exception already exists for this resource and rule")
	// ErrExpired refuses approval of a request whose expiry has passed
	ErrExpired = errors.New("exception has already expired")
	// ErrInvalidTransition reports a status change the workflow does not allow
	ErrInvalidTransition = errors.New("invalid exception transition")
)

// transitions lists the statuses reachable from each status
var transitions = map[types.ExceptionStatus][]types.ExceptionStatus{
	types.ExceptionPending:  {types.ExceptionApproved, types.ExceptionRejected},
	types.ExceptionApproved: {types.ExceptionExpired},
}

// CanTransition reports whether from → to is allowed
func CanTransition(from, to types.ExceptionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Request asks for a resource/rule pair to be whitelisted
type Request struct {
	AccountID     string
	ResourceID    string
	RuleName      string
	RequestedBy   string
	Justification string

	// Duration bounds the exception from request time; zero never expires.
	Duration time.Duration
}

// Key returns the exception key the request targets
func (r Request) Key() types.ExceptionKey {
	return types.ExceptionKey{AccountID: r.AccountID, ResourceID: r.ResourceID, RuleName: r.RuleName}
}

// Validate checks required fields
func (r Request) Validate() error {
	fields := []struct{ name, value string }{
		{"account_id", r.AccountID},
		{"resource_id", r.ResourceID},
		{"rule_name", r.RuleName},
		{"requested_by", r.RequestedBy},
		{"justification", r.Justification},
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if r.Duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	return nil
}

// Workflow drives exception state transitions over a store
type Workflow struct {
	store  storage.ExceptionStore
	now    func() time.Time
	newID  func() string
	logger *telemetry.Logger
	tracer trace.Tracer
}

// Option configures a Workflow
type Option func(*Workflow)

// WithClock overrides the workflow clock
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithIDGenerator overrides exception id generation
func WithIDGenerator(newID func() string) Option {
	return func(w *Workflow) { w.newID = newID }
}

// NewWorkflow creates a workflow over store
func NewWorkflow(store storage.ExceptionStore, opts ...Option) *Workflow {
	w := &Workflow{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: telemetry.NewLogger("exception-workflow"),
		tracer: otel.Tracer("exception-workflow"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Request records a new PENDING exception. A rejected or expired record for
// the same key is replaced; a pending or approved one refuses the request.
func (w *Workflow) Request(ctx context.Context, req Request) (*types.ExceptionRecord, error) {
	ctx, span := w.tracer.Start(ctx, "exception.request",
		trace.WithAttributes(attribute.String("exception.key", req.Key().String())))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := w.now().UTC()
	rec := types.ExceptionRecord{
		ID:            w.newID(),
		AccountID:     req.AccountID,
		ResourceID:    req.ResourceID,
		RuleName:      req.RuleName,
		Status:        types.ExceptionPending,
		RequestedBy:   req.RequestedBy,
		Justification: req.Justification,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Duration > 0 {
		expires := now.Add(req.Duration)
		rec.ExpiresAt = &expires
	}

	existing, err := w.store.GetException(ctx, req.Key())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		err := w.store.CreateException(ctx, rec)
		if errors.Is(err, storage.ErrRecordExists) {
			return nil, fmt.Errorf("%w: %s was requested concurrently", ErrActiveException, req.Key())
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store exception %s: %w", req.Key(), err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read exception %s: %w", req.Key(), err)
	default:
		switch existing.EffectiveStatus(now) {
		case types.ExceptionPending, types.ExceptionApproved:
			return nil, fmt.Errorf("%w: %s is %s", ErrActiveException, req.Key(), existing.Status)
		}
		err := w.store.UpdateException(ctx, rec, existing.Status)
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: %s was requested concurrently", ErrActiveException, req.Key())
		}
		if err != nil {
			return nil, fmt.Errorf("failed to replace exception %s: %w", req.Key(), err)
		}
	}

	telemetry.RecordExceptionTransitionEvent(span, rec, "", req.RequestedBy)
	w.logger.WithContext(ctx).Info().
		Str("exception_id", rec.ID).
		Str("account_id", rec.AccountID).
		Str("resource_id", rec.ResourceID).
		Str("rule_name", rec.RuleName).
		Str("requested_by", rec.RequestedBy).
		Msg("exception requested")
	return &rec, nil
}

// Approve moves a PENDING exception to APPROVED
func (w *Workflow) Approve(ctx context.Context, key types.ExceptionKey, approver string) (*types.ExceptionRecord, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, fmt.Errorf("approver is required")
	}
	return w.transition(ctx, key, types.ExceptionApproved, approver, "", func(rec types.ExceptionRecord, now time.Time) error {
		if rec.ExpiresAt != nil && now.After(*rec.ExpiresAt) {
			return ErrExpired
		}
		return nil
	})
}

// Reject moves a PENDING exception to REJECTED
func (w *Workflow) Reject(ctx context.Context, key types.ExceptionKey, by, reason string) (*types.ExceptionRecord, error) {
	if strings.TrimSpace(by) == "" {
		return nil, fmt.Errorf("rejecter is required")
	}
	return w.transition(ctx, key, types.ExceptionRejected, by, reason, nil)
}

// Expire persists APPROVED → EXPIRED once the expiry has passed
func (w *Workflow) Expire(ctx context.Context, key types.ExceptionKey) (*types.ExceptionRecord, error) {
	return w.transition(ctx, key, types.ExceptionExpired, "system", "expired", func(rec types.ExceptionRecord, now time.Time) error {
		if rec.EffectiveStatus(now) != types.ExceptionExpired {
			return fmt.Errorf("%w: %s has not reached its expiry", ErrInvalidTransition, key)
		}
		return nil
	})
}

// ExpireDue persists expiry for every approved exception past its deadline
func (w *Workflow) ExpireDue(ctx context.Context) (int, error) {
	approved, err := w.store.ListExceptions(ctx, types.ExceptionApproved)
	if err != nil {
		return 0, fmt.Errorf("failed to list approved exceptions: %w", err)
	}

	now := w.now()
	expired := 0
	for _, rec := range approved {
		if rec.EffectiveStatus(now) != types.ExceptionExpired {
			continue
		}
		if _, err := w.Expire(ctx, rec.Key()); err != nil {
			if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// transition applies one checked, status-conditional change
func (w *Workflow) transition(
	ctx context.Context,
	key types.ExceptionKey,
	to types.ExceptionStatus,
	actor, reason string,
	guard func(rec types.ExceptionRecord, now time.Time) error,
) (*types.ExceptionRecord, error) {
	ctx, span := w.tracer.Start(ctx, "exception.transition",
		trace.WithAttributes(
			attribute.String("exception.key", key.String()),
			attribute.String("status.to", string(to)),
		))
	defer span.End()

	current, err := w.store.GetException(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read exception %s: %w", key, err)
	}

	from := current.Status
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}

	now := w.now().UTC()
	if guard != nil {
		if err := guard(*current, now); err != nil {
			return nil, err
		}
	}

	next := *current
	next.Status = to
	next.UpdatedAt = now
	if to != types.ExceptionExpired {
		next.DecidedBy = actor
		next.DecisionReason = reason
		next.DecidedAt = &now
	}

	if err := w.store.UpdateException(ctx, next, from); err != nil {
		return nil, fmt.Errorf("failed to move exception %s to %s: %w", key, to, err)
	}

	telemetry.RecordExceptionTransitionEvent(span, next, from, actor)
	w.logger.WithContext(ctx).Info().
		Str("exception_id", next.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor", actor).
		Msg("exception transitioned")
	return &next, nil
}

// Get returns the exception for key with its effective status applied
func (w *Workflow) Get(ctx context.Context, key types.ExceptionKey) (*types.ExceptionRecord, error) {
	rec, err := w.store.GetException(ctx, key)
	if err != nil {
		return nil, err
	}
	rec.Status = rec.EffectiveStatus(w.now())
	return rec, nil
}

// FindByID scans for the exception with id
func (w *Workflow) FindByID(ctx context.Context, id string) (*types.ExceptionRecord, error) {
	all, err := w.List(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("exception %s: %w", id, storage.ErrNotFound)
}

// List returns exceptions whose effective status is status; empty lists all
func (w *Workflow) List(ctx context.Context, status types.ExceptionStatus) ([]types.ExceptionRecord, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown exception status %q", status)
	}

	// Expired records may still be stored as APPROVED, so filter after computing.
	stored, err := w.store.ListExceptions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list exceptions: %w", err)
	}

	now := w.now()
	out := make([]types.ExceptionRecord, 0, len(stored))
	for _, rec := range stored {
		rec.Status = rec.EffectiveStatus(now)
		if status == "" || rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Delete removes the exception for key regardless of status
func (w *Workflow) Delete(ctx context.Context, key types.ExceptionKey) error {
	if err := w.store.DeleteException(ctx, key); err != nil {
		return fmt.Errorf("failed to delete exception %s: %w", key, err)
	}
	w.logger.WithContext(ctx).Info().
		Str("exception_key", key.String()).
		Msg("exception deleted")
	return nil
}

// Active returns the exception suppressing key right now, or nil
func (w *Workflow) Active(ctx context.Context, key types.ExceptionKey) (*types.ExceptionRecord, error) {
	rec, err := w.store.GetException(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rec.Suppresses(w.now()) {
		return nil, nil
	}
	return rec, nil
}
