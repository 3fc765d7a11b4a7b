package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dossier/accessd/internal/platform/auth"
	"github.com/dossier/accessd/internal/platform/metrics"
)

// Evaluator decides whether an identity may exercise a capability on a
// dossier. Every lookup goes to the store; nothing on this path is cached.
type Evaluator struct {
	caps      CapabilityLookup
	grants    EmergencyLookup
	attending AttendingLookup
	timeout   time.Duration
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func NewEvaluator(caps CapabilityLookup, grants EmergencyLookup, attending AttendingLookup, timeout time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Evaluator {
	return &Evaluator{
		caps:      caps,
		grants:    grants,
		attending: attending,
		timeout:   timeout,
		now:       time.Now,
		logger:    logger.With().Str("component", "access_evaluator").Logger(),
		metrics:   m,
	}
}

// WithClock replaces the clock used for emergency grant expiry.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate applies, in order: ADMIN bypass, attending clinician, active
// emergency grant, capability grant, deny. Any lookup error or a timeout
// yields a deny.
func (e *Evaluator) Evaluate(ctx context.Context, id auth.Identity, dossierID uuid.UUID, c Capability) Decision {
	start := time.Now()
	d := e.evaluate(ctx, id, dossierID, c)
	e.metrics.ObserveDecision(string(c), string(d.Basis), d.Allow, time.Since(start))
	return d
}

func (e *Evaluator) evaluate(ctx context.Context, id auth.Identity, dossierID uuid.UUID, c Capability) Decision {
	if !id.Valid() || dossierID == uuid.Nil {
		return deny(ReasonInvalidRequest)
	}
	if _, ok := ParseCapability(string(c)); !ok {
		return deny(ReasonInvalidRequest)
	}

	if id.Role == auth.RoleAdmin {
		return allow(BasisNormal, ReasonAdmin)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type result struct {
		d   Decision
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, err := e.lookup(ctx, id, dossierID, c)
		done <- result{d, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = result{err: ctx.Err()}
	}

	if res.err != nil {
		reason := ReasonStoreError
		if errors.Is(res.err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		e.metrics.EvaluationFailed(reason)
		e.logger.Error().Err(res.err).
			Str("user_id", id.UserID.String()).
			Str("dossier_id", dossierID.String()).
			Str("capability", string(c)).
			Str("cause", reason).
			Msg("access evaluation failed closed")
		return deny(reason)
	}
	return res.d
}

func (e *Evaluator) lookup(ctx context.Context, id auth.Identity, dossierID uuid.UUID, c Capability) (Decision, error) {
	if id.Role.IsMedecin() && e.attending != nil {
		ok, err := e.attending.IsAttending(ctx, id.UserID, dossierID)
		if err != nil {
			return Decision{}, fmt.Errorf("attending lookup: %w", err)
		}
		if ok {
			return allow(BasisNormal, ReasonAttending), nil
		}
	}

	active, err := e.grants.HasActiveGrant(ctx, id.UserID, dossierID, e.now())
	if err != nil {
		return Decision{}, fmt.Errorf("emergency grant lookup: %w", err)
	}
	if active {
		return allow(BasisEmergency, ReasonEmergency), nil
	}

	caps, found, err := e.caps.Lookup(ctx, id.UserID, dossierID)
	if err != nil {
		return Decision{}, fmt.Errorf("capability lookup: %w", err)
	}
	if !found {
		return deny(ReasonNoGrant), nil
	}
	if !caps.Allows(c) {
		return deny(ReasonNotGranted), nil
	}
	return allow(BasisNormal, ReasonCapability), nil
}
