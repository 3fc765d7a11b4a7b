package emergency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/domain/audit"
	"github.com/dossier/accessd/internal/platform/auth"
	"github.com/dossier/accessd/internal/platform/db"
	"github.com/dossier/accessd/internal/platform/metrics"
)

// Auditor is satisfied by *audit.Recorder.
type Auditor interface {
	Record(ctx context.Context, action audit.Action, entityKind, entityID string, userID uuid.UUID, origin string) (*audit.Entry, error)
}

// TargetResolver finds or bootstraps the dossier a grant attaches to, inside
// the transaction carried by ctx. *dossier.Service implements it.
type TargetResolver interface {
	ResolveEmergencyTarget(ctx context.Context, dossierID *uuid.UUID, insurance string, actor uuid.UUID) (uuid.UUID, bool, error)
}

// ActivatorRoles may break the glass. ADMIN is implied.
var ActivatorRoles = []auth.Role{auth.RoleAmbulancier, auth.RoleMedecinGeneral, auth.RoleMedecinSpecialiste}

type Service struct {
	repo    Repository
	targets TargetResolver
	tx      db.Transactor
	audit   Auditor
	policy  Policy
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo Repository, targets TargetResolver, tx db.Transactor, auditor Auditor, policy Policy, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		targets: targets,
		tx:      tx,
		audit:   auditor,
		policy:  policy,
		logger:  logger.With().Str("component", "emergency").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// WithClock replaces the service clock. It returns s for chaining.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Activate creates an emergency grant for actor. The request is validated
// before any store access. Target resolution and the grant insert commit
// together; the audit entry is written afterwards and its failure does not
// undo the grant.
func (s *Service) Activate(ctx context.Context, actor auth.Identity, origin string, req ActivateRequest) (*Activation, error) {
	if !auth.HasRole(actor, ActivatorRoles...) {
		return nil, access.ErrForbidden
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", access.ErrValidation)
	}
	duration, ok := s.policy.Duration(req.DurationMinutes)
	if !ok {
		return nil, fmt.Errorf("%w: duration_minutes must be between %d and %d",
			access.ErrValidation, s.policy.MinMinutes, s.policy.MaxMinutes)
	}
	if req.DossierID != nil && *req.DossierID == uuid.Nil {
		return nil, fmt.Errorf("%w: invalid dossier_id", access.ErrValidation)
	}

	now := s.now().UTC()
	g := &Grant{
		ID:         uuid.New(),
		UserID:     actor.UserID,
		Reason:     reason,
		GrantedAt:  now,
		ExpiresAt:  now.Add(duration),
		CaseReport: req.CaseReport,
	}

	var created bool
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		dossierID, isNew, err := s.targets.ResolveEmergencyTarget(ctx, req.DossierID, req.InsuranceNumber, actor.UserID)
		if err != nil {
			return fmt.Errorf("resolve target dossier: %w", err)
		}
		g.DossierID, created = dossierID, isNew
		return s.repo.Create(ctx, g)
	})
	if err != nil {
		return nil, fmt.Errorf("activate emergency access: %w", err)
	}
	s.metrics.EmergencyActivated(string(actor.Role), created)

	s.logger.Warn().
		Str("type", "emergency_activation").
		Str("grant_id", g.ID.String()).
		Str("user_id", actor.UserID.String()).
		Str("role", string(actor.Role)).
		Str("dossier_id", g.DossierID.String()).
		Bool("created_dossier", created).
		Time("expires_at", g.ExpiresAt).
		Msg("emergency access granted")

	res := &Activation{
		GrantID:        g.ID,
		DossierID:      g.DossierID,
		ExpiresAt:      g.ExpiresAt,
		CreatedDossier: created,
		AuditRecorded:  true,
	}
	if _, err := s.audit.Record(ctx, audit.ActionCreation, audit.KindEmergencyGrant, g.ID.String(), actor.UserID, origin); err != nil {
		res.AuditRecorded = false
		s.logger.Error().Err(err).
			Str("incident", "audit_write_failed").
			Str("grant_id", g.ID.String()).
			Str("user_id", actor.UserID.String()).
			Str("dossier_id", g.DossierID.String()).
			Msg("emergency grant is in effect but was not audited")
	}
	return res, nil
}

// HasActiveGrant implements access.EmergencyLookup.
func (s *Service) HasActiveGrant(ctx context.Context, userID, dossierID uuid.UUID, now time.Time) (bool, error) {
	return s.repo.HasActive(ctx, userID, dossierID, now)
}

func (s *Service) ListActiveForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	return s.repo.ListActiveByUser(ctx, userID, s.now().UTC(), limit, offset)
}

func (s *Service) ListByDossier(ctx context.Context, dossierID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	return s.repo.ListByDossier(ctx, dossierID, limit, offset)
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Grant, int, error) {
	return s.repo.List(ctx, limit, offset)
}
