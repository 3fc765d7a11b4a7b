package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/domain/audit"
	"github.com/dossier/accessd/internal/platform/db"
)

// Auditor is satisfied by *audit.Recorder.
type Auditor interface {
	Record(ctx context.Context, action audit.Action, entityKind, entityID string, userID uuid.UUID, origin string) (*audit.Entry, error)
}

// Service owns capability grants. Every write and its audit entry share one
// transaction: if the entry cannot be appended the grant change rolls back.
type Service struct {
	repo  Repository
	tx    db.Transactor
	audit Auditor
}

func NewService(repo Repository, tx db.Transactor, auditor Auditor) *Service {
	return &Service{repo: repo, tx: tx, audit: auditor}
}

// Grant replaces the capability set of userID on dossierID.
func (s *Service) Grant(ctx context.Context, actor uuid.UUID, origin string, userID, dossierID uuid.UUID, caps access.Capabilities) (*Grant, error) {
	if userID == uuid.Nil || dossierID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id and dossier_id are required", access.ErrValidation)
	}

	g := &Grant{UserID: userID, DossierID: dossierID, Capabilities: caps}
	if actor != uuid.Nil {
		g.GrantedBy = &actor
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		created, err := s.repo.Upsert(ctx, g)
		if err != nil {
			return err
		}
		action := audit.ActionModification
		if created {
			action = audit.ActionCreation
		}
		_, err = s.audit.Record(ctx, action, audit.KindCapabilityGrant, g.EntityID(), actor, origin)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("grant capabilities: %w", err)
	}
	return g, nil
}

// RevokeAll deletes the grant row, leaving userID with no access on dossierID.
func (s *Service) RevokeAll(ctx context.Context, actor uuid.UUID, origin string, userID, dossierID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		deleted, err := s.repo.Delete(ctx, userID, dossierID)
		if err != nil {
			return fmt.Errorf("revoke capabilities: %w", err)
		}
		if !deleted {
			return access.ErrNotFound
		}
		if _, err := s.audit.Record(ctx, audit.ActionSuppression, audit.KindCapabilityGrant, EntityID(dossierID, userID), actor, origin); err != nil {
			return fmt.Errorf("revoke capabilities: %w", err)
		}
		return nil
	})
}

// Lookup implements access.CapabilityLookup.
func (s *Service) Lookup(ctx context.Context, userID, dossierID uuid.UUID) (access.Capabilities, bool, error) {
	g, err := s.repo.Get(ctx, userID, dossierID)
	if errors.Is(err, access.ErrNotFound) {
		return access.Capabilities{}, false, nil
	}
	if err != nil {
		return access.Capabilities{}, false, err
	}
	return g.Capabilities, true, nil
}

func (s *Service) Get(ctx context.Context, userID, dossierID uuid.UUID) (*Grant, error) {
	return s.repo.Get(ctx, userID, dossierID)
}

func (s *Service) ListByDossier(ctx context.Context, dossierID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	return s.repo.ListByDossier(ctx, dossierID, limit, offset)
}
