package dossier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/domain/audit"
	"github.com/dossier/accessd/internal/domain/capability"
	"github.com/dossier/accessd/internal/platform/auth"
	"github.com/dossier/accessd/internal/platform/db"
)

// Auditor is satisfied by *audit.Recorder.
type Auditor interface {
	Record(ctx context.Context, action audit.Action, entityKind, entityID string, userID uuid.UUID, origin string) (*audit.Entry, error)
}

// Granter is satisfied by *capability.Service.
type Granter interface {
	Grant(ctx context.Context, actor uuid.UUID, origin string, userID, dossierID uuid.UUID, caps access.Capabilities) (*capability.Grant, error)
}

// creatorRoles may open a dossier for someone else.
var creatorRoles = []auth.Role{auth.RoleMedecinGeneral, auth.RoleMedecinSpecialiste, auth.RoleInfirmier}

type Service struct {
	repo   Repository
	tx     db.Transactor
	grants Granter
	audit  Auditor
	logger zerolog.Logger
}

func NewService(repo Repository, tx db.Transactor, grants Granter, auditor Auditor, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		tx:     tx,
		grants: grants,
		audit:  auditor,
		logger: logger.With().Str("component", "dossier").Logger(),
	}
}

// Create opens a dossier and gives its creator read, append and modify in the
// same transaction. Any failed step, the audit entry included, rolls back.
func (s *Service) Create(ctx context.Context, actor auth.Identity, origin string, req CreateRequest) (*Dossier, error) {
	if !auth.HasRole(actor, creatorRoles...) {
		return nil, access.ErrForbidden
	}
	if req.PatientID == nil && (strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "") {
		return nil, fmt.Errorf("%w: patient_id or first_name and last_name are required", access.ErrValidation)
	}

	var d *Dossier
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var p *Patient
		if req.PatientID != nil {
			var err error
			p, err = s.repo.GetPatient(ctx, *req.PatientID)
			if errors.Is(err, access.ErrNotFound) {
				return fmt.Errorf("%w: unknown patient", access.ErrValidation)
			}
			if err != nil {
				return err
			}
		} else {
			p = &Patient{
				FirstName:       strings.TrimSpace(req.FirstName),
				LastName:        strings.TrimSpace(req.LastName),
				BirthDate:       req.BirthDate,
				InsuranceNumber: strings.TrimSpace(req.InsuranceNumber),
			}
			if err := s.repo.CreatePatient(ctx, p); err != nil {
				return err
			}
			if _, err := s.audit.Record(ctx, audit.ActionCreation, audit.KindPatient, p.ID.String(), actor.UserID, origin); err != nil {
				return err
			}
		}

		var err error
		d, err = s.open(ctx, p, actor.UserID, origin, access.CreatorCapabilities)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create dossier: %w", err)
	}
	return d, nil
}

// RegisterSelf creates the calling patient's own dossier with a read-only
// grant. A second call returns the existing dossier.
func (s *Service) RegisterSelf(ctx context.Context, actor auth.Identity, origin string, req RegisterRequest) (*Dossier, bool, error) {
	if actor.Role != auth.RolePatient {
		return nil, false, access.ErrForbidden
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return nil, false, fmt.Errorf("%w: first_name and last_name are required", access.ErrValidation)
	}

	var (
		d       *Dossier
		created bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetPatientByUser(ctx, actor.UserID)
		if err == nil {
			d, err = s.repo.GetByPatient(ctx, existing.ID)
			return err
		}
		if !errors.Is(err, access.ErrNotFound) {
			return err
		}

		uid := actor.UserID
		p := &Patient{
			UserID:          &uid,
			FirstName:       strings.TrimSpace(req.FirstName),
			LastName:        strings.TrimSpace(req.LastName),
			BirthDate:       req.BirthDate,
			InsuranceNumber: strings.TrimSpace(req.InsuranceNumber),
		}
		if err := s.repo.CreatePatient(ctx, p); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, audit.ActionCreation, audit.KindPatient, p.ID.String(), actor.UserID, origin); err != nil {
			return err
		}
		d, err = s.open(ctx, p, actor.UserID, origin, access.SelfCapabilities)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("register patient: %w", err)
	}
	return d, created, nil
}

func (s *Service) open(ctx context.Context, p *Patient, actor uuid.UUID, origin string, caps access.Capabilities) (*Dossier, error) {
	d := &Dossier{PatientID: p.ID, Status: StatusActive, CreatedBy: &actor}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	d.Patient = p
	if _, err := s.audit.Record(ctx, audit.ActionCreation, audit.KindDossier, d.ID.String(), actor, origin); err != nil {
		return nil, err
	}
	if _, err := s.grants.Grant(ctx, actor, origin, actor, d.ID, caps); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Dossier, error) {
	return s.repo.GetByID(ctx, id)
}

// SetAttending assigns (or clears, with nil) the dossier's attending
// clinician, who must hold a MEDECIN role.
func (s *Service) SetAttending(ctx context.Context, actor uuid.UUID, origin string, id uuid.UUID, attendingID *uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SetAttending(ctx, id, attendingID); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, audit.ActionModification, audit.KindAttending, id.String(), actor, origin)
		return err
	})
}

func (s *Service) SetStatus(ctx context.Context, actor uuid.UUID, origin string, id uuid.UUID, status Status) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SetStatus(ctx, id, status); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, audit.ActionModification, audit.KindDossier, id.String(), actor, origin)
		return err
	})
}

// Delete purges the dossier, its patient and every grant on it. Audit
// entries about it remain.
func (s *Service) Delete(ctx context.Context, actor uuid.UUID, origin string, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		deleted, err := s.repo.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return access.ErrNotFound
		}
		_, err = s.audit.Record(ctx, audit.ActionSuppression, audit.KindDossier, id.String(), actor, origin)
		return err
	})
}

// IsAttending implements access.AttendingLookup.
func (s *Service) IsAttending(ctx context.Context, userID, dossierID uuid.UUID) (bool, error) {
	return s.repo.IsAttending(ctx, userID, dossierID)
}

// ResolveEmergencyTarget finds or bootstraps the dossier an emergency grant
// attaches to. It must run inside the caller's transaction. An explicit
// dossier id wins, then the insurance number; with neither a fresh
// placeholder is allocated. created reports whether a placeholder was made.
func (s *Service) ResolveEmergencyTarget(ctx context.Context, dossierID *uuid.UUID, insurance string, actor uuid.UUID) (uuid.UUID, bool, error) {
	insurance = strings.TrimSpace(insurance)

	switch {
	case dossierID != nil:
		created, err := s.repo.InsertPlaceholder(ctx, *dossierID, newPlaceholder(""), actor)
		if err != nil {
			return uuid.Nil, false, err
		}
		if insurance != "" {
			if err := s.backfill(ctx, *dossierID, insurance); err != nil {
				return uuid.Nil, false, err
			}
		}
		return *dossierID, created, nil

	case insurance != "":
		if id, found, err := s.repo.FindByInsurance(ctx, insurance); err != nil || found {
			return id, false, err
		}
		p := newPlaceholder(insurance)
		inserted, err := s.repo.InsertPlaceholderPatient(ctx, p)
		if err != nil {
			return uuid.Nil, false, err
		}
		if !inserted {
			// lost the race; the winner committed patient and dossier together
			id, found, err := s.repo.FindByInsurance(ctx, insurance)
			if err != nil {
				return uuid.Nil, false, err
			}
			if !found {
				return uuid.Nil, false, fmt.Errorf("insurance number %q held by a patient without dossier", insurance)
			}
			return id, false, nil
		}
		d := &Dossier{PatientID: p.ID, Status: StatusActive, CreatedBy: &actor}
		if err := s.repo.Create(ctx, d); err != nil {
			return uuid.Nil, false, err
		}
		return d.ID, true, nil

	default:
		id := uuid.New()
		if _, err := s.repo.InsertPlaceholder(ctx, id, newPlaceholder(""), actor); err != nil {
			return uuid.Nil, false, err
		}
		return id, true, nil
	}
}

func (s *Service) backfill(ctx context.Context, dossierID uuid.UUID, insurance string) error {
	ok, err := s.repo.BackfillInsurance(ctx, dossierID, insurance)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug().
			Str("dossier_id", dossierID.String()).
			Msg("insurance number not backfilled: already set or held by another patient")
	}
	return nil
}
