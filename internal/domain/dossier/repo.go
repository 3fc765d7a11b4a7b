package dossier

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPatientByUser(ctx context.Context, userID uuid.UUID) (*Patient, error)

	Create(ctx context.Context, d *Dossier) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dossier, error)
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*Dossier, error)
	SetAttending(ctx context.Context, id uuid.UUID, attendingID *uuid.UUID) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	// Delete removes the dossier with its patient. Grants cascade; audit
	// entries are not linked and stay.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	IsAttending(ctx context.Context, userID, dossierID uuid.UUID) (bool, error)

	// Emergency bootstrap. All are insert-if-absent so concurrent activations
	// converge on one dossier.
	InsertPlaceholder(ctx context.Context, dossierID uuid.UUID, p *Patient, createdBy uuid.UUID) (bool, error)
	InsertPlaceholderPatient(ctx context.Context, p *Patient) (bool, error)
	FindByInsurance(ctx context.Context, insurance string) (uuid.UUID, bool, error)
	BackfillInsurance(ctx context.Context, dossierID uuid.UUID, insurance string) (bool, error)
}
