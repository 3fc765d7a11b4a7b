package dossier

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusArchived Status = "ARCHIVED"
)

func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusActive, StatusArchived:
		return st, true
	}
	return "", false
}

// Placeholder identity given to patients bootstrapped by an emergency
// activation before anyone knows who they are.
const (
	UnknownFirstName = "INCONNU"
	UnknownLastName  = "INCONNU"
)

type Patient struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	UserID          *uuid.UUID `db:"user_id" json:"user_id,omitempty"`
	FirstName       string     `db:"first_name" json:"first_name"`
	LastName        string     `db:"last_name" json:"last_name"`
	BirthDate       *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	InsuranceNumber string     `db:"insurance_number" json:"insurance_number,omitempty"`
	IsPlaceholder   bool       `db:"is_placeholder" json:"is_placeholder"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func newPlaceholder(insurance string) *Patient {
	return &Patient{
		ID:              uuid.New(),
		FirstName:       UnknownFirstName,
		LastName:        UnknownLastName,
		InsuranceNumber: insurance,
		IsPlaceholder:   true,
	}
}

// Dossier is the single medical record of a patient.
type Dossier struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	Status      Status     `db:"status" json:"status"`
	AttendingID *uuid.UUID `db:"attending_id" json:"attending_id,omitempty"`
	CreatedBy   *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`

	Patient *Patient `json:"patient,omitempty"`
}

// CreateRequest creates a dossier for an existing patient (PatientID) or for
// a new one described by the remaining fields.
type CreateRequest struct {
	PatientID       *uuid.UUID `json:"patient_id,omitempty"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	BirthDate       *time.Time `json:"birth_date,omitempty"`
	InsuranceNumber string     `json:"insurance_number"`
}

type RegisterRequest struct {
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	BirthDate       *time.Time `json:"birth_date,omitempty"`
	InsuranceNumber string     `json:"insurance_number"`
}
