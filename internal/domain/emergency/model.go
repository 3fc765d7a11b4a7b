package emergency

import (
	"time"

	"github.com/google/uuid"
)

// Grant is a break-glass grant. It authorizes every capability on the dossier
// while now < ExpiresAt. There is no status column and no revoke: expiry is
// the only termination.
type Grant struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	DossierID uuid.UUID `db:"dossier_id" json:"dossier_id"`
	Reason    string    `db:"reason" json:"reason"`
	GrantedAt time.Time `db:"granted_at" json:"granted_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CaseReport
}

// CaseReport is the optional intervention report filed with the grant.
type CaseReport struct {
	Circumstances *string `db:"circumstances" json:"circumstances,omitempty"`
	Location      *string `db:"location" json:"location,omitempty"`
	VitalSigns    *string `db:"vital_signs" json:"vital_signs,omitempty"`
	FirstAid      *string `db:"first_aid" json:"first_aid,omitempty"`
	Destination   *string `db:"destination" json:"destination,omitempty"`
}

func (g *Grant) ActiveAt(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// ActivateRequest targets an existing dossier (or a caller-allocated id),
// else a patient by insurance number, else a brand new placeholder.
type ActivateRequest struct {
	DossierID       *uuid.UUID `json:"dossier_id,omitempty"`
	InsuranceNumber string     `json:"insurance_number,omitempty"`
	Reason          string     `json:"reason"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	CaseReport
}

type Activation struct {
	GrantID        uuid.UUID `json:"grant_id"`
	DossierID      uuid.UUID `json:"dossier_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedDossier bool      `json:"created_dossier"`
	// AuditRecorded is false when the grant stands but its audit entry could
	// not be written.
	AuditRecorded bool `json:"audit_recorded"`
}

// Policy bounds activation durations, in minutes.
type Policy struct {
	DefaultMinutes int
	MinMinutes     int
	MaxMinutes     int
}

var DefaultPolicy = Policy{DefaultMinutes: 60, MinMinutes: 15, MaxMinutes: 480}

// Duration resolves the requested duration. Zero means the default; anything
// outside [Min, Max] is rejected rather than clamped.
func (p Policy) Duration(minutes int) (time.Duration, bool) {
	if minutes == 0 {
		minutes = p.DefaultMinutes
	}
	if minutes < p.MinMinutes || minutes > p.MaxMinutes {
		return 0, false
	}
	return time.Duration(minutes) * time.Minute, true
}
