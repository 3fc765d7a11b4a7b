package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreation     Action = "CREATION"
	ActionModification Action = "MODIFICATION"
	ActionSuppression  Action = "SUPPRESSION"
)

func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionCreation, ActionModification, ActionSuppression:
		return a, true
	}
	return "", false
}

// Entity kinds written by accessd itself. Collaborators use their own.
const (
	KindEmergencyGrant  = "AccesUrgence"
	KindCapabilityGrant = "CapabilityGrant"
	KindDossier         = "Dossier"
	KindPatient         = "Patient"
	KindAttending       = "Attending"
)

// Entry is one immutable audit row. Seq orders entries that share a
// recorded_at timestamp.
type Entry struct {
	Seq           int64     `db:"seq" json:"seq"`
	ID            uuid.UUID `db:"id" json:"id"`
	Action        Action    `db:"action" json:"action"`
	EntityKind    string    `db:"entity_kind" json:"entity_kind"`
	EntityID      string    `db:"entity_id" json:"entity_id"`
	UserID        uuid.UUID `db:"user_id" json:"user_id"`
	RecordedAt    time.Time `db:"recorded_at" json:"recorded_at"`
	OriginAddress string    `db:"origin_address" json:"origin_address"`
}
