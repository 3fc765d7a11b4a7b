package capability

import (
	"time"

	"github.com/google/uuid"

	"github.com/dossier/accessd/internal/domain/access"
)

// Grant is one capability_grant row. A missing row means deny-all; there is
// no expiry.
type Grant struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	DossierID uuid.UUID `db:"dossier_id" json:"dossier_id"`
	access.Capabilities
	GrantedBy *uuid.UUID `db:"granted_by" json:"granted_by,omitempty"`
	GrantedAt time.Time  `db:"granted_at" json:"granted_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// EntityID is the audit entity id of the grant.
func (g *Grant) EntityID() string {
	return EntityID(g.DossierID, g.UserID)
}

func EntityID(dossierID, userID uuid.UUID) string {
	return dossierID.String() + "/" + userID.String()
}
