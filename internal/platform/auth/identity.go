package auth

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Role is the single role carried by a verified identity.
type Role string

const (
	RolePatient            Role = "PATIENT"
	RoleInfirmier          Role = "INFIRMIER"
	RoleAmbulancier        Role = "AMBULANCIER"
	RolePharmacien         Role = "PHARMACIEN"
	RoleMedecinGeneral     Role = "MEDECIN_GENERAL"
	RoleMedecinSpecialiste Role = "MEDECIN_SPECIALISTE"
	RoleAdmin              Role = "ADMIN"
)

var knownRoles = map[Role]bool{
	RolePatient:            true,
	RoleInfirmier:          true,
	RoleAmbulancier:        true,
	RolePharmacien:         true,
	RoleMedecinGeneral:     true,
	RoleMedecinSpecialiste: true,
	RoleAdmin:              true,
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, knownRoles[r]
}

// IsMedecin reports whether the role can hold an attending relation.
func (r Role) IsMedecin() bool {
	return r == RoleMedecinGeneral || r == RoleMedecinSpecialiste
}

// Identity is the verified (user, role, active) triple attached to a request.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
	Active bool      `json:"active"`
}

// Valid reports whether the identity may reach the access evaluator.
func (i Identity) Valid() bool {
	return i.UserID != uuid.Nil && i.Active && knownRoles[i.Role]
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity set by the authentication
// middleware. ok is false when the request is anonymous.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// UserIDFromContext returns the acting user id, or uuid.Nil when anonymous.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}
