package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by the access-controlled domains. Handlers map them
// with errors.Is: validation to 400, forbidden to the uniform 403, not found
// to 404 only where existence is not secret.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("access denied")
	ErrNotFound   = errors.New("not found")
)

// Capability is one of the four independent per-dossier permissions.
type Capability string

const (
	CapRead   Capability = "read"
	CapAppend Capability = "append"
	CapModify Capability = "modify"
	CapDelete Capability = "delete"
)

// AllCapabilities lists capabilities in a stable order.
var AllCapabilities = []Capability{CapRead, CapAppend, CapModify, CapDelete}

func ParseCapability(s string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CapRead, CapAppend, CapModify, CapDelete:
		return c, true
	}
	return "", false
}

// Capabilities is the boolean set stored in a capability grant row.
type Capabilities struct {
	Read   bool `json:"read"`
	Append bool `json:"append"`
	Modify bool `json:"modify"`
	Delete bool `json:"delete"`
}

// CreatorCapabilities are granted to whoever creates a dossier.
var CreatorCapabilities = Capabilities{Read: true, Append: true, Modify: true}

// SelfCapabilities are granted to a patient on their own dossier.
var SelfCapabilities = Capabilities{Read: true}

// Allows reports whether the set contains c. Unknown capabilities are denied.
func (cs Capabilities) Allows(c Capability) bool {
	switch c {
	case CapRead:
		return cs.Read
	case CapAppend:
		return cs.Append
	case CapModify:
		return cs.Modify
	case CapDelete:
		return cs.Delete
	}
	return false
}

func (cs Capabilities) Any() bool {
	return cs.Read || cs.Append || cs.Modify || cs.Delete
}

// Basis tells on what authority a decision was made.
type Basis string

const (
	BasisNormal    Basis = "NORMAL"
	BasisEmergency Basis = "EMERGENCY"
	BasisNone      Basis = "NONE"
)

// Reason tags are for logs and metrics only; they are never sent to callers.
const (
	ReasonAdmin          = "admin"
	ReasonAttending      = "attending"
	ReasonEmergency      = "emergency_grant"
	ReasonCapability     = "capability_grant"
	ReasonNoGrant        = "no_grant"
	ReasonNotGranted     = "capability_not_granted"
	ReasonInvalidRequest = "invalid_request"
	ReasonStoreError     = "store_error"
	ReasonTimeout        = "timeout"
)

// Decision is the outcome of one evaluation.
type Decision struct {
	Allow  bool   `json:"allow"`
	Basis  Basis  `json:"basis"`
	Reason string `json:"-"`
}

func allow(basis Basis, reason string) Decision {
	return Decision{Allow: true, Basis: basis, Reason: reason}
}

func deny(reason string) Decision {
	return Decision{Allow: false, Basis: BasisNone, Reason: reason}
}

// CapabilityLookup reads a permanent grant. found is false when no row
// exists, which always means deny.
type CapabilityLookup interface {
	Lookup(ctx context.Context, userID, dossierID uuid.UUID) (caps Capabilities, found bool, err error)
}

// EmergencyLookup reports whether userID holds a grant on dossierID with
// expires_at strictly after now.
type EmergencyLookup interface {
	HasActiveGrant(ctx context.Context, userID, dossierID uuid.UUID, now time.Time) (bool, error)
}

// AttendingLookup reports whether userID is the dossier's attending clinician.
type AttendingLookup interface {
	IsAttending(ctx context.Context, userID, dossierID uuid.UUID) (bool, error)
}
