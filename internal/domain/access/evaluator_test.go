package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/dossier/accessd/internal/platform/auth"
	"github.com/dossier/accessd/internal/platform/metrics"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	caps      *mockCapabilities
	grants    *mockGrants
	attending *mockAttending
	now       time.Time
	eval      *Evaluator
}

func newFixture() *fixture {
	f := &fixture{
		caps:      newMockCapabilities(),
		grants:    newMockGrants(),
		attending: &mockAttending{attending: make(map[pair]bool)},
		now:       t0,
	}
	f.eval = NewEvaluator(f.caps, f.grants, f.attending, time.Second, zerolog.Nop(), nil).
		WithClock(func() time.Time { return f.now })
	return f
}

func identity(role auth.Role) auth.Identity {
	return auth.Identity{UserID: uuid.New(), Role: role, Active: true}
}

func TestEvaluate_NoRowsDeniesEverything(t *testing.T) {
	f := newFixture()
	roles := []auth.Role{auth.RolePatient, auth.RoleInfirmier, auth.RoleAmbulancier,
		auth.RolePharmacien, auth.RoleMedecinGeneral, auth.RoleMedecinSpecialiste}

	for _, role := range roles {
		id := identity(role)
		dossier := uuid.New()
		for _, c := range AllCapabilities {
			d := f.eval.Evaluate(context.Background(), id, dossier, c)
			if d.Allow || d.Basis != BasisNone {
				t.Errorf("%s/%s: expected DENY with basis NONE, got %+v", role, c, d)
			}
		}
	}
}

func TestEvaluate_AdminAlwaysAllowed(t *testing.T) {
	f := newFixture()
	f.grants.err = errors.New("store down")
	f.caps.err = errors.New("store down")
	admin := identity(auth.RoleAdmin)

	for _, c := range AllCapabilities {
		d := f.eval.Evaluate(context.Background(), admin, uuid.New(), c)
		if !d.Allow || d.Basis != BasisNormal || d.Reason != ReasonAdmin {
			t.Errorf("%s: expected admin ALLOW, got %+v", c, d)
		}
	}
}

func TestEvaluate_AttendingMedecin(t *testing.T) {
	f := newFixture()
	doc := identity(auth.RoleMedecinSpecialiste)
	dossier := uuid.New()
	f.attending.attending[pair{doc.UserID, dossier}] = true

	for _, c := range AllCapabilities {
		d := f.eval.Evaluate(context.Background(), doc, dossier, c)
		if !d.Allow || d.Basis != BasisNormal || d.Reason != ReasonAttending {
			t.Errorf("%s: expected attending ALLOW, got %+v", c, d)
		}
	}
	if d := f.eval.Evaluate(context.Background(), doc, uuid.New(), CapRead); d.Allow {
		t.Error("attending relation must not extend to other dossiers")
	}
}

func TestEvaluate_AttendingIgnoredForOtherRoles(t *testing.T) {
	f := newFixture()
	nurse := identity(auth.RoleInfirmier)
	dossier := uuid.New()
	f.attending.attending[pair{nurse.UserID, dossier}] = true

	if d := f.eval.Evaluate(context.Background(), nurse, dossier, CapRead); d.Allow {
		t.Errorf("non-medecin roles never hold an attending relation, got %+v", d)
	}
}

func TestEvaluate_EmergencyOverridesCapabilities(t *testing.T) {
	f := newFixture()
	amb := identity(auth.RoleAmbulancier)
	dossier := uuid.New()
	f.caps.set(amb.UserID, dossier, Capabilities{})
	f.grants.add(amb.UserID, dossier, t0.Add(30*time.Minute))

	for _, c := range AllCapabilities {
		d := f.eval.Evaluate(context.Background(), amb, dossier, c)
		if !d.Allow || d.Basis != BasisEmergency {
			t.Errorf("%s: expected EMERGENCY ALLOW despite explicit false grant, got %+v", c, d)
		}
	}
}

func TestEvaluate_ExpiredEmergencyFallsThrough(t *testing.T) {
	f := newFixture()
	amb := identity(auth.RoleAmbulancier)
	dossier := uuid.New()
	expires := t0.Add(60 * time.Minute)
	f.grants.add(amb.UserID, dossier, expires)
	f.caps.set(amb.UserID, dossier, Capabilities{Read: true})

	// exactly at expiry the grant is no longer active
	for _, at := range []time.Time{expires, expires.Add(time.Minute), expires.Add(48 * time.Hour)} {
		f.now = at
		if d := f.eval.Evaluate(context.Background(), amb, dossier, CapRead); !d.Allow || d.Basis != BasisNormal {
			t.Errorf("at %s: expected ordinary read ALLOW, got %+v", at, d)
		}
		if d := f.eval.Evaluate(context.Background(), amb, dossier, CapDelete); d.Allow {
			t.Errorf("at %s: expected delete DENY after expiry, got %+v", at, d)
		}
	}
}

func TestEvaluate_GrantThenAllow(t *testing.T) {
	f := newFixture()
	u := identity(auth.RoleInfirmier)
	r := uuid.New()
	f.caps.set(u.UserID, r, Capabilities{Read: true, Append: false})

	if d := f.eval.Evaluate(context.Background(), u, r, CapAppend); d.Allow {
		t.Fatalf("expected append DENY, got %+v", d)
	}
	if d := f.eval.Evaluate(context.Background(), u, r, CapRead); !d.Allow {
		t.Fatalf("expected read ALLOW, got %+v", d)
	}

	f.caps.set(u.UserID, r, Capabilities{Read: true, Append: true})
	if d := f.eval.Evaluate(context.Background(), u, r, CapAppend); !d.Allow || d.Basis != BasisNormal {
		t.Fatalf("expected append ALLOW after grant, got %+v", d)
	}
}

func TestEvaluate_StoreErrorsFailClosed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture, id auth.Identity, dossier uuid.UUID)
		role  auth.Role
	}{
		{"emergency store", func(f *fixture, id auth.Identity, d uuid.UUID) {
			f.caps.set(id.UserID, d, Capabilities{Read: true})
			f.grants.err = errors.New("connection reset")
		}, auth.RoleInfirmier},
		{"capability store", func(f *fixture, id auth.Identity, d uuid.UUID) {
			f.caps.err = errors.New("connection reset")
		}, auth.RoleInfirmier},
		{"attending store", func(f *fixture, id auth.Identity, d uuid.UUID) {
			f.caps.set(id.UserID, d, Capabilities{Read: true})
			f.attending.err = errors.New("connection reset")
		}, auth.RoleMedecinGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			id := identity(tt.role)
			dossier := uuid.New()
			tt.setup(f, id, dossier)

			d := f.eval.Evaluate(context.Background(), id, dossier, CapRead)
			if d.Allow || d.Basis != BasisNone || d.Reason != ReasonStoreError {
				t.Errorf("expected fail-closed DENY, got %+v", d)
			}
		})
	}
}

func TestEvaluate_TimeoutFailsClosed(t *testing.T) {
	caps := newMockCapabilities()
	grants := newMockGrants()
	grants.block = true
	m := metrics.New()
	eval := NewEvaluator(caps, grants, nil, 20*time.Millisecond, zerolog.Nop(), m)

	start := time.Now()
	d := eval.Evaluate(context.Background(), identity(auth.RoleAmbulancier), uuid.New(), CapRead)
	if d.Allow || d.Reason != ReasonTimeout {
		t.Errorf("expected timeout DENY, got %+v", d)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("evaluation should not hang past its timeout")
	}

	count, err := testutil.GatherAndCount(m.Registry(), "accessd_access_evaluation_errors_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Errorf("expected one evaluation error series, got %d", count)
	}
}

func TestEvaluate_InvalidInputsDeny(t *testing.T) {
	f := newFixture()
	dossier := uuid.New()

	inactive := identity(auth.RoleInfirmier)
	inactive.Active = false
	f.caps.set(inactive.UserID, dossier, Capabilities{Read: true})

	if d := f.eval.Evaluate(context.Background(), inactive, dossier, CapRead); d.Allow {
		t.Error("inactive identity must be denied")
	}
	if d := f.eval.Evaluate(context.Background(), identity(auth.RoleAdmin), uuid.Nil, CapRead); d.Allow {
		t.Error("nil dossier must be denied")
	}
	if d := f.eval.Evaluate(context.Background(), identity(auth.RoleAdmin), dossier, Capability("share")); d.Allow {
		t.Error("unknown capability must be denied")
	}
}

func TestCapabilities_Allows(t *testing.T) {
	caps := Capabilities{Read: true, Modify: true}
	want := map[Capability]bool{CapRead: true, CapAppend: false, CapModify: true, CapDelete: false, "x": false}
	for c, w := range want {
		if got := caps.Allows(c); got != w {
			t.Errorf("Allows(%s) = %v, want %v", c, got, w)
		}
	}
	if CreatorCapabilities.Delete {
		t.Error("creators must never receive delete")
	}
	if SelfCapabilities.Append || SelfCapabilities.Modify || SelfCapabilities.Delete || !SelfCapabilities.Read {
		t.Error("self-registered patients receive read only")
	}
}

func TestParseCapability(t *testing.T) {
	if c, ok := ParseCapability(" Append "); !ok || c != CapAppend {
		t.Errorf("expected append, got %q %v", c, ok)
	}
	if _, ok := ParseCapability("write"); ok {
		t.Error("write is not a capability")
	}
}
