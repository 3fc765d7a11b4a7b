package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/domain/audit"
	"github.com/dossier/accessd/internal/platform/auth"
)

func newTestService() (*Service, *mockRepo, *mockAuditor) {
	repo := newMockRepo()
	aud := &mockAuditor{}
	return NewService(repo, fakeTx{repo: repo}, aud), repo, aud
}

func TestGrant_UpsertLastWriteWins(t *testing.T) {
	svc, _, aud := newTestService()
	ctx := context.Background()
	admin, user, dossier := uuid.New(), uuid.New(), uuid.New()

	if _, err := svc.Grant(ctx, admin, "10.0.0.1", user, dossier, access.Capabilities{Read: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Grant(ctx, admin, "10.0.0.1", user, dossier, access.Capabilities{Append: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	caps, found, err := svc.Lookup(ctx, user, dossier)
	if err != nil || !found {
		t.Fatalf("expected grant to be found, got found=%v err=%v", found, err)
	}
	if caps.Read || !caps.Append {
		t.Errorf("expected second write to replace the first, got %+v", caps)
	}

	if len(aud.entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(aud.entries))
	}
	if aud.entries[0].Action != audit.ActionCreation || aud.entries[1].Action != audit.ActionModification {
		t.Errorf("expected CREATION then MODIFICATION, got %s, %s", aud.entries[0].Action, aud.entries[1].Action)
	}
	if aud.entries[0].EntityKind != audit.KindCapabilityGrant || aud.entries[0].EntityID != EntityID(dossier, user) {
		t.Errorf("unexpected audit target %+v", aud.entries[0])
	}
	if aud.entries[0].UserID != admin {
		t.Error("audit entry must be attributed to the granting user")
	}
}

func TestGrant_AuditFailureRollsBack(t *testing.T) {
	svc, repo, aud := newTestService()
	aud.err = errors.New("audit store down")
	user, dossier := uuid.New(), uuid.New()

	_, err := svc.Grant(context.Background(), uuid.New(), "", user, dossier, access.Capabilities{Read: true})
	if err == nil {
		t.Fatal("expected grant to fail when the audit entry cannot be written")
	}
	if len(repo.rows) != 0 {
		t.Error("grant must be rolled back with its audit entry")
	}
}

func TestGrant_Validation(t *testing.T) {
	svc, repo, _ := newTestService()
	_, err := svc.Grant(context.Background(), uuid.New(), "", uuid.Nil, uuid.New(), access.Capabilities{Read: true})
	if !errors.Is(err, access.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if len(repo.rows) != 0 {
		t.Error("nothing must be written on validation failure")
	}
}

func TestRevokeAll(t *testing.T) {
	svc, _, aud := newTestService()
	ctx := context.Background()
	actor, user, dossier := uuid.New(), uuid.New(), uuid.New()

	if _, err := svc.Grant(ctx, actor, "", user, dossier, access.Capabilities{Read: true, Modify: true}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RevokeAll(ctx, actor, "", user, dossier); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, found, _ := svc.Lookup(ctx, user, dossier); found {
		t.Error("expected grant to be gone")
	}
	if last := aud.entries[len(aud.entries)-1]; last.Action != audit.ActionSuppression {
		t.Errorf("expected SUPPRESSION entry, got %s", last.Action)
	}

	if err := svc.RevokeAll(ctx, actor, "", user, dossier); !errors.Is(err, access.ErrNotFound) {
		t.Errorf("expected not found on second revoke, got %v", err)
	}
}

func TestRevokeAll_AuditFailureKeepsGrant(t *testing.T) {
	svc, _, aud := newTestService()
	ctx := context.Background()
	user, dossier := uuid.New(), uuid.New()

	if _, err := svc.Grant(ctx, uuid.New(), "", user, dossier, access.Capabilities{Read: true}); err != nil {
		t.Fatal(err)
	}
	aud.err = errors.New("audit store down")
	if err := svc.RevokeAll(ctx, uuid.New(), "", user, dossier); err == nil {
		t.Fatal("expected revoke to fail")
	}
	if _, found, _ := svc.Lookup(ctx, user, dossier); !found {
		t.Error("grant must survive a rolled back revoke")
	}
}

func TestLookup_StoreError(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.err = errors.New("connection refused")
	if _, _, err := svc.Lookup(context.Background(), uuid.New(), uuid.New()); err == nil {
		t.Error("expected store error to propagate to the evaluator")
	}
}

// A user holding read but not append is denied append until it is granted.
func TestGrant_ChangesEvaluation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	nurse := auth.Identity{UserID: uuid.New(), Role: auth.RoleInfirmier, Active: true}
	dossier := uuid.New()
	eval := access.NewEvaluator(svc, noEmergency{}, nil, time.Second, zerolog.Nop(), nil)

	if _, err := svc.Grant(ctx, uuid.New(), "", nurse.UserID, dossier, access.Capabilities{Read: true}); err != nil {
		t.Fatal(err)
	}
	if d := eval.Evaluate(ctx, nurse, dossier, access.CapAppend); d.Allow {
		t.Fatalf("expected append to be denied, got %+v", d)
	}

	if _, err := svc.Grant(ctx, uuid.New(), "", nurse.UserID, dossier, access.Capabilities{Read: true, Append: true}); err != nil {
		t.Fatal(err)
	}
	d := eval.Evaluate(ctx, nurse, dossier, access.CapAppend)
	if !d.Allow || d.Basis != access.BasisNormal {
		t.Errorf("expected append to be allowed on normal basis, got %+v", d)
	}
}
