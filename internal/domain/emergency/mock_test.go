package emergency

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/domain/audit"
)

type mockRepo struct {
	mu     sync.Mutex
	grants []Grant
	err    error
}

func (m *mockRepo) Create(_ context.Context, g *Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if !g.ExpiresAt.After(g.GrantedAt) {
		return access.ErrValidation
	}
	m.grants = append(m.grants, *g)
	return nil
}

func (m *mockRepo) HasActive(_ context.Context, userID, dossierID uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	for _, g := range m.grants {
		if g.UserID == userID && g.DossierID == dossierID && g.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) filter(keep func(g Grant) bool, limit, offset int) ([]*Grant, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var out []*Grant
	for _, g := range m.grants {
		if keep(g) {
			g := g
			out = append(out, &g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	total := len(out)
	if offset > total {
		offset = total
	}
	if end := offset + limit; end < total {
		out = out[:end]
	}
	return out[offset:], total, nil
}

func (m *mockRepo) ListActiveByUser(_ context.Context, userID uuid.UUID, now time.Time, limit, offset int) ([]*Grant, int, error) {
	return m.filter(func(g Grant) bool { return g.UserID == userID && g.ExpiresAt.After(now) }, limit, offset)
}

func (m *mockRepo) ListByDossier(_ context.Context, dossierID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	return m.filter(func(g Grant) bool { return g.DossierID == dossierID }, limit, offset)
}

func (m *mockRepo) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	return m.filter(func(g Grant) bool { return g.UserID == userID }, limit, offset)
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Grant, int, error) {
	return m.filter(func(Grant) bool { return true }, limit, offset)
}

// mockTargets keeps dossiers keyed by id and by insurance number.
type mockTargets struct {
	mu        sync.Mutex
	dossiers  map[uuid.UUID]string
	err       error
	resolveCt int
}

func newMockTargets() *mockTargets {
	return &mockTargets{dossiers: make(map[uuid.UUID]string)}
}

func (m *mockTargets) ResolveEmergencyTarget(_ context.Context, dossierID *uuid.UUID, insurance string, _ uuid.UUID) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveCt++
	if m.err != nil {
		return uuid.Nil, false, m.err
	}
	if dossierID != nil {
		if _, ok := m.dossiers[*dossierID]; ok {
			return *dossierID, false, nil
		}
		m.dossiers[*dossierID] = insurance
		return *dossierID, true, nil
	}
	if insurance != "" {
		for id, n := range m.dossiers {
			if n == insurance {
				return id, false, nil
			}
		}
	}
	id := uuid.New()
	m.dossiers[id] = insurance
	return id, true, nil
}

type fakeTx struct {
	repo    *mockRepo
	targets *mockTargets
}

func (f fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.repo.mu.Lock()
	grants := append([]Grant(nil), f.repo.grants...)
	f.repo.mu.Unlock()
	f.targets.mu.Lock()
	dossiers := make(map[uuid.UUID]string, len(f.targets.dossiers))
	for k, v := range f.targets.dossiers {
		dossiers[k] = v
	}
	f.targets.mu.Unlock()

	if err := fn(ctx); err != nil {
		f.repo.mu.Lock()
		f.repo.grants = grants
		f.repo.mu.Unlock()
		f.targets.mu.Lock()
		f.targets.dossiers = dossiers
		f.targets.mu.Unlock()
		return err
	}
	return nil
}

type mockAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (m *mockAuditor) Record(_ context.Context, action audit.Action, kind, id string, userID uuid.UUID, origin string) (*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	e := audit.Entry{ID: uuid.New(), Action: action, EntityKind: kind, EntityID: id, UserID: userID, OriginAddress: origin}
	m.entries = append(m.entries, e)
	return &e, nil
}

type noCapabilities struct{}

func (noCapabilities) Lookup(context.Context, uuid.UUID, uuid.UUID) (access.Capabilities, bool, error) {
	return access.Capabilities{}, false, nil
}

// explicitFalse holds a grant row with every capability switched off.
type explicitFalse struct{}

func (explicitFalse) Lookup(context.Context, uuid.UUID, uuid.UUID) (access.Capabilities, bool, error) {
	return access.Capabilities{}, true, nil
}
