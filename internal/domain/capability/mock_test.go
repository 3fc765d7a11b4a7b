package capability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/domain/audit"
)

type key struct{ user, dossier uuid.UUID }

type mockRepo struct {
	mu   sync.Mutex
	rows map[key]Grant
	err  error
}

func newMockRepo() *mockRepo {
	return &mockRepo{rows: make(map[key]Grant)}
}

func (m *mockRepo) Upsert(_ context.Context, g *Grant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	k := key{g.UserID, g.DossierID}
	prev, exists := m.rows[k]
	now := time.Now()
	g.UpdatedAt = now
	g.GrantedAt = now
	if exists {
		g.GrantedAt = prev.GrantedAt
	}
	m.rows[k] = *g
	return !exists, nil
}

func (m *mockRepo) Delete(_ context.Context, userID, dossierID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	k := key{userID, dossierID}
	_, ok := m.rows[k]
	delete(m.rows, k)
	return ok, nil
}

func (m *mockRepo) Get(_ context.Context, userID, dossierID uuid.UUID) (*Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	g, ok := m.rows[key{userID, dossierID}]
	if !ok {
		return nil, access.ErrNotFound
	}
	return &g, nil
}

func (m *mockRepo) ListByDossier(_ context.Context, dossierID uuid.UUID, limit, offset int) ([]*Grant, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Grant
	for k, g := range m.rows {
		if k.dossier == dossierID {
			g := g
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, len(out), nil
}

func (m *mockRepo) snapshot() map[key]Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[key]Grant, len(m.rows))
	for k, v := range m.rows {
		cp[k] = v
	}
	return cp
}

func (m *mockRepo) restore(rows map[key]Grant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = rows
}

// fakeTx rolls the mock repository back when fn fails.
type fakeTx struct {
	repo *mockRepo
}

func (f fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := f.repo.snapshot()
	if err := fn(ctx); err != nil {
		f.repo.restore(saved)
		return err
	}
	return nil
}

type mockAuditor struct {
	entries []audit.Entry
	err     error
}

func (m *mockAuditor) Record(_ context.Context, action audit.Action, kind, id string, userID uuid.UUID, origin string) (*audit.Entry, error) {
	if m.err != nil {
		return nil, m.err
	}
	e := audit.Entry{ID: uuid.New(), Action: action, EntityKind: kind, EntityID: id, UserID: userID, OriginAddress: origin}
	m.entries = append(m.entries, e)
	return &e, nil
}

type noEmergency struct{}

func (noEmergency) HasActiveGrant(context.Context, uuid.UUID, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

type activeEmergency struct{}

func (activeEmergency) HasActiveGrant(context.Context, uuid.UUID, uuid.UUID, time.Time) (bool, error) {
	return true, nil
}
