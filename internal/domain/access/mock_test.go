package access

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pair struct {
	user, dossier uuid.UUID
}

type mockCapabilities struct {
	mu   sync.Mutex
	rows map[pair]Capabilities
	err  error
}

func newMockCapabilities() *mockCapabilities {
	return &mockCapabilities{rows: make(map[pair]Capabilities)}
}

func (m *mockCapabilities) Lookup(ctx context.Context, userID, dossierID uuid.UUID) (Capabilities, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Capabilities{}, false, m.err
	}
	caps, ok := m.rows[pair{userID, dossierID}]
	return caps, ok, nil
}

func (m *mockCapabilities) set(userID, dossierID uuid.UUID, caps Capabilities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[pair{userID, dossierID}] = caps
}

type mockGrants struct {
	mu      sync.Mutex
	expires map[pair][]time.Time
	err     error
	block   bool
}

func newMockGrants() *mockGrants {
	return &mockGrants{expires: make(map[pair][]time.Time)}
}

func (m *mockGrants) HasActiveGrant(ctx context.Context, userID, dossierID uuid.UUID, now time.Time) (bool, error) {
	if m.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	for _, exp := range m.expires[pair{userID, dossierID}] {
		if exp.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockGrants) add(userID, dossierID uuid.UUID, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pair{userID, dossierID}
	m.expires[k] = append(m.expires[k], expiresAt)
}

type mockAttending struct {
	attending map[pair]bool
	err       error
}

func (m *mockAttending) IsAttending(ctx context.Context, userID, dossierID uuid.UUID) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.attending[pair{userID, dossierID}], nil
}
