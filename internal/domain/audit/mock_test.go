package audit

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dossier/accessd/internal/platform/auditstream"
)

type mockRepo struct {
	mu      sync.Mutex
	entries []*Entry
	seq     int64
	err     error
}

func (m *mockRepo) Append(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.seq++
	e.Seq = m.seq
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *mockRepo) filter(keep func(e *Entry) bool, limit, offset int) ([]*Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	var out []*Entry
	for _, e := range m.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (m *mockRepo) ListByEntity(ctx context.Context, kind, id string, limit, offset int) ([]*Entry, int, error) {
	return m.filter(func(e *Entry) bool { return e.EntityKind == kind && e.EntityID == id }, limit, offset)
}

func (m *mockRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return m.filter(func(e *Entry) bool { return e.UserID == userID }, limit, offset)
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	return m.filter(func(e *Entry) bool { return true }, limit, offset)
}

type mockStream struct {
	mu     sync.Mutex
	events []auditstream.Event
	err    error
}

func (m *mockStream) Publish(ctx context.Context, ev auditstream.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockStream) Close() error { return nil }

var errStore = errors.New("store unavailable")
