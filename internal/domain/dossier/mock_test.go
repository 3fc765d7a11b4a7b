package dossier

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/domain/audit"
	"github.com/dossier/accessd/internal/domain/capability"
)

type mockRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]Patient
	dossiers map[uuid.UUID]Dossier
	err      error
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]Patient), dossiers: make(map[uuid.UUID]Dossier)}
}

func (m *mockRepo) insuranceTaken(n string) bool {
	for _, p := range m.patients {
		if n != "" && p.InsuranceNumber == n {
			return true
		}
	}
	return false
}

func (m *mockRepo) CreatePatient(_ context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.insuranceTaken(p.InsuranceNumber) {
		return access.ErrValidation
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	m.patients[p.ID] = *p
	return nil
}

func (m *mockRepo) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	return &p, nil
}

func (m *mockRepo) GetPatientByUser(_ context.Context, userID uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.UserID != nil && *p.UserID == userID {
			p := p
			return &p, nil
		}
	}
	return nil, access.ErrNotFound
}

func (m *mockRepo) Create(_ context.Context, d *Dossier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, existing := range m.dossiers {
		if existing.PatientID == d.PatientID {
			return access.ErrValidation
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = StatusActive
	}
	m.dossiers[d.ID] = *d
	return nil
}

func (m *mockRepo) withPatient(d Dossier) *Dossier {
	p := m.patients[d.PatientID]
	d.Patient = &p
	return &d
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Dossier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.dossiers[id]
	if !ok {
		return nil, access.ErrNotFound
	}
	return m.withPatient(d), nil
}

func (m *mockRepo) GetByPatient(_ context.Context, patientID uuid.UUID) (*Dossier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.dossiers {
		if d.PatientID == patientID {
			return m.withPatient(d), nil
		}
	}
	return nil, access.ErrNotFound
}

func (m *mockRepo) SetAttending(_ context.Context, id uuid.UUID, attendingID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dossiers[id]
	if !ok {
		return access.ErrNotFound
	}
	d.AttendingID = attendingID
	m.dossiers[id] = d
	return nil
}

func (m *mockRepo) SetStatus(_ context.Context, id uuid.UUID, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dossiers[id]
	if !ok {
		return access.ErrNotFound
	}
	d.Status = status
	m.dossiers[id] = d
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dossiers[id]
	if !ok {
		return false, nil
	}
	delete(m.dossiers, id)
	delete(m.patients, d.PatientID)
	return true, nil
}

func (m *mockRepo) IsAttending(_ context.Context, userID, dossierID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	d, ok := m.dossiers[dossierID]
	return ok && d.AttendingID != nil && *d.AttendingID == userID, nil
}

func (m *mockRepo) InsertPlaceholder(_ context.Context, dossierID uuid.UUID, p *Patient, createdBy uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.dossiers[dossierID]; ok {
		return false, nil
	}
	m.patients[p.ID] = *p
	m.dossiers[dossierID] = Dossier{ID: dossierID, PatientID: p.ID, Status: StatusActive, CreatedBy: &createdBy}
	return true, nil
}

func (m *mockRepo) InsertPlaceholderPatient(_ context.Context, p *Patient) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.insuranceTaken(p.InsuranceNumber) {
		return false, nil
	}
	m.patients[p.ID] = *p
	return true, nil
}

func (m *mockRepo) FindByInsurance(_ context.Context, insurance string) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return uuid.Nil, false, m.err
	}
	for _, d := range m.dossiers {
		if m.patients[d.PatientID].InsuranceNumber == insurance {
			return d.ID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (m *mockRepo) BackfillInsurance(_ context.Context, dossierID uuid.UUID, insurance string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dossiers[dossierID]
	if !ok || m.insuranceTaken(insurance) {
		return false, nil
	}
	p := m.patients[d.PatientID]
	if p.InsuranceNumber != "" {
		return false, nil
	}
	p.InsuranceNumber = insurance
	m.patients[p.ID] = p
	return true, nil
}

type state struct {
	patients map[uuid.UUID]Patient
	dossiers map[uuid.UUID]Dossier
}

func (m *mockRepo) snapshot() state {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := state{patients: make(map[uuid.UUID]Patient), dossiers: make(map[uuid.UUID]Dossier)}
	for k, v := range m.patients {
		s.patients[k] = v
	}
	for k, v := range m.dossiers {
		s.dossiers[k] = v
	}
	return s
}

func (m *mockRepo) restore(s state) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients, m.dossiers = s.patients, s.dossiers
}

type fakeTx struct {
	repo   *mockRepo
	grants *mockGranter
}

func (f fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	saved := f.repo.snapshot()
	savedGrants := len(f.grants.grants)
	if err := fn(ctx); err != nil {
		f.repo.restore(saved)
		f.grants.grants = f.grants.grants[:savedGrants]
		return err
	}
	return nil
}

type mockGranter struct {
	grants []capability.Grant
	err    error
}

func (m *mockGranter) Grant(_ context.Context, actor uuid.UUID, _ string, userID, dossierID uuid.UUID, caps access.Capabilities) (*capability.Grant, error) {
	if m.err != nil {
		return nil, m.err
	}
	g := capability.Grant{UserID: userID, DossierID: dossierID, Capabilities: caps, GrantedBy: &actor}
	m.grants = append(m.grants, g)
	return &g, nil
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

func (m *mockAuditor) count(kind string, action audit.Action) int {
	n := 0
	for _, e := range m.entries {
		if e.EntityKind == kind && e.Action == action {
			n++
		}
	}
	return n
}
