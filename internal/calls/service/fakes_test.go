package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"agency_calls_backend/internal/calls/domain"
	"agency_calls_backend/internal/calls/ports"
	"agency_calls_backend/internal/calls/repository"
	"agency_calls_backend/internal/events"
	"agency_calls_backend/platform/phone"

	"github.com/google/uuid"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	pending  map[string]domain.PendingCorrelation
	jobs     map[uuid.UUID]repository.NewTranscriptJob
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]*domain.Session{},
		pending:  map[string]domain.PendingCorrelation{},
		jobs:     map[uuid.UUID]repository.NewTranscriptJob{},
	}
}

func key(tenantID uuid.UUID, externalCallID string) string {
	return tenantID.String() + "/" + externalCallID
}

func (f *fakeStore) WithCallLock(_ context.Context, _ uuid.UUID, _ string, fn func(tx repository.CallTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(&fakeTx{f: f})
}

func (f *fakeStore) GetByID(_ context.Context, tenantID, id uuid.UUID) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ID == id && s.TenantID == tenantID {
			return *s, nil
		}
	}
	return domain.Session{}, repository.ErrNotFound
}

func (f *fakeStore) ListRecent(_ context.Context, tenantID uuid.UUID, limit int) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Session
	for _, s := range f.sessions {
		if s.TenantID == tenantID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) PurgePendingCorrelations(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, p := range f.pending {
		if p.ReceivedAt.Before(cutoff) {
			delete(f.pending, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) session(tenantID uuid.UUID, externalCallID string) *domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[key(tenantID, externalCallID)]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (f *fakeStore) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type fakeTx struct {
	f *fakeStore
}

func (t *fakeTx) byID(id uuid.UUID) *domain.Session {
	for _, s := range t.f.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (t *fakeTx) FindSession(_ context.Context, tenantID uuid.UUID, externalCallID string) (*domain.Session, error) {
	s, ok := t.f.sessions[key(tenantID, externalCallID)]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (t *fakeTx) CreateSession(_ context.Context, s *domain.Session) error {
	k := key(s.TenantID, s.ExternalCallID)
	if _, exists := t.f.sessions[k]; exists {
		return repository.ErrDuplicate
	}
	s.ID = uuid.New()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	t.f.sessions[k] = &cp
	return nil
}

func (t *fakeTx) MarkAnswered(_ context.Context, id uuid.UUID, answeredAt time.Time, agentID *uuid.UUID, extension string) (bool, error) {
	s := t.byID(id)
	if s == nil || s.Status != domain.StatusRinging {
		return false, nil
	}
	s.Status = domain.StatusInProgress
	s.AnsweredAt = &answeredAt
	if s.AgentID == nil {
		s.AgentID = agentID
	}
	if s.Extension == "" {
		s.Extension = extension
	}
	return true, nil
}

func (t *fakeTx) MarkCompleted(_ context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int) (bool, error) {
	s := t.byID(id)
	if s == nil || s.Status == domain.StatusCompleted {
		return false, nil
	}
	s.Status = domain.StatusCompleted
	s.EndedAt = &endedAt
	s.DurationSeconds = &durationSeconds
	return true, nil
}

func (t *fakeTx) ReassertInProgress(context.Context, uuid.UUID) error { return nil }

func (t *fakeTx) AttachTranscriptionSession(_ context.Context, id uuid.UUID, sessionID, party string) error {
	s := t.byID(id)
	if s == nil {
		return errors.New("no such session")
	}
	s.TranscriptionSessionID = &sessionID
	if party != "" {
		s.ExternalPartyNumber = &party
	}
	return nil
}

func (t *fakeTx) TakePendingCorrelation(_ context.Context, tenantID uuid.UUID, externalCallID string) (*domain.PendingCorrelation, error) {
	k := key(tenantID, externalCallID)
	p, ok := t.f.pending[k]
	if !ok {
		return nil, nil
	}
	delete(t.f.pending, k)
	return &p, nil
}

func (t *fakeTx) UpsertPendingCorrelation(_ context.Context, p domain.PendingCorrelation) error {
	t.f.pending[key(p.TenantID, p.ExternalCallID)] = p
	return nil
}

func (t *fakeTx) EnqueueTranscriptJob(_ context.Context, job repository.NewTranscriptJob) (bool, error) {
	if _, exists := t.f.jobs[job.CallID]; exists {
		return false, nil
	}
	t.f.jobs[job.CallID] = job
	return true, nil
}

type fakeDirectory struct {
	customers []struct {
		number string
		c      ports.Customer
	}
	agents []ports.Agent
}

func (d *fakeDirectory) addCustomer(number string, c ports.Customer) {
	d.customers = append(d.customers, struct {
		number string
		c      ports.Customer
	}{number, c})
}

func (d *fakeDirectory) FindCustomerByPhone(_ context.Context, _ uuid.UUID, number string) (*ports.Customer, error) {
	for _, entry := range d.customers {
		if phone.SameNumber(entry.number, number) {
			c := entry.c
			return &c, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) FindAgentByExtension(_ context.Context, _ uuid.UUID, extension string) (*ports.Agent, error) {
	for _, a := range d.agents {
		if a.Extension == extension {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) ListAgents(context.Context, uuid.UUID) ([]ports.Agent, error) {
	return d.agents, nil
}

type fakeCapture struct {
	mu       sync.Mutex
	session  *ports.CaptureSession
	startErr error
	started  []string
	stopped  []string
}

func (c *fakeCapture) StartCapture(_ context.Context, _ uuid.UUID, externalCallID, _ string) (*ports.CaptureSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, externalCallID)
	return c.session, c.startErr
}

func (c *fakeCapture) StopCapture(_ context.Context, _ uuid.UUID, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, sessionID)
	return nil
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventName())
	}
	return out
}
