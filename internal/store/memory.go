package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/models"
)

// MemoryStore keeps workflows in process memory behind a RWMutex. Values are
// deep-copied on the way in and out so callers never share mutable state
// with the registry.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[uuid.UUID]models.Workflow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: map[uuid.UUID]models.Workflow{}}
}

func (m *MemoryStore) Create(ctx context.Context, w models.Workflow) (models.Workflow, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = now
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w.Clone()
	return w, nil
}

func (m *MemoryStore) Update(ctx context.Context, w models.Workflow) (models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[w.ID]; !ok {
		return models.Workflow{}, ErrNotFound
	}
	w.UpdatedAt = time.Now().UTC()
	m.workflows[w.ID] = w.Clone()
	return w, nil
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workflows[id]
	if !ok {
		return models.Workflow{}, ErrNotFound
	}
	return w.Clone(), nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status models.WorkflowStatus) ([]models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Workflow, 0)
	for _, w := range m.workflows {
		if w.Status == status {
			out = append(out, w.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Workflow, 0)
	for _, w := range m.workflows {
		if !w.Status.Terminal() {
			out = append(out, w.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) ListPendingApprovals(ctx context.Context) ([]models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ApprovalRequest, 0)
	for _, w := range m.workflows {
		if w.Approval != nil && w.Approval.Status == models.ApprovalPending {
			a := *w.Approval
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func sortByCreation(ws []models.Workflow) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].CreatedAt.Before(ws[j].CreatedAt) })
}
