// Package orchestrator drives remediation workflows through approval gates,
// staged canary rollout, execution, health checks and rollback.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/audit"
	"github.com/ILLUVRSE/saferemediate/internal/executor"
	"github.com/ILLUVRSE/saferemediate/internal/healthcheck"
	"github.com/ILLUVRSE/saferemediate/internal/history"
	"github.com/ILLUVRSE/saferemediate/internal/models"
	"github.com/ILLUVRSE/saferemediate/internal/store"
)

// ErrConflict is returned when an operation is attempted in a workflow state
// that does not permit it, e.g. approving a workflow that is not awaiting
// approval.
var ErrConflict = errors.New("workflow state conflict")

// ErrNotFound mirrors the store sentinel so callers only need one import.
var ErrNotFound = store.ErrNotFound

// Config holds the orchestrator's tunables. Zero values take defaults.
type Config struct {
	// ApprovalTimeout is how long an approval request stays actionable.
	ApprovalTimeout time.Duration
	// CanaryStages are the rollout percentages; strictly increasing, last
	// one must be 100.
	CanaryStages []int
	// CanaryFailureThreshold is the number of failed health checks that
	// triggers an automatic rollback.
	CanaryFailureThreshold int
	// MonitorInterval is how long a canary stage soaks before the scheduler
	// advances it.
	MonitorInterval time.Duration
	// CollaboratorTimeout bounds execute, rollback and health-check calls.
	CollaboratorTimeout time.Duration
	// ChangeWindowStart/End delimit the daily UTC hours during which
	// automated changes may run.
	ChangeWindowStart int
	ChangeWindowEnd   int
}

func (c Config) withDefaults() Config {
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = 24 * time.Hour
	}
	if len(c.CanaryStages) == 0 {
		c.CanaryStages = []int{10, 25, 50, 100}
	}
	if c.CanaryFailureThreshold <= 0 {
		c.CanaryFailureThreshold = 2
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 5 * time.Minute
	}
	if c.CollaboratorTimeout <= 0 {
		c.CollaboratorTimeout = 60 * time.Second
	}
	if c.ChangeWindowStart == 0 && c.ChangeWindowEnd == 0 {
		c.ChangeWindowStart = 6
		c.ChangeWindowEnd = 22
	}
	return c
}

// Validate rejects configs the state machine cannot honor.
func (c Config) Validate() error {
	prev := 0
	for _, p := range c.CanaryStages {
		if p <= prev {
			return fmt.Errorf("canary stages must be strictly increasing, got %v", c.CanaryStages)
		}
		prev = p
	}
	if len(c.CanaryStages) > 0 && c.CanaryStages[len(c.CanaryStages)-1] != 100 {
		return fmt.Errorf("final canary stage must be 100, got %v", c.CanaryStages)
	}
	return nil
}

// Orchestrator owns the workflow registry. Mutations on one workflow id are
// serialized through a per-id lock; different ids proceed concurrently.
type Orchestrator struct {
	cfg     Config
	store   store.Store
	exec    executor.Executor
	checker healthcheck.Checker
	auditor audit.Recorder
	tracker history.Tracker

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

// New wires an orchestrator. Auditor and tracker may be nil; the related
// bookkeeping is then skipped.
func New(cfg Config, st store.Store, exec executor.Executor, checker healthcheck.Checker, auditor audit.Recorder, tracker history.Tracker) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		exec:    exec,
		checker: checker,
		auditor: auditor,
		tracker: tracker,
		locks:   map[uuid.UUID]*sync.Mutex{},
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (o *Orchestrator) lockFor(id uuid.UUID) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	return l
}

// CreateRequest carries everything needed to open a workflow.
type CreateRequest struct {
	FindingID    string
	ResourceType string
	ResourceID   string
	Decision     models.Decision
	RequestedBy  string
	ScheduledFor *time.Time
}

// Create opens a workflow for a decision. REQUIRE_APPROVAL and BLOCK
// decisions get an approval gate (a blocked action is never executed
// silently, only behind a human), CANARY gets a staged deployment, and
// AUTO_REMEDIATE executes immediately unless it is scheduled outside the
// change window, in which case it stays PENDING for the scheduler.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (models.Workflow, error) {
	if req.FindingID == "" || req.ResourceID == "" {
		return models.Workflow{}, fmt.Errorf("finding id and resource id required")
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "system"
	}

	now := o.now()
	w := models.Workflow{
		ID:           models.NewUUID(),
		FindingID:    req.FindingID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		WorkflowType: actionToWorkflowType(req.Decision.Action),
		Status:       models.StatusPending,
		Decision:     req.Decision,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: req.ScheduledFor,
	}

	switch w.WorkflowType {
	case models.WorkflowRequireApproval:
		w.Approval = o.newApproval(&w, req.RequestedBy)
		w.Status = models.StatusAwaitingApproval
	case models.WorkflowCanary:
		w.Canary = o.newCanary(&w)
		w.Status = models.StatusCanaryDeploying
	}

	created, err := o.store.Create(ctx, w)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("create workflow: %w", err)
	}
	o.recordEvent(ctx, "workflow.created", &created)
	log.Printf("[orchestrator] workflow created id=%s type=%s status=%s", created.ID, created.WorkflowType, created.Status)

	if created.WorkflowType == models.WorkflowAutoRemediate {
		if req.ScheduledFor != nil && !o.inChangeWindow(now) {
			return created, nil
		}
		lock := o.lockFor(created.ID)
		lock.Lock()
		defer lock.Unlock()
		return o.executeLocked(ctx, created)
	}
	return created, nil
}

func actionToWorkflowType(action models.Action) models.WorkflowType {
	switch action {
	case models.ActionAutoRemediate:
		return models.WorkflowAutoRemediate
	case models.ActionCanary:
		return models.WorkflowCanary
	default:
		// REQUIRE_APPROVAL, BLOCK and anything unrecognized go behind a
		// human gate.
		return models.WorkflowRequireApproval
	}
}

func (o *Orchestrator) inChangeWindow(now time.Time) bool {
	h := now.UTC().Hour()
	return o.cfg.ChangeWindowStart <= h && h < o.cfg.ChangeWindowEnd
}

// Get returns a workflow by id.
func (o *Orchestrator) Get(ctx context.Context, id uuid.UUID) (models.Workflow, error) {
	return o.store.Get(ctx, id)
}

// ListByStatus returns workflows in the given state.
func (o *Orchestrator) ListByStatus(ctx context.Context, status models.WorkflowStatus) ([]models.Workflow, error) {
	return o.store.ListByStatus(ctx, status)
}

// ListActive returns workflows not yet in a terminal state.
func (o *Orchestrator) ListActive(ctx context.Context) ([]models.Workflow, error) {
	return o.store.ListActive(ctx)
}

// ListPendingApprovals returns approval requests still awaiting review.
func (o *Orchestrator) ListPendingApprovals(ctx context.Context) ([]models.ApprovalRequest, error) {
	return o.store.ListPendingApprovals(ctx)
}

func (o *Orchestrator) recordEvent(ctx context.Context, eventType string, w *models.Workflow) {
	if o.auditor == nil {
		return
	}
	err := o.auditor.Record(ctx, audit.Event{
		EventType:  eventType,
		WorkflowID: w.ID,
		Payload: map[string]interface{}{
			"findingId":  w.FindingID,
			"resourceId": w.ResourceID,
			"status":     string(w.Status),
		},
		Ts: o.now(),
	})
	if err != nil {
		log.Printf("[orchestrator] audit record failed type=%s workflow=%s: %v", eventType, w.ID, err)
	}
}

func (o *Orchestrator) recordOutcome(ctx context.Context, w *models.Workflow, outcome history.Outcome) {
	if o.tracker == nil {
		return
	}
	_, err := o.tracker.Record(ctx, history.Record{
		FindingID:    w.FindingID,
		ResourceType: w.ResourceType,
		ResourceID:   w.ResourceID,
		Action:       w.Decision.Action,
		Outcome:      outcome,
		Confidence:   w.Decision.Confidence,
		Safety:       w.Decision.Safety,
		StartedAt:    w.CreatedAt,
		CompletedAt:  o.now(),
		Error:        w.Error,
	})
	if err != nil {
		log.Printf("[orchestrator] history record failed workflow=%s: %v", w.ID, err)
	}
}

func (o *Orchestrator) save(ctx context.Context, w models.Workflow) (models.Workflow, error) {
	w.UpdatedAt = o.now()
	return o.store.Update(ctx, w)
}
