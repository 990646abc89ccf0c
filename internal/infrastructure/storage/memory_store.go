package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/flowrun/flowrun/internal/domain"
)

// MemoryStore is an in-process implementation of domain.Storage, used for
// tests and single-process development runs. It composes MemoryEventStore
// for the event-sourced half and keeps the rest as guarded maps.
type MemoryStore struct {
	mu sync.RWMutex

	events *MemoryEventStore

	workflows   map[uuid.UUID]domain.Workflow
	executions  map[uuid.UUID]uuid.UUID // executionID -> workflowID, for rebuild
	suspensions map[uuid.UUID]*domain.Suspension
	merges      map[string]*domain.MergeState // key: executionID/nodeID
	loops       map[string]*domain.LoopState
	pins        map[string]*domain.PinnedData // key: workflowID/nodeID
	errWfCfgs   map[uuid.UUID]*domain.ErrorWorkflowConfig
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      NewMemoryEventStore(),
		workflows:   make(map[uuid.UUID]domain.Workflow),
		executions:  make(map[uuid.UUID]uuid.UUID),
		suspensions: make(map[uuid.UUID]*domain.Suspension),
		merges:      make(map[string]*domain.MergeState),
		loops:       make(map[string]*domain.LoopState),
		pins:        make(map[string]*domain.PinnedData),
		errWfCfgs:   make(map[uuid.UUID]*domain.ErrorWorkflowConfig),
	}
}

func mergeKey(executionID, nodeID uuid.UUID) string {
	return executionID.String() + "/" + nodeID.String()
}

func pinKey(workflowID, nodeID uuid.UUID) string {
	return workflowID.String() + "/" + nodeID.String()
}

// ========== WorkflowRepository ==========

func (s *MemoryStore) SaveWorkflow(ctx context.Context, w domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.ID()] = w
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id uuid.UUID) (domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s not found", id)
	}
	return w, nil
}

func (s *MemoryStore) GetWorkflowByName(ctx context.Context, name, version string) (domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.workflows {
		if w.Name() == name && w.Version() == version {
			return w, nil
		}
	}
	return nil, fmt.Errorf("workflow %s@%s not found", name, version)
}

func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w)
	}
	return out, nil
}

func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workflows, id)
	return nil
}

func (s *MemoryStore) WorkflowExists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.workflows[id]
	return ok, nil
}

// ========== ExecutionRepository / EventStore ==========

func (s *MemoryStore) trackExecution(events []domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if ev.EventType() == domain.EventTypeExecutionStarted {
			s.executions[ev.ExecutionID()] = ev.WorkflowID()
		}
	}
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event domain.Event) error {
	if err := s.events.AppendEvent(ctx, event); err != nil {
		return err
	}
	s.trackExecution([]domain.Event{event})
	return nil
}

func (s *MemoryStore) AppendEvents(ctx context.Context, events []domain.Event) error {
	if err := s.events.AppendEvents(ctx, events); err != nil {
		return err
	}
	s.trackExecution(events)
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, executionID uuid.UUID) ([]domain.Event, error) {
	return s.events.GetEvents(ctx, executionID)
}

func (s *MemoryStore) GetEventsSince(ctx context.Context, executionID uuid.UUID, sequenceNumber int64) ([]domain.Event, error) {
	return s.events.GetEventsSince(ctx, executionID, sequenceNumber)
}

func (s *MemoryStore) GetEventsByType(ctx context.Context, executionID uuid.UUID, eventType domain.EventType) ([]domain.Event, error) {
	return s.events.GetEventsByType(ctx, executionID, eventType)
}

func (s *MemoryStore) GetEventsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]domain.Event, error) {
	return s.events.GetEventsByWorkflow(ctx, workflowID)
}

func (s *MemoryStore) GetEventCount(ctx context.Context, executionID uuid.UUID) (int64, error) {
	return s.events.GetEventCount(ctx, executionID)
}

func (s *MemoryStore) GetExecution(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	s.mu.RLock()
	workflowID, ok := s.executions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	events, err := s.events.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.RebuildFromEvents(id, workflowID, events)
}

func (s *MemoryStore) ListExecutionsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]domain.Execution, error) {
	s.mu.RLock()
	ids := make([]uuid.UUID, 0)
	for execID, wfID := range s.executions {
		if wfID == workflowID {
			ids = append(ids, execID)
		}
	}
	s.mu.RUnlock()
	return s.rebuildAll(ctx, ids)
}

func (s *MemoryStore) ListAllExecutions(ctx context.Context, limit, offset int) ([]domain.Execution, error) {
	s.mu.RLock()
	ids := make([]uuid.UUID, 0, len(s.executions))
	for execID := range s.executions {
		ids = append(ids, execID)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if offset > 0 && offset < len(ids) {
		ids = ids[offset:]
	} else if offset >= len(ids) {
		ids = nil
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return s.rebuildAll(ctx, ids)
}

func (s *MemoryStore) rebuildAll(ctx context.Context, ids []uuid.UUID) ([]domain.Execution, error) {
	out := make([]domain.Execution, 0, len(ids))
	for _, id := range ids {
		exec, err := s.GetExecution(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, execution domain.Execution) error {
	return nil
}

func (s *MemoryStore) GetSnapshot(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	return s.GetExecution(ctx, id)
}

// ========== SuspensionRepository ==========

func (s *MemoryStore) SaveSuspension(ctx context.Context, sus *domain.Suspension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspensions[sus.ID] = sus
	return nil
}

func (s *MemoryStore) GetSuspension(ctx context.Context, id uuid.UUID) (*domain.Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sus, ok := s.suspensions[id]
	if !ok {
		return nil, fmt.Errorf("suspension %s not found", id)
	}
	return sus, nil
}

func (s *MemoryStore) GetSuspensionByToken(ctx context.Context, token string) (*domain.Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sus := range s.suspensions {
		if sus.Token == token {
			return sus, nil
		}
	}
	return nil, fmt.Errorf("suspension with token %q not found", token)
}

func (s *MemoryStore) GetSuspensionByExecutionAndNode(ctx context.Context, executionID, nodeID uuid.UUID) (*domain.Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sus := range s.suspensions {
		if sus.ExecutionID == executionID && sus.NodeID == nodeID {
			return sus, nil
		}
	}
	return nil, fmt.Errorf("suspension for execution %s node %s not found", executionID, nodeID)
}

func (s *MemoryStore) ListPendingSuspensions(ctx context.Context) ([]*domain.Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Suspension, 0)
	for _, sus := range s.suspensions {
		if !sus.IsResolved() {
			out = append(out, sus)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListExpiredSuspensions(ctx context.Context, asOf time.Time) ([]*domain.Suspension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Suspension, 0)
	for _, sus := range s.suspensions {
		if !sus.IsResolved() && sus.IsExpired(asOf) {
			out = append(out, sus)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteSuspension(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.suspensions, id)
	return nil
}

// ========== MergeRepository ==========

func (s *MemoryStore) SaveMergeState(ctx context.Context, m *domain.MergeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges[mergeKey(m.ExecutionID, m.NodeID)] = m
	return nil
}

func (s *MemoryStore) GetMergeState(ctx context.Context, executionID, nodeID uuid.UUID) (*domain.MergeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.merges[mergeKey(executionID, nodeID)]
	if !ok {
		return nil, fmt.Errorf("merge state for execution %s node %s not found", executionID, nodeID)
	}
	return m, nil
}

func (s *MemoryStore) DeleteMergeState(ctx context.Context, executionID, nodeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.merges, mergeKey(executionID, nodeID))
	return nil
}

// ========== LoopRepository ==========

func (s *MemoryStore) SaveLoopState(ctx context.Context, l *domain.LoopState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops[mergeKey(l.ExecutionID, l.LoopNodeID)] = l
	return nil
}

func (s *MemoryStore) GetLoopState(ctx context.Context, executionID, loopNodeID uuid.UUID) (*domain.LoopState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loops[mergeKey(executionID, loopNodeID)]
	if !ok {
		return nil, fmt.Errorf("loop state for execution %s node %s not found", executionID, loopNodeID)
	}
	return l, nil
}

func (s *MemoryStore) DeleteLoopState(ctx context.Context, executionID, loopNodeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loops, mergeKey(executionID, loopNodeID))
	return nil
}

// ========== PinRepository ==========

func (s *MemoryStore) SavePin(ctx context.Context, p *domain.PinnedData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pins[pinKey(p.WorkflowID, p.NodeID)] = p
	return nil
}

func (s *MemoryStore) GetPin(ctx context.Context, workflowID, nodeID uuid.UUID) (*domain.PinnedData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pins[pinKey(workflowID, nodeID)]
	if !ok {
		return nil, fmt.Errorf("pin for workflow %s node %s not found", workflowID, nodeID)
	}
	return p, nil
}

func (s *MemoryStore) ListPins(ctx context.Context, workflowID uuid.UUID) ([]*domain.PinnedData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.PinnedData, 0)
	for _, p := range s.pins {
		if p.WorkflowID == workflowID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeletePin(ctx context.Context, workflowID, nodeID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, pinKey(workflowID, nodeID))
	return nil
}

// ========== ErrorWorkflowConfigRepository ==========

func (s *MemoryStore) SaveErrorWorkflowConfig(ctx context.Context, cfg *domain.ErrorWorkflowConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errWfCfgs[cfg.WorkflowID] = cfg
	return nil
}

func (s *MemoryStore) GetErrorWorkflowConfig(ctx context.Context, workflowID uuid.UUID) (*domain.ErrorWorkflowConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.errWfCfgs[workflowID]
	if !ok {
		return nil, fmt.Errorf("error workflow config for workflow %s not found", workflowID)
	}
	return cfg, nil
}

func (s *MemoryStore) DeleteErrorWorkflowConfig(ctx context.Context, workflowID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.errWfCfgs, workflowID)
	return nil
}

// ========== Transaction support / health ==========
//
// MemoryStore has no real transactional isolation; Begin/Commit/Rollback are
// no-ops so callers written against domain.Storage work unmodified in tests.

func (s *MemoryStore) BeginTransaction(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

func (s *MemoryStore) CommitTransaction(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) RollbackTransaction(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
