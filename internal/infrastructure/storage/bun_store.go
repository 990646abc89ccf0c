package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/flowrun/flowrun/internal/domain"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type txContextKey struct{}

// BunStore is the PostgreSQL-backed implementation of domain.Storage. Event
// persistence is delegated to PostgresEventStore; everything else (workflow
// aggregates, the execution index, suspensions, merges, loops, pins) is its
// own set of bun models.
type BunStore struct {
	db     *bun.DB
	events *PostgresEventStore
}

func NewBunStore(dsn string) *BunStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &BunStore{db: db, events: NewPostgresEventStore(db)}
}

func (s *BunStore) InitSchema(ctx context.Context) error {
	if err := s.events.InitSchema(ctx); err != nil {
		return err
	}
	models := []interface{}{
		(*WorkflowModel)(nil),
		(*NodeModel)(nil),
		(*EdgeModel)(nil),
		(*TriggerModel)(nil),
		(*ExecutionIndexModel)(nil),
		(*SuspensionModel)(nil),
		(*MergeStateModel)(nil),
		(*LoopStateModel)(nil),
		(*PinModel)(nil),
		(*ErrorWorkflowConfigModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table %T: %w", model, err)
		}
	}
	return nil
}

// ========== Workflow aggregate ==========

type WorkflowModel struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID          uuid.UUID            `bun:"id,pk"`
	Name        string               `bun:"name"`
	Version     string               `bun:"version"`
	Description string               `bun:"description"`
	Spec        map[string]any       `bun:"spec,type:jsonb"`
	State       domain.WorkflowState `bun:"state"`
	CreatedAt   time.Time            `bun:"created_at"`
	UpdatedAt   time.Time            `bun:"updated_at"`
}

func NewWorkflowModel(w domain.Workflow) *WorkflowModel {
	return &WorkflowModel{
		ID:          w.ID(),
		Name:        w.Name(),
		Version:     w.Version(),
		Description: w.Description(),
		Spec:        w.Spec(),
		State:       w.State(),
		CreatedAt:   w.CreatedAt(),
		UpdatedAt:   w.UpdatedAt(),
	}
}

type NodeModel struct {
	bun.BaseModel `bun:"table:nodes,alias:n"`

	ID         uuid.UUID            `bun:"id,pk"`
	WorkflowID uuid.UUID            `bun:"workflow_id"`
	Type       domain.NodeType      `bun:"type"`
	Name       string               `bun:"name"`
	Config     map[string]any       `bun:"config,type:jsonb"`
	PositionX  float64              `bun:"position_x"`
	PositionY  float64              `bun:"position_y"`
	OnError    domain.NodeOnError   `bun:"on_error"`
	MaxRetries int                  `bun:"max_retries"`
}

func (m *NodeModel) ToDomain() domain.Node {
	return domain.ReconstructNode(m.ID, m.Type, m.Name, m.Config,
		domain.Position{X: m.PositionX, Y: m.PositionY}, m.OnError, m.MaxRetries)
}

func NewNodeModel(workflowID uuid.UUID, n domain.Node) *NodeModel {
	pos := n.Position()
	return &NodeModel{
		ID:         n.ID(),
		WorkflowID: workflowID,
		Type:       n.Type(),
		Name:       n.Name(),
		Config:     n.Config(),
		PositionX:  pos.X,
		PositionY:  pos.Y,
		OnError:    n.OnError(),
		MaxRetries: n.MaxRetries(),
	}
}

type EdgeModel struct {
	bun.BaseModel `bun:"table:edges,alias:ed"`

	ID         uuid.UUID       `bun:"id,pk"`
	WorkflowID uuid.UUID       `bun:"workflow_id"`
	FromNodeID uuid.UUID       `bun:"from_node_id"`
	ToNodeID   uuid.UUID       `bun:"to_node_id"`
	Type       domain.EdgeType `bun:"type"`
	Config     map[string]any  `bun:"config,type:jsonb"`
	SourcePort string          `bun:"source_port"`
	TargetPort string          `bun:"target_port"`
	Condition  string          `bun:"condition"`
}

func (m *EdgeModel) ToDomain() domain.Edge {
	return domain.ReconstructEdge(m.ID, m.FromNodeID, m.ToNodeID, m.Type, m.Config,
		m.SourcePort, m.TargetPort, m.Condition)
}

func NewEdgeModel(workflowID uuid.UUID, e domain.Edge) *EdgeModel {
	return &EdgeModel{
		ID:         e.ID(),
		WorkflowID: workflowID,
		FromNodeID: e.FromNodeID(),
		ToNodeID:   e.ToNodeID(),
		Type:       e.Type(),
		Config:     e.Config(),
		SourcePort: e.SourcePort(),
		TargetPort: e.TargetPort(),
		Condition:  e.Condition(),
	}
}

type TriggerModel struct {
	bun.BaseModel `bun:"table:triggers,alias:t"`

	ID         uuid.UUID          `bun:"id,pk"`
	WorkflowID uuid.UUID          `bun:"workflow_id"`
	Type       domain.TriggerType `bun:"type"`
	Config     map[string]any     `bun:"config,type:jsonb"`
	Active     bool               `bun:"active"`
}

func (m *TriggerModel) ToDomain() domain.Trigger {
	return domain.ReconstructTrigger(m.ID, m.Type, m.Config, m.Active)
}

func NewTriggerModel(workflowID uuid.UUID, t domain.Trigger) *TriggerModel {
	return &TriggerModel{
		ID:         t.ID(),
		WorkflowID: workflowID,
		Type:       t.Type(),
		Config:     t.Config(),
		Active:     t.IsActive(),
	}
}

// SaveWorkflow persists the whole aggregate: the workflow row plus a full
// replace of its nodes/edges/triggers, mirroring Workflow's in-memory
// ownership of its child entities.
func (s *BunStore) SaveWorkflow(ctx context.Context, w domain.Workflow) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		model := NewWorkflowModel(w)
		if _, err := tx.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx); err != nil {
			return err
		}

		if _, err := tx.NewDelete().Model((*NodeModel)(nil)).Where("workflow_id = ?", w.ID()).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*EdgeModel)(nil)).Where("workflow_id = ?", w.ID()).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*TriggerModel)(nil)).Where("workflow_id = ?", w.ID()).Exec(ctx); err != nil {
			return err
		}

		if nodes := w.GetAllNodes(); len(nodes) > 0 {
			models := make([]*NodeModel, len(nodes))
			for i, n := range nodes {
				models[i] = NewNodeModel(w.ID(), n)
			}
			if _, err := tx.NewInsert().Model(&models).Exec(ctx); err != nil {
				return err
			}
		}
		if edges := w.GetAllEdges(); len(edges) > 0 {
			models := make([]*EdgeModel, len(edges))
			for i, e := range edges {
				models[i] = NewEdgeModel(w.ID(), e)
			}
			if _, err := tx.NewInsert().Model(&models).Exec(ctx); err != nil {
				return err
			}
		}
		if triggers := w.GetAllTriggers(); len(triggers) > 0 {
			models := make([]*TriggerModel, len(triggers))
			for i, t := range triggers {
				models[i] = NewTriggerModel(w.ID(), t)
			}
			if _, err := tx.NewInsert().Model(&models).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BunStore) loadWorkflow(ctx context.Context, wm *WorkflowModel) (domain.Workflow, error) {
	var nodeModels []NodeModel
	if err := s.db.NewSelect().Model(&nodeModels).Where("workflow_id = ?", wm.ID).Scan(ctx); err != nil {
		return nil, err
	}
	nodes := make([]domain.Node, len(nodeModels))
	for i, m := range nodeModels {
		nodes[i] = m.ToDomain()
	}

	var edgeModels []EdgeModel
	if err := s.db.NewSelect().Model(&edgeModels).Where("workflow_id = ?", wm.ID).Scan(ctx); err != nil {
		return nil, err
	}
	edges := make([]domain.Edge, len(edgeModels))
	for i, m := range edgeModels {
		edges[i] = m.ToDomain()
	}

	var triggerModels []TriggerModel
	if err := s.db.NewSelect().Model(&triggerModels).Where("workflow_id = ?", wm.ID).Scan(ctx); err != nil {
		return nil, err
	}
	triggers := make([]domain.Trigger, len(triggerModels))
	for i, m := range triggerModels {
		triggers[i] = m.ToDomain()
	}

	return domain.ReconstructWorkflow(wm.ID, wm.Name, wm.Version, wm.Description, wm.Spec,
		wm.State, wm.CreatedAt, wm.UpdatedAt, nodes, edges, triggers)
}

func (s *BunStore) GetWorkflow(ctx context.Context, id uuid.UUID) (domain.Workflow, error) {
	model := new(WorkflowModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return s.loadWorkflow(ctx, model)
}

func (s *BunStore) GetWorkflowByName(ctx context.Context, name, version string) (domain.Workflow, error) {
	model := new(WorkflowModel)
	err := s.db.NewSelect().Model(model).Where("name = ?", name).Where("version = ?", version).Scan(ctx)
	if err != nil {
		return nil, err
	}
	return s.loadWorkflow(ctx, model)
}

func (s *BunStore) ListWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	var models []WorkflowModel
	if err := s.db.NewSelect().Model(&models).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.Workflow, 0, len(models))
	for i := range models {
		w, err := s.loadWorkflow(ctx, &models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *BunStore) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*WorkflowModel)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*NodeModel)(nil)).Where("workflow_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*EdgeModel)(nil)).Where("workflow_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*TriggerModel)(nil)).Where("workflow_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}

func (s *BunStore) WorkflowExists(ctx context.Context, id uuid.UUID) (bool, error) {
	count, err := s.db.NewSelect().Model((*WorkflowModel)(nil)).Where("id = ?", id).Count(ctx)
	return count > 0, err
}

// ========== Execution (event-sourced; backed by an index for listing) ==========

// ExecutionIndexModel is a denormalized pointer into the event stream, kept
// current as execution lifecycle events are appended, so runs can be listed
// without replaying every event for every execution.
type ExecutionIndexModel struct {
	bun.BaseModel `bun:"table:execution_index,alias:exi"`

	ID         uuid.UUID             `bun:"id,pk"`
	WorkflowID uuid.UUID             `bun:"workflow_id"`
	Phase      domain.ExecutionPhase `bun:"phase"`
	StartedAt  time.Time             `bun:"started_at"`
	FinishedAt *time.Time            `bun:"finished_at"`
}

func (s *BunStore) updateExecutionIndex(ctx context.Context, ev domain.Event) error {
	switch ev.EventType() {
	case domain.EventTypeExecutionStarted:
		model := &ExecutionIndexModel{
			ID:         ev.ExecutionID(),
			WorkflowID: ev.WorkflowID(),
			Phase:      domain.ExecutionPhaseExecuting,
			StartedAt:  ev.Timestamp(),
		}
		_, err := s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
		return err
	case domain.EventTypeExecutionCompleted, domain.EventTypeExecutionFailed, domain.EventTypeExecutionCancelled:
		phase := domain.ExecutionPhaseCompleted
		if ev.EventType() == domain.EventTypeExecutionFailed {
			phase = domain.ExecutionPhaseFailed
		} else if ev.EventType() == domain.EventTypeExecutionCancelled {
			phase = domain.ExecutionPhaseCancelled
		}
		finishedAt := ev.Timestamp()
		_, err := s.db.NewUpdate().
			Model((*ExecutionIndexModel)(nil)).
			Set("phase = ?", phase).
			Set("finished_at = ?", finishedAt).
			Where("id = ?", ev.ExecutionID()).
			Exec(ctx)
		return err
	default:
		return nil
	}
}

func (s *BunStore) AppendEvent(ctx context.Context, event domain.Event) error {
	if err := s.events.AppendEvent(ctx, event); err != nil {
		return err
	}
	return s.updateExecutionIndex(ctx, event)
}

func (s *BunStore) AppendEvents(ctx context.Context, events []domain.Event) error {
	if err := s.events.AppendEvents(ctx, events); err != nil {
		return err
	}
	for _, ev := range events {
		if err := s.updateExecutionIndex(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *BunStore) GetEvents(ctx context.Context, executionID uuid.UUID) ([]domain.Event, error) {
	return s.events.GetEvents(ctx, executionID)
}

func (s *BunStore) GetEventsSince(ctx context.Context, executionID uuid.UUID, sequenceNumber int64) ([]domain.Event, error) {
	return s.events.GetEventsSince(ctx, executionID, sequenceNumber)
}

func (s *BunStore) GetEventsByType(ctx context.Context, executionID uuid.UUID, eventType domain.EventType) ([]domain.Event, error) {
	return s.events.GetEventsByType(ctx, executionID, eventType)
}

func (s *BunStore) GetEventsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]domain.Event, error) {
	return s.events.GetEventsByWorkflow(ctx, workflowID)
}

func (s *BunStore) GetEventCount(ctx context.Context, executionID uuid.UUID) (int64, error) {
	return s.events.GetEventCount(ctx, executionID)
}

func (s *BunStore) GetExecution(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	index := new(ExecutionIndexModel)
	if err := s.db.NewSelect().Model(index).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	events, err := s.events.GetEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.RebuildFromEvents(id, index.WorkflowID, events)
}

func (s *BunStore) ListExecutionsByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]domain.Execution, error) {
	var indexes []ExecutionIndexModel
	err := s.db.NewSelect().Model(&indexes).Where("workflow_id = ?", workflowID).Order("started_at DESC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return s.rebuildAll(ctx, indexes)
}

func (s *BunStore) ListAllExecutions(ctx context.Context, limit, offset int) ([]domain.Execution, error) {
	q := s.db.NewSelect().Model((*ExecutionIndexModel)(nil)).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var indexes []ExecutionIndexModel
	if err := q.Scan(ctx, &indexes); err != nil {
		return nil, err
	}
	return s.rebuildAll(ctx, indexes)
}

func (s *BunStore) rebuildAll(ctx context.Context, indexes []ExecutionIndexModel) ([]domain.Execution, error) {
	out := make([]domain.Execution, 0, len(indexes))
	for _, idx := range indexes {
		events, err := s.events.GetEvents(ctx, idx.ID)
		if err != nil {
			return nil, err
		}
		exec, err := domain.RebuildFromEvents(idx.ID, idx.WorkflowID, events)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	return out, nil
}

// SaveSnapshot and GetSnapshot are no-ops beyond the event-sourced rebuild:
// the index table already serves as the cheap-to-query projection, and a
// full snapshot blob is an optimization this store doesn't need at its
// current event volumes.
func (s *BunStore) SaveSnapshot(ctx context.Context, execution domain.Execution) error {
	return nil
}

func (s *BunStore) GetSnapshot(ctx context.Context, id uuid.UUID) (domain.Execution, error) {
	return s.GetExecution(ctx, id)
}

// ========== Suspension ==========

type SuspensionModel struct {
	bun.BaseModel `bun:"table:suspensions,alias:sp"`

	ID          uuid.UUID                     `bun:"id,pk"`
	ExecutionID uuid.UUID                     `bun:"execution_id"`
	WorkflowID  uuid.UUID                     `bun:"workflow_id"`
	NodeID      uuid.UUID                     `bun:"node_id"`
	Kind        domain.SuspensionKind         `bun:"kind"`
	CreatedAt   time.Time                     `bun:"created_at"`
	ResumeAfter *time.Time                    `bun:"resume_after"`
	Token       string                        `bun:"token,unique"`
	Timeout     *time.Time                    `bun:"timeout"`
	OnTimeout   domain.SuspensionTimeoutPolicy `bun:"on_timeout"`
	ChildRunID  uuid.UUID                     `bun:"child_run_id"`
	Metadata    map[string]any                `bun:"metadata,type:jsonb"`
	ResolvedAt  *time.Time                    `bun:"resolved_at"`
	ResumeData  map[string]any                `bun:"resume_data,type:jsonb"`
}

func (m *SuspensionModel) ToDomain() *domain.Suspension {
	return &domain.Suspension{
		ID:          m.ID,
		ExecutionID: m.ExecutionID,
		WorkflowID:  m.WorkflowID,
		NodeID:      m.NodeID,
		Kind:        m.Kind,
		CreatedAt:   m.CreatedAt,
		ResumeAfter: m.ResumeAfter,
		Token:       m.Token,
		Timeout:     m.Timeout,
		OnTimeout:   m.OnTimeout,
		ChildRunID:  m.ChildRunID,
		Metadata:    m.Metadata,
		ResolvedAt:  m.ResolvedAt,
		ResumeData:  m.ResumeData,
	}
}

func newSuspensionModel(s *domain.Suspension) *SuspensionModel {
	return &SuspensionModel{
		ID:          s.ID,
		ExecutionID: s.ExecutionID,
		WorkflowID:  s.WorkflowID,
		NodeID:      s.NodeID,
		Kind:        s.Kind,
		CreatedAt:   s.CreatedAt,
		ResumeAfter: s.ResumeAfter,
		Token:       s.Token,
		Timeout:     s.Timeout,
		OnTimeout:   s.OnTimeout,
		ChildRunID:  s.ChildRunID,
		Metadata:    s.Metadata,
		ResolvedAt:  s.ResolvedAt,
		ResumeData:  s.ResumeData,
	}
}

func (s *BunStore) SaveSuspension(ctx context.Context, sus *domain.Suspension) error {
	model := newSuspensionModel(sus)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *BunStore) GetSuspension(ctx context.Context, id uuid.UUID) (*domain.Suspension, error) {
	model := new(SuspensionModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func (s *BunStore) GetSuspensionByToken(ctx context.Context, token string) (*domain.Suspension, error) {
	model := new(SuspensionModel)
	if err := s.db.NewSelect().Model(model).Where("token = ?", token).Scan(ctx); err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func (s *BunStore) GetSuspensionByExecutionAndNode(ctx context.Context, executionID, nodeID uuid.UUID) (*domain.Suspension, error) {
	model := new(SuspensionModel)
	err := s.db.NewSelect().Model(model).
		Where("execution_id = ?", executionID).
		Where("node_id = ?", nodeID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func (s *BunStore) ListPendingSuspensions(ctx context.Context) ([]*domain.Suspension, error) {
	var models []SuspensionModel
	if err := s.db.NewSelect().Model(&models).Where("resolved_at IS NULL").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.Suspension, len(models))
	for i := range models {
		out[i] = models[i].ToDomain()
	}
	return out, nil
}

func (s *BunStore) ListExpiredSuspensions(ctx context.Context, asOf time.Time) ([]*domain.Suspension, error) {
	var models []SuspensionModel
	err := s.db.NewSelect().Model(&models).
		Where("resolved_at IS NULL").
		Where("timeout IS NOT NULL AND timeout < ?", asOf).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Suspension, len(models))
	for i := range models {
		out[i] = models[i].ToDomain()
	}
	return out, nil
}

func (s *BunStore) DeleteSuspension(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.NewDelete().Model((*SuspensionModel)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// ========== Merge ==========

type MergeStateModel struct {
	bun.BaseModel `bun:"table:merge_states,alias:mg"`

	ExecutionID    uuid.UUID                       `bun:"execution_id,pk"`
	NodeID         uuid.UUID                       `bun:"node_id,pk"`
	Strategy       domain.JoinStrategy             `bun:"strategy"`
	DataMode       domain.MergeDataMode            `bun:"data_mode"`
	ConflictPolicy domain.DeepMergeConflictPolicy   `bun:"conflict_policy"`
	ExpectedCount  int                              `bun:"expected_count"`
	WaitN          int                              `bun:"wait_n"`
	Arrivals       map[uuid.UUID]*domain.BranchArrival `bun:"arrivals,type:jsonb"`
	FiredAt        *time.Time                       `bun:"fired_at"`
}

func (m *MergeStateModel) ToDomain() *domain.MergeState {
	arrivals := m.Arrivals
	if arrivals == nil {
		arrivals = make(map[uuid.UUID]*domain.BranchArrival)
	}
	return &domain.MergeState{
		ExecutionID:    m.ExecutionID,
		NodeID:         m.NodeID,
		Strategy:       m.Strategy,
		DataMode:       m.DataMode,
		ConflictPolicy: m.ConflictPolicy,
		ExpectedCount:  m.ExpectedCount,
		WaitN:          m.WaitN,
		Arrivals:       arrivals,
		FiredAt:        m.FiredAt,
	}
}

func newMergeStateModel(m *domain.MergeState) *MergeStateModel {
	return &MergeStateModel{
		ExecutionID:    m.ExecutionID,
		NodeID:         m.NodeID,
		Strategy:       m.Strategy,
		DataMode:       m.DataMode,
		ConflictPolicy: m.ConflictPolicy,
		ExpectedCount:  m.ExpectedCount,
		WaitN:          m.WaitN,
		Arrivals:       m.Arrivals,
		FiredAt:        m.FiredAt,
	}
}

func (s *BunStore) SaveMergeState(ctx context.Context, m *domain.MergeState) error {
	model := newMergeStateModel(m)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (execution_id, node_id) DO UPDATE").Exec(ctx)
	return err
}

func (s *BunStore) GetMergeState(ctx context.Context, executionID, nodeID uuid.UUID) (*domain.MergeState, error) {
	model := new(MergeStateModel)
	err := s.db.NewSelect().Model(model).
		Where("execution_id = ?", executionID).
		Where("node_id = ?", nodeID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func (s *BunStore) DeleteMergeState(ctx context.Context, executionID, nodeID uuid.UUID) error {
	_, err := s.db.NewDelete().Model((*MergeStateModel)(nil)).
		Where("execution_id = ?", executionID).
		Where("node_id = ?", nodeID).
		Exec(ctx)
	return err
}

// ========== Loop ==========

type LoopStateModel struct {
	bun.BaseModel `bun:"table:loop_states,alias:lp"`

	ExecutionID   uuid.UUID   `bun:"execution_id,pk"`
	LoopNodeID    uuid.UUID   `bun:"loop_node_id,pk"`
	Items         []any       `bun:"items,type:jsonb"`
	BatchSize     int         `bun:"batch_size"`
	CurrentIndex  int         `bun:"current_index"`
	Iteration     int         `bun:"iteration"`
	ScopedNodeIDs []uuid.UUID `bun:"scoped_node_ids,type:jsonb"`
	Done          bool        `bun:"done"`
}

func (m *LoopStateModel) ToDomain() *domain.LoopState {
	return &domain.LoopState{
		ExecutionID:   m.ExecutionID,
		LoopNodeID:    m.LoopNodeID,
		Items:         m.Items,
		BatchSize:     m.BatchSize,
		CurrentIndex:  m.CurrentIndex,
		Iteration:     m.Iteration,
		ScopedNodeIDs: m.ScopedNodeIDs,
		Done:          m.Done,
	}
}

func newLoopStateModel(l *domain.LoopState) *LoopStateModel {
	return &LoopStateModel{
		ExecutionID:   l.ExecutionID,
		LoopNodeID:    l.LoopNodeID,
		Items:         l.Items,
		BatchSize:     l.BatchSize,
		CurrentIndex:  l.CurrentIndex,
		Iteration:     l.Iteration,
		ScopedNodeIDs: l.ScopedNodeIDs,
		Done:          l.Done,
	}
}

func (s *BunStore) SaveLoopState(ctx context.Context, l *domain.LoopState) error {
	model := newLoopStateModel(l)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (execution_id, loop_node_id) DO UPDATE").Exec(ctx)
	return err
}

func (s *BunStore) GetLoopState(ctx context.Context, executionID, loopNodeID uuid.UUID) (*domain.LoopState, error) {
	model := new(LoopStateModel)
	err := s.db.NewSelect().Model(model).
		Where("execution_id = ?", executionID).
		Where("loop_node_id = ?", loopNodeID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func (s *BunStore) DeleteLoopState(ctx context.Context, executionID, loopNodeID uuid.UUID) error {
	_, err := s.db.NewDelete().Model((*LoopStateModel)(nil)).
		Where("execution_id = ?", executionID).
		Where("loop_node_id = ?", loopNodeID).
		Exec(ctx)
	return err
}

// ========== Pin ==========

type PinModel struct {
	bun.BaseModel `bun:"table:pins,alias:pn"`

	ID         uuid.UUID      `bun:"id,pk"`
	WorkflowID uuid.UUID      `bun:"workflow_id"`
	NodeID     uuid.UUID      `bun:"node_id"`
	Mode       domain.PinMode `bun:"mode"`
	Output     map[string]any `bun:"output,type:jsonb"`
	CreatedAt  time.Time      `bun:"created_at"`
	UpdatedAt  time.Time      `bun:"updated_at"`
}

func (m *PinModel) ToDomain() *domain.PinnedData {
	return &domain.PinnedData{
		ID:         m.ID,
		WorkflowID: m.WorkflowID,
		NodeID:     m.NodeID,
		Mode:       m.Mode,
		Output:     m.Output,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func newPinModel(p *domain.PinnedData) *PinModel {
	return &PinModel{
		ID:         p.ID,
		WorkflowID: p.WorkflowID,
		NodeID:     p.NodeID,
		Mode:       p.Mode,
		Output:     p.Output,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func (s *BunStore) SavePin(ctx context.Context, p *domain.PinnedData) error {
	model := newPinModel(p)
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *BunStore) GetPin(ctx context.Context, workflowID, nodeID uuid.UUID) (*domain.PinnedData, error) {
	model := new(PinModel)
	err := s.db.NewSelect().Model(model).
		Where("workflow_id = ?", workflowID).
		Where("node_id = ?", nodeID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func (s *BunStore) ListPins(ctx context.Context, workflowID uuid.UUID) ([]*domain.PinnedData, error) {
	var models []PinModel
	if err := s.db.NewSelect().Model(&models).Where("workflow_id = ?", workflowID).Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*domain.PinnedData, len(models))
	for i := range models {
		out[i] = models[i].ToDomain()
	}
	return out, nil
}

func (s *BunStore) DeletePin(ctx context.Context, workflowID, nodeID uuid.UUID) error {
	_, err := s.db.NewDelete().Model((*PinModel)(nil)).
		Where("workflow_id = ?", workflowID).
		Where("node_id = ?", nodeID).
		Exec(ctx)
	return err
}

// ========== Error-workflow config ==========

type ErrorWorkflowConfigModel struct {
	bun.BaseModel `bun:"table:error_workflow_configs,alias:ewc"`

	WorkflowID      uuid.UUID `bun:"workflow_id,pk"`
	ErrorWorkflowID uuid.UUID `bun:"error_workflow_id"`
}

func (s *BunStore) SaveErrorWorkflowConfig(ctx context.Context, cfg *domain.ErrorWorkflowConfig) error {
	model := &ErrorWorkflowConfigModel{WorkflowID: cfg.WorkflowID, ErrorWorkflowID: cfg.ErrorWorkflowID}
	_, err := s.db.NewInsert().Model(model).On("CONFLICT (workflow_id) DO UPDATE").Exec(ctx)
	return err
}

func (s *BunStore) GetErrorWorkflowConfig(ctx context.Context, workflowID uuid.UUID) (*domain.ErrorWorkflowConfig, error) {
	model := new(ErrorWorkflowConfigModel)
	if err := s.db.NewSelect().Model(model).Where("workflow_id = ?", workflowID).Scan(ctx); err != nil {
		return nil, err
	}
	return &domain.ErrorWorkflowConfig{WorkflowID: model.WorkflowID, ErrorWorkflowID: model.ErrorWorkflowID}, nil
}

func (s *BunStore) DeleteErrorWorkflowConfig(ctx context.Context, workflowID uuid.UUID) error {
	_, err := s.db.NewDelete().Model((*ErrorWorkflowConfigModel)(nil)).Where("workflow_id = ?", workflowID).Exec(ctx)
	return err
}

// ========== Transaction support ==========

func (s *BunStore) BeginTransaction(ctx context.Context) (context.Context, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, err
	}
	return context.WithValue(ctx, txContextKey{}, tx), nil
}

func (s *BunStore) CommitTransaction(ctx context.Context) error {
	tx, ok := ctx.Value(txContextKey{}).(bun.Tx)
	if !ok {
		return nil
	}
	return tx.Commit()
}

func (s *BunStore) RollbackTransaction(ctx context.Context) error {
	tx, ok := ctx.Value(txContextKey{}).(bun.Tx)
	if !ok {
		return nil
	}
	return tx.Rollback()
}

// ========== Health check ==========

func (s *BunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *BunStore) Close() error {
	return s.db.Close()
}
