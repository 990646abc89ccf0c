package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowrun/flowrun/internal/domain"
)

// DefaultResumptionScanInterval is how often the resumption worker scans
// for suspensions whose resumeAt deadline has passed, mirroring
// monitoring.MetricsPersistence's periodic-save interval.
const DefaultResumptionScanInterval = 10 * time.Second

// WaitConfig describes the external event a suspended node is waiting on.
type WaitConfig struct {
	Kind        domain.SuspensionKind
	ResumeAfter *time.Time // timer/datetime
	Timeout     *time.Time
	OnTimeout   domain.SuspensionTimeoutPolicy
	DefaultData map[string]any // used when OnTimeout == SuspensionTimeoutDefault
	ChildRunID  uuid.UUID      // subworkflow
	Metadata    map[string]any
}

// RunSnapshot is the state captured at suspend-time so the engine can
// rehydrate a run on resume without replaying the full event stream.
type RunSnapshot struct {
	ExecutionID    uuid.UUID
	SuspendedNode  uuid.UUID
	TriggerPayload map[string]any
	Variables      map[string]any
	NodeOutputs    map[uuid.UUID]map[string]any
	PendingNodes   []uuid.UUID
}

// SuspensionHandle is returned by StartWait with everything the caller
// needs to surface a wait externally (a webhook URL, a correlation id for
// an approval system, or a computed resume time).
type SuspensionHandle struct {
	SuspensionID  uuid.UUID
	StorageRoute  string
	ResumeAt      *time.Time
	WebhookURL    string
	CorrelationID string
}

// ResumeNotifier receives a suspension's resolution payload once Resume (or
// the timeout policy) fires, so the caller (the execution engine) can
// rehydrate the paused run. nil is safe — StartWait/Resume still record
// state even with nobody listening.
type ResumeNotifier interface {
	OnResume(snapshot *RunSnapshot, suspension *domain.Suspension, payload map[string]any) error
}

// SuspensionManager parks runs on an external event and resumes them later,
// generalizing the source's background-worker pattern
// (monitoring.MetricsPersistence's ticker + stopChan) to suspension
// resolution instead of periodic metric snapshots.
type SuspensionManager struct {
	mu sync.Mutex

	repo      domain.SuspensionRepository
	notifier  ResumeNotifier
	snapshots map[uuid.UUID]*RunSnapshot // by suspension id

	scanInterval time.Duration
	stopChan     chan struct{}
	running      bool
}

// NewSuspensionManager creates a manager backed by repo. notifier may be
// nil (Resume still records resolution; nobody gets notified).
func NewSuspensionManager(repo domain.SuspensionRepository, notifier ResumeNotifier) *SuspensionManager {
	return &SuspensionManager{
		repo:         repo,
		notifier:     notifier,
		snapshots:    make(map[uuid.UUID]*RunSnapshot),
		scanInterval: DefaultResumptionScanInterval,
		stopChan:     make(chan struct{}),
	}
}

// SetScanInterval overrides the resumption worker's poll period; call
// before Start.
func (sm *SuspensionManager) SetScanInterval(d time.Duration) {
	sm.scanInterval = d
}

// StartWait creates a pending suspension for nodeID and records snapshot
// for later rehydration.
func (sm *SuspensionManager) StartWait(
	ctx context.Context,
	executionID, workflowID, nodeID uuid.UUID,
	cfg *WaitConfig,
	snapshot *RunSnapshot,
) (*SuspensionHandle, error) {
	s := domain.NewSuspension(executionID, workflowID, nodeID, cfg.Kind)
	s.ResumeAfter = cfg.ResumeAfter
	s.Timeout = cfg.Timeout
	if cfg.OnTimeout != "" {
		s.OnTimeout = cfg.OnTimeout
	}
	s.ChildRunID = cfg.ChildRunID
	if cfg.Metadata != nil {
		s.Metadata = cfg.Metadata
	}
	if cfg.DefaultData != nil {
		s.Metadata["default_payload"] = cfg.DefaultData
	}

	switch cfg.Kind {
	case domain.SuspensionKindWebhook, domain.SuspensionKindApproval:
		s.Token = uuid.New().String()
	}

	if err := sm.repo.SaveSuspension(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save suspension: %w", err)
	}

	sm.mu.Lock()
	sm.snapshots[s.ID] = snapshot
	sm.mu.Unlock()

	handle := &SuspensionHandle{
		SuspensionID: s.ID,
		ResumeAt:     s.ResumeAfter,
	}
	switch cfg.Kind {
	case domain.SuspensionKindWebhook:
		handle.StorageRoute = "webhook"
		handle.WebhookURL = "/api/webhooks/resume/" + s.Token
	case domain.SuspensionKindApproval:
		handle.StorageRoute = "approval"
		handle.CorrelationID = s.Token
	default:
		handle.StorageRoute = string(cfg.Kind)
	}

	return handle, nil
}

// Resume resolves a pending suspension by id and returns its snapshot for
// the engine to rehydrate the run. A suspension that was never registered
// rejects the call; a repeat resume attempt after
// resolution returns the original snapshot/suspension without re-
// triggering OnResume, matching domain.Suspension.Resolve's once-only
// semantics (idempotent by suspensionID).
func (sm *SuspensionManager) Resume(
	ctx context.Context,
	suspensionID uuid.UUID,
	payload map[string]any,
	triggerType domain.SuspensionKind,
) (*RunSnapshot, *domain.Suspension, error) {
	s, err := sm.repo.GetSuspension(ctx, suspensionID)
	if err != nil {
		return nil, nil, fmt.Errorf("suspension %s not found: %w", suspensionID, err)
	}

	sm.mu.Lock()
	snapshot := sm.snapshots[suspensionID]
	sm.mu.Unlock()

	if s.IsResolved() {
		return snapshot, s, nil
	}

	if !s.Resolve(payload) {
		return snapshot, s, nil
	}

	if err := sm.repo.SaveSuspension(ctx, s); err != nil {
		return nil, nil, fmt.Errorf("failed to persist suspension resolution: %w", err)
	}

	if sm.notifier != nil {
		if err := sm.notifier.OnResume(snapshot, s, payload); err != nil {
			return snapshot, s, fmt.Errorf("resume notifier failed: %w", err)
		}
	}

	return snapshot, s, nil
}

// resolveTimeout applies a suspension's OnTimeout policy once its deadline
// has passed: error leaves it pending for the caller to fail the run,
// continue resumes with an empty payload, default resumes with the
// payload captured in Metadata["default_payload"].
func (sm *SuspensionManager) resolveTimeout(ctx context.Context, s *domain.Suspension) error {
	switch s.OnTimeout {
	case domain.SuspensionTimeoutContinue:
		_, _, err := sm.Resume(ctx, s.ID, map[string]any{}, s.Kind)
		return err
	case domain.SuspensionTimeoutDefault:
		payload, _ := s.Metadata["default_payload"].(map[string]any)
		_, _, err := sm.Resume(ctx, s.ID, payload, s.Kind)
		return err
	default: // SuspensionTimeoutError
		return fmt.Errorf("suspension %s timed out", s.ID)
	}
}

// Start launches the periodic resumption worker: a ticker scans for
// suspensions with resumeAt <= now (timer/datetime/condition kinds;
// webhook/approval/subworkflow are resolved by their own callers) and
// resolves each — due ones via Resume, expired ones via OnTimeout policy.
func (sm *SuspensionManager) Start(ctx context.Context) {
	sm.mu.Lock()
	if sm.running {
		sm.mu.Unlock()
		return
	}
	sm.running = true
	sm.mu.Unlock()

	ticker := time.NewTicker(sm.scanInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				sm.scanOnce(ctx)
			case <-sm.stopChan:
				ticker.Stop()
				return
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the resumption worker.
func (sm *SuspensionManager) Stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.running {
		return
	}
	sm.running = false
	close(sm.stopChan)
	sm.stopChan = make(chan struct{})
}

func (sm *SuspensionManager) scanOnce(ctx context.Context) {
	now := time.Now()

	pending, err := sm.repo.ListPendingSuspensions(ctx)
	if err != nil {
		return
	}
	for _, s := range pending {
		if !isPolledKind(s.Kind) {
			continue
		}
		if s.ResumeAfter != nil && !now.Before(*s.ResumeAfter) {
			_, _, _ = sm.Resume(ctx, s.ID, map[string]any{}, s.Kind)
		}
	}

	expired, err := sm.repo.ListExpiredSuspensions(ctx, now)
	if err != nil {
		return
	}
	for _, s := range expired {
		if s.IsResolved() {
			continue
		}
		_ = sm.resolveTimeout(ctx, s)
	}
}

func isPolledKind(kind domain.SuspensionKind) bool {
	switch kind {
	case domain.SuspensionKindTimer, domain.SuspensionKindDatetime, domain.SuspensionKindCondition:
		return true
	default:
		return false
	}
}
