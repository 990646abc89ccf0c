package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/flowrun/flowrun/internal/application/executor"
	"github.com/flowrun/flowrun/internal/domain"
	"github.com/flowrun/flowrun/internal/infrastructure/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	calls int
	last  map[string]any
}

func (r *recordingNotifier) OnResume(snapshot *executor.RunSnapshot, suspension *domain.Suspension, payload map[string]any) error {
	r.calls++
	r.last = payload
	return nil
}

func TestSuspensionManager_StartWaitWebhookAssignsToken(t *testing.T) {
	repo := storage.NewMemoryStore()
	sm := executor.NewSuspensionManager(repo, nil)

	executionID, workflowID, nodeID := uuid.New(), uuid.New(), uuid.New()
	handle, err := sm.StartWait(context.Background(), executionID, workflowID, nodeID, &executor.WaitConfig{
		Kind: domain.SuspensionKindWebhook,
	}, &executor.RunSnapshot{ExecutionID: executionID, SuspendedNode: nodeID})
	require.NoError(t, err)
	require.NotEmpty(t, handle.WebhookURL)
	require.Equal(t, "webhook", handle.StorageRoute)
}

func TestSuspensionManager_ResumeIsIdempotent(t *testing.T) {
	repo := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	sm := executor.NewSuspensionManager(repo, notifier)

	executionID, workflowID, nodeID := uuid.New(), uuid.New(), uuid.New()
	handle, err := sm.StartWait(context.Background(), executionID, workflowID, nodeID, &executor.WaitConfig{
		Kind: domain.SuspensionKindApproval,
	}, &executor.RunSnapshot{ExecutionID: executionID, SuspendedNode: nodeID})
	require.NoError(t, err)

	_, _, err = sm.Resume(context.Background(), handle.SuspensionID, map[string]any{"approved": true}, domain.SuspensionKindApproval)
	require.NoError(t, err)
	require.Equal(t, 1, notifier.calls)

	_, _, err = sm.Resume(context.Background(), handle.SuspensionID, map[string]any{"approved": false}, domain.SuspensionKindApproval)
	require.NoError(t, err)
	require.Equal(t, 1, notifier.calls) // second resume does not re-trigger the notifier
	require.Equal(t, map[string]any{"approved": true}, notifier.last)
}

func TestSuspensionManager_ResumeUnknownSuspensionFails(t *testing.T) {
	repo := storage.NewMemoryStore()
	sm := executor.NewSuspensionManager(repo, nil)

	_, _, err := sm.Resume(context.Background(), uuid.New(), nil, domain.SuspensionKindTimer)
	require.Error(t, err)
}

func TestSuspensionManager_ScanResumesDueTimers(t *testing.T) {
	repo := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	sm := executor.NewSuspensionManager(repo, notifier)
	sm.SetScanInterval(20 * time.Millisecond)

	executionID, workflowID, nodeID := uuid.New(), uuid.New(), uuid.New()
	past := time.Now().Add(-time.Second)
	_, err := sm.StartWait(context.Background(), executionID, workflowID, nodeID, &executor.WaitConfig{
		Kind:        domain.SuspensionKindTimer,
		ResumeAfter: &past,
	}, &executor.RunSnapshot{ExecutionID: executionID, SuspendedNode: nodeID})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sm.Start(ctx)
	defer sm.Stop()

	require.Eventually(t, func() bool {
		return notifier.calls >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestSuspensionManager_TimeoutContinueResumesWithEmptyPayload(t *testing.T) {
	repo := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	sm := executor.NewSuspensionManager(repo, notifier)
	sm.SetScanInterval(20 * time.Millisecond)

	executionID, workflowID, nodeID := uuid.New(), uuid.New(), uuid.New()
	expiredAt := time.Now().Add(-time.Second)
	_, err := sm.StartWait(context.Background(), executionID, workflowID, nodeID, &executor.WaitConfig{
		Kind:      domain.SuspensionKindWebhook,
		Timeout:   &expiredAt,
		OnTimeout: domain.SuspensionTimeoutContinue,
	}, &executor.RunSnapshot{ExecutionID: executionID, SuspendedNode: nodeID})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sm.Start(ctx)
	defer sm.Stop()

	require.Eventually(t, func() bool {
		return notifier.calls >= 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, map[string]any{}, notifier.last)
}
