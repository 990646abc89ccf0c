package executor

import (
	"context"
	"fmt"

	"github.com/flowrun/flowrun/internal/domain"
)

// engineResumeNotifier bridges SuspensionManager.Resume firing — a webhook
// callback, an approval decision, or the scan worker's timer/datetime poll —
// back into the engine: it loads the owning workflow and calls
// ResumeExecution so the suspended run's remaining waves actually execute.
type engineResumeNotifier struct {
	engine    *WorkflowEngine
	workflows domain.WorkflowRepository
}

// NewEngineResumeNotifier builds the ResumeNotifier a SuspensionManager
// needs to drive a resumed run back through the engine, rather than just
// recording the resolution.
func NewEngineResumeNotifier(engine *WorkflowEngine, workflows domain.WorkflowRepository) ResumeNotifier {
	return &engineResumeNotifier{engine: engine, workflows: workflows}
}

func (n *engineResumeNotifier) OnResume(snapshot *RunSnapshot, suspension *domain.Suspension, payload map[string]any) error {
	ctx := context.Background()

	workflow, err := n.workflows.GetWorkflow(ctx, suspension.WorkflowID)
	if err != nil {
		return fmt.Errorf("resume notifier: loading workflow %s: %w", suspension.WorkflowID, err)
	}

	_, err = n.engine.ResumeExecution(ctx, workflow, suspension.ExecutionID, suspension.NodeID, payload)
	return err
}
