package remediation

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ConsoleScreenshot captures the instance console and stores it as evidence.
type ConsoleScreenshot struct{ base }

// NewConsoleScreenshot is the Factory for ConsoleScreenshot.
func NewConsoleScreenshot(deps *Deps, target Target) (Action, error) {
	if err := requireStorage(deps); err != nil {
		return nil, err
	}
	return &ConsoleScreenshot{newBase(deps, target, "console-screenshot")}, nil
}

// Execute implements Action.
func (a *ConsoleScreenshot) Execute(ctx context.Context) Result {
	image, err := a.deps.Compute.ConsoleScreenshot(ctx, a.id())
	if err != nil {
		return a.failed(err, "Unable to get screenshot from instance %s", a.id())
	}

	key := fmt.Sprintf("console_screenshot_%s.jpg", a.id())
	if err := a.deps.Storage.PutObject(ctx, a.id(), key, image, map[string]string{"instance_id": a.id()}); err != nil {
		return a.failed(err, "Unable to get screenshot from instance %s", a.id())
	}
	return a.reported("Successfully captured console screen shot: %s", key)
}

// CaptureMetadata stores the full instance descriptor as JSON.
type CaptureMetadata struct{ base }

// NewCaptureMetadata is the Factory for CaptureMetadata.
func NewCaptureMetadata(deps *Deps, target Target) (Action, error) {
	if err := requireStorage(deps); err != nil {
		return nil, err
	}
	return &CaptureMetadata{newBase(deps, target, "capture-metadata")}, nil
}

// Execute implements Action.
func (a *CaptureMetadata) Execute(ctx context.Context) Result {
	key := fmt.Sprintf("metadata_file_%s.json", a.id())

	inst, err := a.deps.Compute.DescribeInstance(ctx, a.id())
	if err != nil {
		return a.failed(err, "Unable to capture instance metadata on instance %s", a.id())
	}
	if err := a.deps.Storage.PutObject(ctx, a.id(), key, inst.Raw, map[string]string{"instance_id": a.id()}); err != nil {
		return a.failed(err, "Unable to capture instance metadata on instance %s", a.id())
	}

	a.logger.Info("Captured instance metadata", zap.String("key", key))
	return a.reported("Successfully captured instance metadata: %s", key)
}
