package remediation

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/cloud"
)

// TerminationProtection disables API-initiated termination and stop.
type TerminationProtection struct{ base }

// NewTerminationProtection is the Factory for TerminationProtection.
func NewTerminationProtection(deps *Deps, target Target) (Action, error) {
	if err := requireCompute(deps); err != nil {
		return nil, err
	}
	return &TerminationProtection{newBase(deps, target, "termination-protection")}, nil
}

// Execute implements Action.
func (a *TerminationProtection) Execute(ctx context.Context) Result {
	on := strconv.FormatBool(true)
	for _, attr := range []cloud.Attribute{cloud.AttrDisableAPITermination, cloud.AttrDisableAPIStop} {
		if err := a.deps.Compute.ModifyAttribute(ctx, a.id(), attr, on); err != nil {
			return a.failed(err, "Failed to enable termination protection on %s", a.id())
		}
	}
	return a.reported("Enabled termination protection on %s", a.id())
}

// ShutdownBehavior makes an OS-initiated shutdown stop the instance instead
// of terminating it.
type ShutdownBehavior struct{ base }

// NewShutdownBehavior is the Factory for ShutdownBehavior.
func NewShutdownBehavior(deps *Deps, target Target) (Action, error) {
	if err := requireCompute(deps); err != nil {
		return nil, err
	}
	return &ShutdownBehavior{newBase(deps, target, "shutdown-behavior")}, nil
}

// Execute implements Action.
func (a *ShutdownBehavior) Execute(ctx context.Context) Result {
	if err := a.deps.Compute.ModifyAttribute(ctx, a.id(), cloud.AttrShutdownBehavior, "stop"); err != nil {
		return a.failed(err, "Failed to modify shutdown behavior on %s to 'stop'", a.id())
	}
	return a.reported("Shutdown behavior set to 'stop' on %s", a.id())
}

// TagInstance applies the incident tag set to the instance.
type TagInstance struct{ base }

// NewTagInstance is the Factory for TagInstance.
func NewTagInstance(deps *Deps, target Target) (Action, error) {
	if err := requireCompute(deps); err != nil {
		return nil, err
	}
	return &TagInstance{newBase(deps, target, "tag-instance")}, nil
}

// Execute implements Action.
func (a *TagInstance) Execute(ctx context.Context) Result {
	tags := a.incidentTags()
	if err := a.deps.Compute.CreateTags(ctx, a.id(), tags); err != nil {
		return a.failed(err, "Unable to add tags to instance %s", a.id())
	}
	a.logger.Debug("Tagged instance", zap.Int("tags", len(tags)))
	return a.reported("Added incident tags to instance %s", a.id())
}
