package remediation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/cloud"
)

// CommandOutput runs a fixed command set on the instance through the remote
// execution channel and stores the output. Existing instance profiles are
// stripped first; a minimal profile is attached only for the duration of the
// capture and released exactly once afterwards, even on failure or
// cancellation.
type CommandOutput struct{ base }

// NewCommandOutput is the Factory for CommandOutput.
func NewCommandOutput(deps *Deps, target Target) (Action, error) {
	if err := requireCompute(deps); err != nil {
		return nil, err
	}
	if deps.RemoteExec == nil {
		return nil, fmt.Errorf("%w: remote execution", ErrMissingDependency)
	}
	return &CommandOutput{newBase(deps, target, "command-output")}, nil
}

// Execute implements Action.
func (a *CommandOutput) Execute(ctx context.Context) Result {
	cfg := a.deps.Capture
	if len(cfg.Commands) == 0 {
		a.logger.Debug("No commands to execute, skipping")
		return Result{}
	}

	managed, err := a.deps.RemoteExec.DescribeManaged(ctx, a.id())
	if err != nil {
		return a.failed(err, "Unable to determine whether instance %s is managed by SSM", a.id())
	}

	if err := a.stripProfiles(ctx); err != nil {
		a.logger.Error("Unable to remove instance profiles", zap.Error(err))
		return Result{Err: err}
	}

	if len(managed) == 0 {
		a.logger.Debug("Instance not managed by SSM")
		return a.reported("Instance %s was not managed by SSM, skipping command capture", a.id())
	}

	if cfg.InstanceProfileARN == "" {
		a.logger.Warn("Instance profile ARN is not configured, unable to issue commands")
		return Result{}
	}

	return a.capture(ctx)
}

func (a *CommandOutput) capture(ctx context.Context) (res Result) {
	cfg := a.deps.Capture

	grant, err := a.acquire(ctx, cfg.InstanceProfileARN)
	if err != nil {
		return a.failed(err, "Unable to capture output from %s for commands: %v", a.id(), cfg.Commands)
	}
	defer func() {
		relErr := grant.release()
		if relErr == nil {
			return
		}
		if res.Failed() {
			a.logger.Error("Failed to remove temporary instance profile", zap.Error(relErr))
			res.Err = multierr.Append(res.Err, relErr)
			return
		}
		res = a.failed(relErr, "Captured output from %s but failed to remove temporary instance profile %s", a.id(), cfg.InstanceProfileARN)
	}()

	// Profile propagation is asynchronous.
	if err := sleep(ctx, cfg.SettleDelay); err != nil {
		return a.failed(err, "Unable to capture output from %s for commands: %v", a.id(), cfg.Commands)
	}

	req := cloud.CommandRequest{
		InstanceID:      a.id(),
		Commands:        cfg.Commands,
		DocumentName:    cfg.DocumentName,
		TimeoutSeconds:  cfg.TimeoutSeconds,
		OutputBucket:    cfg.OutputBucket,
		OutputKeyPrefix: a.id() + "/ssm-output-file",
		ServiceRoleARN:  cfg.ServiceRoleARN,
		NotificationARN: cfg.NotificationARN,
	}
	a.logger.Info("Sending commands", zap.Strings("commands", cfg.Commands))
	commandID, err := a.deps.RemoteExec.SendCommand(ctx, req)
	if err != nil {
		return a.failed(err, "Unable to capture output from %s for commands: %v", a.id(), cfg.Commands)
	}

	if err := a.deps.RemoteExec.WaitExecuted(ctx, commandID, a.id(), cfg.PollInterval, cfg.MaxAttempts); err != nil {
		return a.failed(err, "Commands were queued on %s but failed to execute before timeout: %v", a.id(), cfg.Commands)
	}

	a.logger.Info("Waiting for command output uploads", zap.Duration("drain", cfg.DrainDelay))
	if err := sleep(ctx, cfg.DrainDelay); err != nil {
		return a.failed(err, "Commands ran on %s but output upload was interrupted: %v", a.id(), cfg.Commands)
	}

	return a.reported("Captured output from %s for commands: %v", a.id(), cfg.Commands)
}

// stripProfiles disassociates every profile currently on the instance.
func (a *CommandOutput) stripProfiles(ctx context.Context) error {
	assocs, err := a.deps.Compute.DescribeRoleAssociations(ctx, a.id())
	if err != nil {
		return fmt.Errorf("describing instance profile associations: %w", err)
	}
	if len(assocs) == 0 {
		a.logger.Debug("No instance profiles attached")
		return nil
	}

	var errs error
	for _, assoc := range assocs {
		a.logger.Info("Disassociating instance profile", zap.String("profile_arn", assoc.ProfileARN))
		if err := a.deps.Compute.DisassociateRole(ctx, assoc.AssociationID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("disassociating %s: %w", assoc.ProfileARN, err))
		}
	}
	return errs
}

func (a *CommandOutput) acquire(ctx context.Context, profileARN string) (*profileGrant, error) {
	a.logger.Info("Associating temporary instance profile", zap.String("profile_arn", profileARN))
	assocID, err := a.deps.Compute.AssociateRole(ctx, a.id(), profileARN)
	if err != nil {
		return nil, fmt.Errorf("associating %s: %w", profileARN, err)
	}

	timeout := a.deps.Capture.ReleaseTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &profileGrant{
		ctx:           context.WithoutCancel(ctx),
		compute:       a.deps.Compute,
		associationID: assocID,
		timeout:       timeout,
		logger:        a.logger,
	}, nil
}

// profileGrant is a temporary instance profile association. release runs at
// most once and ignores cancellation of the run that acquired it.
type profileGrant struct {
	ctx           context.Context
	compute       cloud.Compute
	associationID string
	timeout       time.Duration
	logger        *zap.Logger

	once sync.Once
	err  error
}

func (g *profileGrant) release() error {
	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(g.ctx, g.timeout)
		defer cancel()

		g.err = g.compute.DisassociateRole(ctx, g.associationID)
		if g.err == nil {
			g.logger.Info("Removed temporary instance profile", zap.String("association_id", g.associationID))
		}
	})
	return g.err
}
