package remediation

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PreserveVolumes keeps attached volumes when the instance terminates.
type PreserveVolumes struct{ base }

// NewPreserveVolumes is the Factory for PreserveVolumes.
func NewPreserveVolumes(deps *Deps, target Target) (Action, error) {
	if err := requireCompute(deps); err != nil {
		return nil, err
	}
	return &PreserveVolumes{newBase(deps, target, "preserve-volumes")}, nil
}

// Execute implements Action.
func (a *PreserveVolumes) Execute(ctx context.Context) Result {
	inst, err := a.deps.Compute.DescribeInstance(ctx, a.id())
	if err != nil {
		return a.failed(err, "Unable to enable volume termination protection on instance %s", a.id())
	}

	devices := make([]string, 0, len(inst.BlockDevices))
	for _, bd := range inst.BlockDevices {
		if bd.DeviceName != "" {
			devices = append(devices, bd.DeviceName)
		}
	}
	if len(devices) == 0 {
		a.logger.Debug("No block devices found, skipping volume termination protection")
		return Result{}
	}

	a.logger.Debug("Found block devices", zap.Strings("devices", devices))
	if err := a.deps.Compute.DisableDeleteOnTermination(ctx, a.id(), devices); err != nil {
		return a.failed(err, "Unable to enable volume termination protection on instance %s", a.id())
	}
	return a.reported("Enabled volume termination protection on attached volumes %v on instance %s", devices, a.id())
}

// SnapshotVolumes snapshots every attached volume. Repeated runs create
// additional snapshots.
type SnapshotVolumes struct{ base }

// NewSnapshotVolumes is the Factory for SnapshotVolumes.
func NewSnapshotVolumes(deps *Deps, target Target) (Action, error) {
	if err := requireCompute(deps); err != nil {
		return nil, err
	}
	return &SnapshotVolumes{newBase(deps, target, "snapshot-volumes")}, nil
}

// Execute implements Action.
func (a *SnapshotVolumes) Execute(ctx context.Context) Result {
	inst, err := a.deps.Compute.DescribeInstance(ctx, a.id())
	if err != nil {
		return a.failed(err, "Unable to snapshot volumes on instance %s", a.id())
	}

	var volumes []string
	for _, bd := range inst.BlockDevices {
		if bd.VolumeID != "" {
			volumes = append(volumes, bd.VolumeID)
		}
	}
	if len(volumes) == 0 {
		a.logger.Debug("No volumes found, skipping volume snapshot")
		return Result{}
	}

	a.logger.Debug("Found volumes to snapshot", zap.Strings("volumes", volumes))

	var (
		taken []string
		errs  error
	)
	for _, vol := range volumes {
		desc := fmt.Sprintf("Security Response automated copy of %s for instance %s", vol, a.id())
		snapID, err := a.deps.Compute.CreateSnapshot(ctx, vol, desc)
		if err != nil {
			a.logger.Error("Failed to create snapshot", zap.String("volume_id", vol), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", vol, err))
			continue
		}
		a.logger.Info("Created snapshot", zap.String("volume_id", vol), zap.String("snapshot_id", snapID))
		taken = append(taken, vol)
	}

	if errs != nil {
		return a.failed(errs, "Unable to snapshot volumes %v on instance %s (snapshotted %v)", volumes, a.id(), taken)
	}
	return a.reported("Snapshotted EBS volumes %v on instance %s", taken, a.id())
}
