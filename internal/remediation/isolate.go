package remediation

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/cloud"
)

// IsolateInstance moves every network interface of the instance into a
// per-network quarantine security group with no inbound or outbound rules.
// A quarantine group tagged for the instance is reused when one exists.
//
// Partial progress is not rolled back: an interface that was moved stays
// moved when a sibling interface fails.
type IsolateInstance struct{ base }

// NewIsolateInstance is the Factory for IsolateInstance.
func NewIsolateInstance(deps *Deps, target Target) (Action, error) {
	if err := requireCompute(deps); err != nil {
		return nil, err
	}
	return &IsolateInstance{newBase(deps, target, "isolate-instance")}, nil
}

// Execute implements Action.
func (a *IsolateInstance) Execute(ctx context.Context) Result {
	ifaces, err := a.deps.Compute.DescribeNetworkInterfaces(ctx, a.id())
	if err != nil {
		return a.failed(err, "Unable to isolate instance %s", a.id())
	}
	if len(ifaces) == 0 {
		a.logger.Info("No network interfaces found, skipping isolation")
		return Result{}
	}

	var errs error
	groups := make(map[string]string)
	for _, network := range networks(ifaces) {
		groupID, err := a.quarantineGroup(ctx, network)
		if err != nil {
			a.logger.Error("Failed to prepare quarantine group", zap.String("network_id", network), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("network %s: %w", network, err))
			continue
		}
		groups[network] = groupID
	}

	for _, iface := range ifaces {
		groupID, ok := groups[iface.NetworkID]
		if !ok {
			continue
		}
		if err := a.deps.Compute.SetInterfaceSecurityGroups(ctx, iface.InterfaceID, []string{groupID}); err != nil {
			a.logger.Error("Failed to move interface",
				zap.String("interface_id", iface.InterfaceID),
				zap.String("group_id", groupID),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("interface %s: %w", iface.InterfaceID, err))
			continue
		}
		a.logger.Info("Moved interface into quarantine group",
			zap.String("interface_id", iface.InterfaceID),
			zap.String("group_id", groupID))
	}

	if errs != nil {
		return a.failed(errs, "Unable to isolate instance %s", a.id())
	}
	return a.reported("Isolated instance %s into restricted security groups", a.id())
}

// quarantineGroup returns an egress-free group for network, reusing one
// already tagged for this instance.
func (a *IsolateInstance) quarantineGroup(ctx context.Context, network string) (string, error) {
	existing, err := a.deps.Compute.DescribeSecurityGroups(ctx, cloud.SecurityGroupFilter{
		NetworkID: network,
		Tags: map[string]string{
			cloud.TagStatus:     cloud.StatusQuarantined,
			cloud.TagInstanceID: a.id(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("describing security groups: %w", err)
	}

	if len(existing) > 0 {
		sg := existing[0]
		a.logger.Info("Reusing quarantine group", zap.String("group_id", sg.GroupID), zap.String("network_id", network))
		if sg.EgressRules > 0 {
			if err := a.deps.Compute.RevokeAllEgress(ctx, sg.GroupID); err != nil {
				return "", fmt.Errorf("revoking egress on %s: %w", sg.GroupID, err)
			}
		}
		return sg.GroupID, nil
	}

	name := fmt.Sprintf("quarantine-%s-%d", a.id(), a.deps.now().Unix())
	tags := append([]cloud.Tag{
		{Key: cloud.TagName, Value: "quarantine-" + a.id()},
		{Key: cloud.TagInstanceID, Value: a.id()},
	}, a.incidentTags()...)

	groupID, err := a.deps.Compute.CreateSecurityGroup(ctx, name, "Quarantine group for "+a.id(), network, tags)
	if err != nil {
		return "", fmt.Errorf("creating security group: %w", err)
	}
	a.logger.Info("Created quarantine group", zap.String("group_id", groupID), zap.String("network_id", network))

	// New groups come with a default allow-all egress rule.
	if err := a.deps.Compute.RevokeAllEgress(ctx, groupID); err != nil {
		return "", fmt.Errorf("revoking egress on %s: %w", groupID, err)
	}
	return groupID, nil
}

// networks returns the distinct networks of ifaces in first-seen order.
func networks(ifaces []cloud.NetworkAttachment) []string {
	seen := make(map[string]struct{}, len(ifaces))
	var out []string
	for _, iface := range ifaces {
		if _, ok := seen[iface.NetworkID]; ok {
			continue
		}
		seen[iface.NetworkID] = struct{}{}
		out = append(out, iface.NetworkID)
	}
	return out
}
