package remediation

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/cloud"
)

// DetachFromASG removes the instance from every autoscaling group without
// shrinking the group's desired capacity, so the group replaces it.
type DetachFromASG struct{ base }

// NewDetachFromASG is the Factory for DetachFromASG.
func NewDetachFromASG(deps *Deps, target Target) (Action, error) {
	if deps.AutoScaling == nil {
		return nil, fmt.Errorf("%w: autoscaling", ErrMissingDependency)
	}
	return &DetachFromASG{newBase(deps, target, "detach-asg")}, nil
}

// Execute implements Action.
func (a *DetachFromASG) Execute(ctx context.Context) Result {
	groups, err := a.deps.AutoScaling.DescribeMemberships(ctx, a.id())
	if err != nil {
		return a.failed(err, "Unable to detach instance %s from autoscaling groups", a.id())
	}
	if len(groups) == 0 {
		a.logger.Info("Instance not attached to any autoscaling groups")
		return a.reported("Detached instance %s from any autoscaling groups", a.id())
	}

	var errs error
	for _, group := range groups {
		a.logger.Info("Detaching from autoscaling group", zap.String("group", group))
		if err := a.deps.AutoScaling.Detach(ctx, a.id(), group, false); err != nil {
			a.logger.Error("Failed to detach from autoscaling group", zap.String("group", group), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", group, err))
		}
	}
	if errs != nil {
		return a.failed(errs, "Unable to detach instance %s from autoscaling groups", a.id())
	}
	return a.reported("Detached instance %s from any autoscaling groups", a.id())
}

// DeregisterInstance removes the instance from every load balancer registry
// that currently reports it as a member. There is no reverse index from
// instance to balancer, so every balancer's membership is listed.
type DeregisterInstance struct{ base }

// NewDeregisterInstance is the Factory for DeregisterInstance.
func NewDeregisterInstance(deps *Deps, target Target) (Action, error) {
	if len(deps.LoadBalancers) == 0 {
		return nil, fmt.Errorf("%w: load balancers", ErrMissingDependency)
	}
	return &DeregisterInstance{newBase(deps, target, "deregister-instance")}, nil
}

// Execute implements Action.
func (a *DeregisterInstance) Execute(ctx context.Context) Result {
	var errs error
	for _, lb := range a.deps.LoadBalancers {
		errs = multierr.Append(errs, a.deregister(ctx, lb))
	}
	if errs != nil {
		return a.failed(errs, "Unable to deregister instance %s from load balancers or target groups", a.id())
	}
	return a.reported("Deregistered instance %s from all load balancers and target groups", a.id())
}

func (a *DeregisterInstance) deregister(ctx context.Context, lb cloud.LoadBalancer) error {
	log := a.logger.With(zap.String("kind", lb.Kind()))

	groups, err := lb.List(ctx)
	if err != nil {
		log.Error("Failed to list load balancers", zap.Error(err))
		return fmt.Errorf("listing %ss: %w", lb.Kind(), err)
	}

	var errs error
	for _, group := range groups {
		members, err := lb.Members(ctx, group)
		if err != nil {
			log.Error("Failed to describe membership", zap.String("group", group), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", lb.Kind(), group, err))
			continue
		}
		if !slices.Contains(members, a.id()) {
			continue
		}

		log.Info("Found instance registered", zap.String("group", group))
		if err := lb.Deregister(ctx, group, a.id()); err != nil {
			log.Error("Failed to deregister instance", zap.String("group", group), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", lb.Kind(), group, err))
			continue
		}
		log.Info("Deregistered instance", zap.String("group", group))
	}
	return errs
}

