package awscloud

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
)

// ClassicAPI is the subset of the classic load balancing client used here.
type ClassicAPI interface {
	DescribeLoadBalancers(ctx context.Context, in *elasticloadbalancing.DescribeLoadBalancersInput, opts ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DescribeLoadBalancersOutput, error)
	DeregisterInstancesFromLoadBalancer(ctx context.Context, in *elasticloadbalancing.DeregisterInstancesFromLoadBalancerInput, opts ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DeregisterInstancesFromLoadBalancerOutput, error)
}

// ClassicBalancers implements cloud.LoadBalancer for classic load balancers.
type ClassicBalancers struct {
	client ClassicAPI
}

// NewClassicBalancers wraps a classic load balancing client.
func NewClassicBalancers(client ClassicAPI) *ClassicBalancers {
	return &ClassicBalancers{client: client}
}

// Kind implements cloud.LoadBalancer.
func (b *ClassicBalancers) Kind() string { return "classic load balancer" }

// List implements cloud.LoadBalancer.
func (b *ClassicBalancers) List(ctx context.Context) ([]string, error) {
	var (
		names  []string
		marker *string
	)
	for {
		out, err := b.client.DescribeLoadBalancers(ctx, &elasticloadbalancing.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return nil, err
		}
		for _, lb := range out.LoadBalancerDescriptions {
			names = append(names, aws.ToString(lb.LoadBalancerName))
		}
		if aws.ToString(out.NextMarker) == "" {
			return names, nil
		}
		marker = out.NextMarker
	}
}

// Members implements cloud.LoadBalancer.
func (b *ClassicBalancers) Members(ctx context.Context, group string) ([]string, error) {
	out, err := b.client.DescribeLoadBalancers(ctx, &elasticloadbalancing.DescribeLoadBalancersInput{
		LoadBalancerNames: []string{group},
	})
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, lb := range out.LoadBalancerDescriptions {
		for _, inst := range lb.Instances {
			ids = append(ids, aws.ToString(inst.InstanceId))
		}
	}
	return ids, nil
}

// Deregister implements cloud.LoadBalancer.
func (b *ClassicBalancers) Deregister(ctx context.Context, group, instanceID string) error {
	_, err := b.client.DeregisterInstancesFromLoadBalancer(ctx, &elasticloadbalancing.DeregisterInstancesFromLoadBalancerInput{
		LoadBalancerName: aws.String(group),
		Instances:        []elbtypes.Instance{{InstanceId: aws.String(instanceID)}},
	})
	return err
}

// TargetGroupAPI is the subset of the v2 load balancing client used here.
type TargetGroupAPI interface {
	DescribeTargetGroups(ctx context.Context, in *elasticloadbalancingv2.DescribeTargetGroupsInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetGroupsOutput, error)
	DescribeTargetHealth(ctx context.Context, in *elasticloadbalancingv2.DescribeTargetHealthInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error)
	DeregisterTargets(ctx context.Context, in *elasticloadbalancingv2.DeregisterTargetsInput, opts ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DeregisterTargetsOutput, error)
}

// TargetGroups implements cloud.LoadBalancer for instance target groups.
type TargetGroups struct {
	client TargetGroupAPI
}

// NewTargetGroups wraps a v2 load balancing client.
func NewTargetGroups(client TargetGroupAPI) *TargetGroups {
	return &TargetGroups{client: client}
}

// Kind implements cloud.LoadBalancer.
func (t *TargetGroups) Kind() string { return "target group" }

// List implements cloud.LoadBalancer. Only groups targeting instances are
// returned.
func (t *TargetGroups) List(ctx context.Context) ([]string, error) {
	var (
		arns   []string
		marker *string
	)
	for {
		out, err := t.client.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{Marker: marker})
		if err != nil {
			return nil, err
		}
		for _, tg := range out.TargetGroups {
			if tg.TargetType != "" && tg.TargetType != elbv2types.TargetTypeEnumInstance {
				continue
			}
			arns = append(arns, aws.ToString(tg.TargetGroupArn))
		}
		if aws.ToString(out.NextMarker) == "" {
			return arns, nil
		}
		marker = out.NextMarker
	}
}

// Members implements cloud.LoadBalancer.
func (t *TargetGroups) Members(ctx context.Context, group string) ([]string, error) {
	out, err := t.client.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(group),
	})
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, th := range out.TargetHealthDescriptions {
		if th.Target != nil {
			ids = append(ids, aws.ToString(th.Target.Id))
		}
	}
	return ids, nil
}

// Deregister implements cloud.LoadBalancer. Every registration of the
// instance is removed with the port it was registered on.
func (t *TargetGroups) Deregister(ctx context.Context, group, instanceID string) error {
	out, err := t.client.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(group),
		Targets:        []elbv2types.TargetDescription{{Id: aws.String(instanceID)}},
	})
	if err != nil {
		return err
	}

	var targets []elbv2types.TargetDescription
	for _, th := range out.TargetHealthDescriptions {
		if th.Target == nil || aws.ToString(th.Target.Id) != instanceID {
			continue
		}
		targets = append(targets, elbv2types.TargetDescription{
			Id:               th.Target.Id,
			Port:             th.Target.Port,
			AvailabilityZone: th.Target.AvailabilityZone,
		})
	}
	if len(targets) == 0 {
		targets = []elbv2types.TargetDescription{{Id: aws.String(instanceID)}}
	}

	_, err = t.client.DeregisterTargets(ctx, &elasticloadbalancingv2.DeregisterTargetsInput{
		TargetGroupArn: aws.String(group),
		Targets:        targets,
	})
	return err
}
