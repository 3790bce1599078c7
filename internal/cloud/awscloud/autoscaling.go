package awscloud

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
)

// AutoScalingAPI is the subset of the autoscaling client used here.
type AutoScalingAPI interface {
	DescribeAutoScalingInstances(ctx context.Context, in *autoscaling.DescribeAutoScalingInstancesInput, opts ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingInstancesOutput, error)
	DetachInstances(ctx context.Context, in *autoscaling.DetachInstancesInput, opts ...func(*autoscaling.Options)) (*autoscaling.DetachInstancesOutput, error)
}

// AutoScaling implements cloud.AutoScaling.
type AutoScaling struct {
	client AutoScalingAPI
}

// NewAutoScaling wraps an autoscaling client.
func NewAutoScaling(client AutoScalingAPI) *AutoScaling {
	return &AutoScaling{client: client}
}

// DescribeMemberships implements cloud.AutoScaling.
func (a *AutoScaling) DescribeMemberships(ctx context.Context, instanceID string) ([]string, error) {
	out, err := a.client.DescribeAutoScalingInstances(ctx, &autoscaling.DescribeAutoScalingInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, err
	}

	groups := make([]string, 0, len(out.AutoScalingInstances))
	for _, inst := range out.AutoScalingInstances {
		groups = append(groups, aws.ToString(inst.AutoScalingGroupName))
	}
	return groups, nil
}

// Detach implements cloud.AutoScaling.
func (a *AutoScaling) Detach(ctx context.Context, instanceID, group string, decrementCapacity bool) error {
	_, err := a.client.DetachInstances(ctx, &autoscaling.DetachInstancesInput{
		AutoScalingGroupName:           aws.String(group),
		InstanceIds:                    []string{instanceID},
		ShouldDecrementDesiredCapacity: aws.Bool(decrementCapacity),
	})
	return err
}
