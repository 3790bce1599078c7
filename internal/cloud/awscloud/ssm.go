package awscloud

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/lvonguyen/quarantine/internal/cloud"
)

// Remote command document parameters.
const (
	commandWorkingDirectory = "/tmp"
	commandExecutionTimeout = 3600
)

// SSMAPI is the subset of the SSM client used by RemoteExec.
type SSMAPI interface {
	DescribeInstanceInformation(ctx context.Context, in *ssm.DescribeInstanceInformationInput, opts ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error)
	SendCommand(ctx context.Context, in *ssm.SendCommandInput, opts ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, in *ssm.GetCommandInvocationInput, opts ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
}

// RemoteExec implements cloud.RemoteExec on SSM Run Command.
type RemoteExec struct {
	client SSMAPI
}

// NewRemoteExec wraps an SSM client.
func NewRemoteExec(client SSMAPI) *RemoteExec {
	return &RemoteExec{client: client}
}

// DescribeManaged implements cloud.RemoteExec.
func (r *RemoteExec) DescribeManaged(ctx context.Context, instanceID string) ([]string, error) {
	out, err := r.client.DescribeInstanceInformation(ctx, &ssm.DescribeInstanceInformationInput{
		Filters: []types.InstanceInformationStringFilter{
			{Key: aws.String("InstanceIds"), Values: []string{instanceID}},
		},
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(out.InstanceInformationList))
	for _, info := range out.InstanceInformationList {
		ids = append(ids, aws.ToString(info.InstanceId))
	}
	return ids, nil
}

// SendCommand implements cloud.RemoteExec.
func (r *RemoteExec) SendCommand(ctx context.Context, req cloud.CommandRequest) (string, error) {
	in := &ssm.SendCommandInput{
		InstanceIds:  []string{req.InstanceID},
		DocumentName: aws.String(req.DocumentName),
		Parameters: map[string][]string{
			"commands":         req.Commands,
			"workingDirectory": {commandWorkingDirectory},
			"executionTimeout": {strconv.Itoa(commandExecutionTimeout)},
		},
		TimeoutSeconds:     aws.Int32(int32(req.TimeoutSeconds)),
		OutputS3BucketName: aws.String(req.OutputBucket),
		OutputS3KeyPrefix:  aws.String(req.OutputKeyPrefix),
	}
	if req.ServiceRoleARN != "" {
		in.ServiceRoleArn = aws.String(req.ServiceRoleARN)
	}
	if req.NotificationARN != "" {
		in.NotificationConfig = &types.NotificationConfig{
			NotificationArn: aws.String(req.NotificationARN),
			NotificationEvents: []types.NotificationEvent{
				types.NotificationEventSuccess,
				types.NotificationEventTimedOut,
				types.NotificationEventCancelled,
				types.NotificationEventFailed,
			},
			NotificationType: types.NotificationTypeInvocation,
		}
	}

	out, err := r.client.SendCommand(ctx, in)
	if err != nil {
		return "", err
	}
	if out.Command == nil {
		return "", fmt.Errorf("no command returned for %s", req.InstanceID)
	}
	return aws.ToString(out.Command.CommandId), nil
}

// WaitExecuted implements cloud.RemoteExec using the SDK waiter, polling
// every poll interval for at most maxAttempts polls.
func (r *RemoteExec) WaitExecuted(ctx context.Context, commandID, instanceID string, poll time.Duration, maxAttempts int) error {
	if poll <= 0 {
		poll = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	waiter := ssm.NewCommandExecutedWaiter(r.client, func(o *ssm.CommandExecutedWaiterOptions) {
		o.MinDelay = poll
		o.MaxDelay = poll
	})
	err := waiter.Wait(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(commandID),
		InstanceId: aws.String(instanceID),
	}, poll*time.Duration(maxAttempts))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", cloud.ErrCommandTimeout, err)
	}
	return nil
}
