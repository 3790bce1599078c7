// Package awscloud implements the collaborator interfaces of package cloud
// on the AWS SDK for Go v2. Every client shares one configuration with the
// SDK standard retryer, so callers above this package never retry.
package awscloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/lvonguyen/quarantine/internal/cloud"
)

// DefaultMaxAttempts bounds the standard retryer.
const DefaultMaxAttempts = 10

// Config configures the adapters.
type Config struct {
	Region      string
	AccountID   string
	Bucket      string
	TopicARN    string
	MaxAttempts int
}

// Provider bundles the adapters built from one AWS configuration.
type Provider struct {
	Compute       *Compute
	LoadBalancers []cloud.LoadBalancer
	AutoScaling   *AutoScaling
	RemoteExec    *RemoteExec
	Storage       *Storage
	Notifier      *Notifier
}

// New loads the default AWS configuration chain and builds every adapter.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.AddWithMaxAttempts(retry.NewStandard(), maxAttempts)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &Provider{
		Compute: NewCompute(ec2.NewFromConfig(awsCfg)),
		LoadBalancers: []cloud.LoadBalancer{
			NewClassicBalancers(elasticloadbalancing.NewFromConfig(awsCfg)),
			NewTargetGroups(elasticloadbalancingv2.NewFromConfig(awsCfg)),
		},
		AutoScaling: NewAutoScaling(autoscaling.NewFromConfig(awsCfg)),
		RemoteExec:  NewRemoteExec(ssm.NewFromConfig(awsCfg)),
		Storage:     NewStorage(s3.NewFromConfig(awsCfg), cfg.Bucket, cfg.AccountID),
		Notifier:    NewNotifier(sns.NewFromConfig(awsCfg), cfg.TopicARN),
	}, nil
}
