package awscloud

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/lvonguyen/quarantine/internal/cloud"
)

// S3API is the subset of the S3 client used by Storage.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Storage implements cloud.Storage on an S3 bucket. Objects are written
// under "<instance>/" with bucket-owner-full-control.
type Storage struct {
	client    S3API
	bucket    string
	accountID string
}

// NewStorage wraps an S3 client for bucket. accountID is the expected
// bucket owner and may be empty.
func NewStorage(client S3API, bucket, accountID string) *Storage {
	return &Storage{client: client, bucket: bucket, accountID: accountID}
}

// PutObject implements cloud.Storage.
func (s *Storage) PutObject(ctx context.Context, instanceID, key string, body []byte, metadata map[string]string) error {
	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(instanceID + "/" + key),
		Body:     bytes.NewReader(body),
		ACL:      s3types.ObjectCannedACLBucketOwnerFullControl,
		Metadata: metadata,
	}
	if s.accountID != "" {
		in.ExpectedBucketOwner = aws.String(s.accountID)
	}
	_, err := s.client.PutObject(ctx, in)
	return err
}

// SNSAPI is the subset of the SNS client used by Notifier.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier implements cloud.Notifier on an SNS topic.
type Notifier struct {
	client   SNSAPI
	topicARN string
}

// NewNotifier wraps an SNS client for topicARN.
func NewNotifier(client SNSAPI, topicARN string) *Notifier {
	return &Notifier{client: client, topicARN: topicARN}
}

// Publish implements cloud.Notifier.
func (n *Notifier) Publish(ctx context.Context, instanceID, message string) error {
	body, err := cloud.EncodeEnvelope(instanceID, message)
	if err != nil {
		return err
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn:         aws.String(n.topicARN),
		Message:          aws.String(body),
		MessageStructure: aws.String("json"),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"InstanceId": {DataType: aws.String("String"), StringValue: aws.String(instanceID)},
		},
	})
	return err
}
