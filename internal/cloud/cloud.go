// Package cloud defines the collaborator capability sets consumed by the
// quarantine actions: compute, load balancing, autoscaling, remote command
// execution, artifact storage and notifications.
//
// Implementations are expected to apply their own retry and backoff policy.
// Callers above this layer never retry.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors.
var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrCommandTimeout   = errors.New("command did not reach executed state")
)

// Tag keys applied to quarantined resources.
const (
	TagName          = "Name"
	TagInstanceID    = "SOC-InstanceId"
	TagStatus        = "SOC-Status"
	TagContainedAt   = "SOC-ContainedAt"
	TagFindingID     = "SOC-FindingId"
	TagFindingSource = "SOC-FindingSource"

	StatusQuarantined = "quarantined"
)

// Tag is a single key/value pair. Tag sets are ordered slices.
type Tag struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// Instance is the subset of an instance descriptor the actions reason about.
// Raw carries the full provider descriptor for evidence capture.
type Instance struct {
	ID           string          `json:"id"`
	BlockDevices []BlockDevice   `json:"block_devices"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// BlockDevice is an attached block device. VolumeID is empty for devices
// without a backing volume (instance store).
type BlockDevice struct {
	DeviceName string `json:"device_name"`
	VolumeID   string `json:"volume_id,omitempty"`
}

// NetworkAttachment is one network interface bound to an instance.
type NetworkAttachment struct {
	InterfaceID string `json:"interface_id"`
	NetworkID   string `json:"network_id"`
}

// SecurityGroup describes an existing security group.
type SecurityGroup struct {
	GroupID     string `json:"group_id"`
	Name        string `json:"name"`
	NetworkID   string `json:"network_id"`
	EgressRules int    `json:"egress_rules"`
	Tags        []Tag  `json:"tags,omitempty"`
}

// SecurityGroupFilter selects groups in one network carrying all given tags.
type SecurityGroupFilter struct {
	NetworkID string
	Tags      map[string]string
}

// RoleAssociation is an instance profile association on an instance.
type RoleAssociation struct {
	AssociationID string `json:"association_id"`
	ProfileARN    string `json:"profile_arn"`
	State         string `json:"state"`
}

// Attribute names an instance attribute that ModifyAttribute can change.
type Attribute string

const (
	AttrDisableAPITermination Attribute = "disableApiTermination"
	AttrDisableAPIStop        Attribute = "disableApiStop"
	AttrShutdownBehavior      Attribute = "instanceInitiatedShutdownBehavior"
)

// CommandRequest describes a remote command invocation.
type CommandRequest struct {
	InstanceID      string
	Commands        []string
	DocumentName    string
	TimeoutSeconds  int
	OutputBucket    string
	OutputKeyPrefix string
	ServiceRoleARN  string
	NotificationARN string
}

// Compute is the compute-resource API.
type Compute interface {
	DescribeInstance(ctx context.Context, instanceID string) (*Instance, error)
	// ConsoleScreenshot returns the decoded console image.
	ConsoleScreenshot(ctx context.Context, instanceID string) ([]byte, error)
	ModifyAttribute(ctx context.Context, instanceID string, attr Attribute, value string) error
	DisableDeleteOnTermination(ctx context.Context, instanceID string, deviceNames []string) error
	CreateSnapshot(ctx context.Context, volumeID, description string) (string, error)

	// DescribeNetworkInterfaces lists interfaces attached or attaching to the instance.
	DescribeNetworkInterfaces(ctx context.Context, instanceID string) ([]NetworkAttachment, error)
	// SetInterfaceSecurityGroups replaces the interface's group membership.
	SetInterfaceSecurityGroups(ctx context.Context, interfaceID string, groupIDs []string) error
	DescribeSecurityGroups(ctx context.Context, filter SecurityGroupFilter) ([]SecurityGroup, error)
	CreateSecurityGroup(ctx context.Context, name, description, networkID string, tags []Tag) (string, error)
	RevokeAllEgress(ctx context.Context, groupID string) error
	CreateTags(ctx context.Context, resourceID string, tags []Tag) error

	// DescribeRoleAssociations lists associating or associated profiles.
	DescribeRoleAssociations(ctx context.Context, instanceID string) ([]RoleAssociation, error)
	AssociateRole(ctx context.Context, instanceID, profileARN string) (string, error)
	DisassociateRole(ctx context.Context, associationID string) error
}

// LoadBalancer is a membership registry an instance can be deregistered
// from. Classic load balancers and target groups both implement it.
type LoadBalancer interface {
	// Kind names the registry for logs and messages.
	Kind() string
	List(ctx context.Context) ([]string, error)
	Members(ctx context.Context, group string) ([]string, error)
	Deregister(ctx context.Context, group, instanceID string) error
}

// AutoScaling is the autoscaling API.
type AutoScaling interface {
	// DescribeMemberships returns the names of groups the instance belongs to.
	DescribeMemberships(ctx context.Context, instanceID string) ([]string, error)
	Detach(ctx context.Context, instanceID, group string, decrementCapacity bool) error
}

// RemoteExec is the remote command execution API.
type RemoteExec interface {
	// DescribeManaged returns the managed-node records for the instance;
	// an empty result means the instance is not remotely manageable.
	DescribeManaged(ctx context.Context, instanceID string) ([]string, error)
	SendCommand(ctx context.Context, req CommandRequest) (string, error)
	WaitExecuted(ctx context.Context, commandID, instanceID string, poll time.Duration, maxAttempts int) error
}

// Storage is the artifact store.
type Storage interface {
	PutObject(ctx context.Context, instanceID, key string, body []byte, metadata map[string]string) error
}

// Notifier publishes human-readable outcomes.
type Notifier interface {
	Publish(ctx context.Context, instanceID, message string) error
}
