package awscloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/lvonguyen/quarantine/internal/cloud"
)

// EC2API is the subset of the EC2 client used by Compute.
type EC2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	GetConsoleScreenshot(ctx context.Context, in *ec2.GetConsoleScreenshotInput, opts ...func(*ec2.Options)) (*ec2.GetConsoleScreenshotOutput, error)
	ModifyInstanceAttribute(ctx context.Context, in *ec2.ModifyInstanceAttributeInput, opts ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
	CreateSnapshot(ctx context.Context, in *ec2.CreateSnapshotInput, opts ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	DescribeNetworkInterfaces(ctx context.Context, in *ec2.DescribeNetworkInterfacesInput, opts ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
	ModifyNetworkInterfaceAttribute(ctx context.Context, in *ec2.ModifyNetworkInterfaceAttributeInput, opts ...func(*ec2.Options)) (*ec2.ModifyNetworkInterfaceAttributeOutput, error)
	DescribeSecurityGroups(ctx context.Context, in *ec2.DescribeSecurityGroupsInput, opts ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	CreateSecurityGroup(ctx context.Context, in *ec2.CreateSecurityGroupInput, opts ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	RevokeSecurityGroupEgress(ctx context.Context, in *ec2.RevokeSecurityGroupEgressInput, opts ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupEgressOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, opts ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DescribeIamInstanceProfileAssociations(ctx context.Context, in *ec2.DescribeIamInstanceProfileAssociationsInput, opts ...func(*ec2.Options)) (*ec2.DescribeIamInstanceProfileAssociationsOutput, error)
	AssociateIamInstanceProfile(ctx context.Context, in *ec2.AssociateIamInstanceProfileInput, opts ...func(*ec2.Options)) (*ec2.AssociateIamInstanceProfileOutput, error)
	DisassociateIamInstanceProfile(ctx context.Context, in *ec2.DisassociateIamInstanceProfileInput, opts ...func(*ec2.Options)) (*ec2.DisassociateIamInstanceProfileOutput, error)
}

// Compute implements cloud.Compute on EC2.
type Compute struct {
	client EC2API
}

// NewCompute wraps an EC2 client.
func NewCompute(client EC2API) *Compute {
	return &Compute{client: client}
}

// DescribeInstance implements cloud.Compute.
func (c *Compute) DescribeInstance(ctx context.Context, instanceID string) (*cloud.Instance, error) {
	out, err := c.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, err
	}

	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) != instanceID {
				continue
			}
			raw, err := json.Marshal(inst)
			if err != nil {
				return nil, fmt.Errorf("encoding instance descriptor: %w", err)
			}

			result := &cloud.Instance{ID: instanceID, Raw: raw}
			for _, bd := range inst.BlockDeviceMappings {
				dev := cloud.BlockDevice{DeviceName: aws.ToString(bd.DeviceName)}
				if bd.Ebs != nil {
					dev.VolumeID = aws.ToString(bd.Ebs.VolumeId)
				}
				result.BlockDevices = append(result.BlockDevices, dev)
			}
			return result, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", cloud.ErrInstanceNotFound, instanceID)
}

// ConsoleScreenshot implements cloud.Compute.
func (c *Compute) ConsoleScreenshot(ctx context.Context, instanceID string) ([]byte, error) {
	out, err := c.client.GetConsoleScreenshot(ctx, &ec2.GetConsoleScreenshotInput{
		InstanceId: aws.String(instanceID),
		WakeUp:     aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	image, err := base64.StdEncoding.DecodeString(aws.ToString(out.ImageData))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	return image, nil
}

// ModifyAttribute implements cloud.Compute.
func (c *Compute) ModifyAttribute(ctx context.Context, instanceID string, attr cloud.Attribute, value string) error {
	in := &ec2.ModifyInstanceAttributeInput{InstanceId: aws.String(instanceID)}

	switch attr {
	case cloud.AttrDisableAPITermination, cloud.AttrDisableAPIStop:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", attr, value)
		}
		v := &types.AttributeBooleanValue{Value: aws.Bool(b)}
		if attr == cloud.AttrDisableAPITermination {
			in.DisableApiTermination = v
		} else {
			in.DisableApiStop = v
		}
	case cloud.AttrShutdownBehavior:
		in.InstanceInitiatedShutdownBehavior = &types.AttributeValue{Value: aws.String(value)}
	default:
		return fmt.Errorf("unsupported instance attribute %q", attr)
	}

	_, err := c.client.ModifyInstanceAttribute(ctx, in)
	return err
}

// DisableDeleteOnTermination implements cloud.Compute.
func (c *Compute) DisableDeleteOnTermination(ctx context.Context, instanceID string, deviceNames []string) error {
	mappings := make([]types.InstanceBlockDeviceMappingSpecification, 0, len(deviceNames))
	for _, name := range deviceNames {
		mappings = append(mappings, types.InstanceBlockDeviceMappingSpecification{
			DeviceName: aws.String(name),
			Ebs:        &types.EbsInstanceBlockDeviceSpecification{DeleteOnTermination: aws.Bool(false)},
		})
	}

	_, err := c.client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
		InstanceId:          aws.String(instanceID),
		BlockDeviceMappings: mappings,
	})
	return err
}

// CreateSnapshot implements cloud.Compute.
func (c *Compute) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	out, err := c.client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(description),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.SnapshotId), nil
}

// DescribeNetworkInterfaces implements cloud.Compute.
func (c *Compute) DescribeNetworkInterfaces(ctx context.Context, instanceID string) ([]cloud.NetworkAttachment, error) {
	paginator := ec2.NewDescribeNetworkInterfacesPaginator(c.client, &ec2.DescribeNetworkInterfacesInput{
		Filters: []types.Filter{
			{Name: aws.String("attachment.instance-id"), Values: []string{instanceID}},
			{Name: aws.String("attachment.status"), Values: []string{"attaching", "attached"}},
		},
	})

	var out []cloud.NetworkAttachment
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, ni := range page.NetworkInterfaces {
			out = append(out, cloud.NetworkAttachment{
				InterfaceID: aws.ToString(ni.NetworkInterfaceId),
				NetworkID:   aws.ToString(ni.VpcId),
			})
		}
	}
	return out, nil
}

// SetInterfaceSecurityGroups implements cloud.Compute.
func (c *Compute) SetInterfaceSecurityGroups(ctx context.Context, interfaceID string, groupIDs []string) error {
	_, err := c.client.ModifyNetworkInterfaceAttribute(ctx, &ec2.ModifyNetworkInterfaceAttributeInput{
		NetworkInterfaceId: aws.String(interfaceID),
		Groups:             groupIDs,
	})
	return err
}

// DescribeSecurityGroups implements cloud.Compute.
func (c *Compute) DescribeSecurityGroups(ctx context.Context, filter cloud.SecurityGroupFilter) ([]cloud.SecurityGroup, error) {
	var filters []types.Filter
	if filter.NetworkID != "" {
		filters = append(filters, types.Filter{Name: aws.String("vpc-id"), Values: []string{filter.NetworkID}})
	}
	for k, v := range filter.Tags {
		filters = append(filters, types.Filter{Name: aws.String("tag:" + k), Values: []string{v}})
	}

	out, err := c.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{Filters: filters})
	if err != nil {
		return nil, err
	}

	groups := make([]cloud.SecurityGroup, 0, len(out.SecurityGroups))
	for _, sg := range out.SecurityGroups {
		groups = append(groups, cloud.SecurityGroup{
			GroupID:     aws.ToString(sg.GroupId),
			Name:        aws.ToString(sg.GroupName),
			NetworkID:   aws.ToString(sg.VpcId),
			EgressRules: len(sg.IpPermissionsEgress),
			Tags:        fromEC2Tags(sg.Tags),
		})
	}
	return groups, nil
}

// CreateSecurityGroup implements cloud.Compute.
func (c *Compute) CreateSecurityGroup(ctx context.Context, name, description, networkID string, tags []cloud.Tag) (string, error) {
	out, err := c.client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String(description),
		VpcId:       aws.String(networkID),
		TagSpecifications: []types.TagSpecification{{
			ResourceType: types.ResourceTypeSecurityGroup,
			Tags:         toEC2Tags(tags),
		}},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.GroupId), nil
}

// RevokeAllEgress implements cloud.Compute. The group's current egress
// permissions are read back and revoked as a whole.
func (c *Compute) RevokeAllEgress(ctx context.Context, groupID string) error {
	out, err := c.client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		GroupIds: []string{groupID},
	})
	if err != nil {
		return err
	}
	if len(out.SecurityGroups) == 0 {
		return fmt.Errorf("security group %s not found", groupID)
	}

	perms := out.SecurityGroups[0].IpPermissionsEgress
	if len(perms) == 0 {
		return nil
	}
	_, err = c.client.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
		GroupId:       aws.String(groupID),
		IpPermissions: perms,
	})
	return err
}

// CreateTags implements cloud.Compute.
func (c *Compute) CreateTags(ctx context.Context, resourceID string, tags []cloud.Tag) error {
	_, err := c.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      toEC2Tags(tags),
	})
	return err
}

// DescribeRoleAssociations implements cloud.Compute.
func (c *Compute) DescribeRoleAssociations(ctx context.Context, instanceID string) ([]cloud.RoleAssociation, error) {
	out, err := c.client.DescribeIamInstanceProfileAssociations(ctx, &ec2.DescribeIamInstanceProfileAssociationsInput{
		Filters: []types.Filter{
			{Name: aws.String("instance-id"), Values: []string{instanceID}},
			{Name: aws.String("state"), Values: []string{"associating", "associated"}},
		},
	})
	if err != nil {
		return nil, err
	}

	assocs := make([]cloud.RoleAssociation, 0, len(out.IamInstanceProfileAssociations))
	for _, a := range out.IamInstanceProfileAssociations {
		ra := cloud.RoleAssociation{
			AssociationID: aws.ToString(a.AssociationId),
			State:         string(a.State),
		}
		if a.IamInstanceProfile != nil {
			ra.ProfileARN = aws.ToString(a.IamInstanceProfile.Arn)
		}
		assocs = append(assocs, ra)
	}
	return assocs, nil
}

// AssociateRole implements cloud.Compute.
func (c *Compute) AssociateRole(ctx context.Context, instanceID, profileARN string) (string, error) {
	out, err := c.client.AssociateIamInstanceProfile(ctx, &ec2.AssociateIamInstanceProfileInput{
		InstanceId:         aws.String(instanceID),
		IamInstanceProfile: &types.IamInstanceProfileSpecification{Arn: aws.String(profileARN)},
	})
	if err != nil {
		return "", err
	}
	if out.IamInstanceProfileAssociation == nil {
		return "", fmt.Errorf("no association returned for %s", instanceID)
	}
	return aws.ToString(out.IamInstanceProfileAssociation.AssociationId), nil
}

// DisassociateRole implements cloud.Compute.
func (c *Compute) DisassociateRole(ctx context.Context, associationID string) error {
	_, err := c.client.DisassociateIamInstanceProfile(ctx, &ec2.DisassociateIamInstanceProfileInput{
		AssociationId: aws.String(associationID),
	})
	return err
}

func toEC2Tags(tags []cloud.Tag) []types.Tag {
	out := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, types.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	return out
}

func fromEC2Tags(tags []types.Tag) []cloud.Tag {
	out := make([]cloud.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, cloud.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
	}
	return out
}
