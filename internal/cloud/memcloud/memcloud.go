// Package memcloud provides an in-memory simulated cloud implementing every
// collaborator interface in package cloud. It keeps enough state to observe
// the effect of quarantine runs (groups, interface membership, snapshots,
// profile associations, published notifications) and supports per-operation
// fault injection.
package memcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lvonguyen/quarantine/internal/cloud"
)

// Load balancer registry kinds.
const (
	KindClassic     = "classic load balancer"
	KindTargetGroup = "target group"
)

// Instance is a simulated compute instance.
type Instance struct {
	ID                  string
	Attributes          map[string]string
	Tags                map[string]string
	BlockDevices        []cloud.BlockDevice
	DeleteOnTermination map[string]bool
}

// Interface is a simulated network interface.
type Interface struct {
	ID         string
	InstanceID string
	NetworkID  string
	Groups     []string
}

// Group is a simulated security group.
type Group struct {
	ID          string
	Name        string
	Description string
	NetworkID   string
	Tags        []cloud.Tag
	EgressRules int
}

// Snapshot is a created volume snapshot.
type Snapshot struct {
	ID          string
	VolumeID    string
	Description string
}

// Association is an instance profile association.
type Association struct {
	ID         string
	InstanceID string
	ProfileARN string
}

// Object is a stored artifact.
type Object struct {
	Key      string
	Body     []byte
	Metadata map[string]string
}

// Message is a published notification.
type Message struct {
	InstanceID string
	Message    string
	Body       string
}

// Cloud is the simulated provider. The zero value is not usable; call New.
type Cloud struct {
	mu sync.Mutex

	seq          int
	instances    map[string]*Instance
	interfaces   map[string]*Interface
	ifaceOrder   []string
	groups       map[string]*Group
	snapshots    []Snapshot
	associations map[string]*Association
	asg          map[string][]string
	balancers    map[string]map[string][]string
	managed      map[string]bool
	objects      map[string]Object
	published    []Message
	commands     []cloud.CommandRequest
	faults       map[string]error
	calls        map[string]int
}

// New creates an empty simulated cloud.
func New() *Cloud {
	return &Cloud{
		instances:    make(map[string]*Instance),
		interfaces:   make(map[string]*Interface),
		groups:       make(map[string]*Group),
		associations: make(map[string]*Association),
		asg:          make(map[string][]string),
		balancers: map[string]map[string][]string{
			KindClassic:     {},
			KindTargetGroup: {},
		},
		managed: make(map[string]bool),
		objects: make(map[string]Object),
		faults:  make(map[string]error),
		calls:   make(map[string]int),
	}
}

// =============================================================================
// Seeding
// =============================================================================

// AddInstance registers an instance with the given block devices.
func (c *Cloud) AddInstance(id string, devices ...cloud.BlockDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dot := make(map[string]bool, len(devices))
	for _, d := range devices {
		dot[d.DeviceName] = true
	}
	c.instances[id] = &Instance{
		ID:                  id,
		Attributes:          make(map[string]string),
		Tags:                make(map[string]string),
		BlockDevices:        append([]cloud.BlockDevice(nil), devices...),
		DeleteOnTermination: dot,
	}
}

// AddInterface attaches a network interface to an instance.
func (c *Cloud) AddInterface(instanceID, interfaceID, networkID string, groups ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.interfaces[interfaceID] = &Interface{
		ID:         interfaceID,
		InstanceID: instanceID,
		NetworkID:  networkID,
		Groups:     append([]string(nil), groups...),
	}
	c.ifaceOrder = append(c.ifaceOrder, interfaceID)
}

// AddSecurityGroup registers an existing group. An empty ID is assigned.
func (c *Cloud) AddSecurityGroup(g Group) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g.ID == "" {
		g.ID = c.nextID("sg")
	}
	g.Tags = append([]cloud.Tag(nil), g.Tags...)
	c.groups[g.ID] = &g
	return g.ID
}

// AddAssociation associates a profile with an instance and returns its id.
func (c *Cloud) AddAssociation(instanceID, profileARN string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID("iip-assoc")
	c.associations[id] = &Association{ID: id, InstanceID: instanceID, ProfileARN: profileARN}
	return id
}

// AddToAutoScalingGroup makes the instance a member of group.
func (c *Cloud) AddToAutoScalingGroup(instanceID, group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asg[instanceID] = append(c.asg[instanceID], group)
}

// AddBalancerMembers registers instances with a load balancer or target group.
// Calling it with no instances creates an empty registry entry.
func (c *Cloud) AddBalancerMembers(kind, group string, instanceIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balancers[kind][group] = append(c.balancers[kind][group], instanceIDs...)
}

// SetManaged marks the instance as remotely manageable.
func (c *Cloud) SetManaged(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.managed[instanceID] = true
}

// FailOn makes op return err. The key is either the operation name
// ("CreateSecurityGroup") or the operation scoped to its first argument
// ("CreateSecurityGroup:vpc-a").
func (c *Cloud) FailOn(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[key] = err
}

// =============================================================================
// Inspection
// =============================================================================

// Instance returns a copy of the instance state.
func (c *Cloud) Instance(id string) (Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inst, ok := c.instances[id]
	if !ok {
		return Instance{}, false
	}
	cp := *inst
	cp.Attributes = copyMap(inst.Attributes)
	cp.Tags = copyMap(inst.Tags)
	cp.DeleteOnTermination = make(map[string]bool, len(inst.DeleteOnTermination))
	for k, v := range inst.DeleteOnTermination {
		cp.DeleteOnTermination[k] = v
	}
	return cp, true
}

// Interface returns a copy of the interface state.
func (c *Cloud) Interface(id string) (Interface, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ni, ok := c.interfaces[id]
	if !ok {
		return Interface{}, false
	}
	cp := *ni
	cp.Groups = append([]string(nil), ni.Groups...)
	return cp, true
}

// Groups returns all security groups sorted by id.
func (c *Cloud) Groups() []Group {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Group, 0, len(c.groups))
	for _, g := range c.groups {
		cp := *g
		cp.Tags = append([]cloud.Tag(nil), g.Tags...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshots returns every snapshot created so far.
func (c *Cloud) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Snapshot(nil), c.snapshots...)
}

// Associations returns the active profile associations of an instance.
func (c *Cloud) Associations(instanceID string) []Association {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.associationsLocked(instanceID)
}

// AutoScalingGroups returns the groups the instance still belongs to.
func (c *Cloud) AutoScalingGroups(instanceID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.asg[instanceID]...)
}

// BalancerMembers returns the members of a load balancer or target group.
func (c *Cloud) BalancerMembers(kind, group string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.balancers[kind][group]...)
}

// Object returns a stored artifact by full key.
func (c *Cloud) Object(key string) (Object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objects[key]
	return obj, ok
}

// Published returns every notification in publish order.
func (c *Cloud) Published() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.published...)
}

// Commands returns every command request sent.
func (c *Cloud) Commands() []cloud.CommandRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]cloud.CommandRequest(nil), c.commands...)
}

// Calls returns how many times op was invoked.
func (c *Cloud) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// =============================================================================
// Compute
// =============================================================================

// DescribeInstance implements cloud.Compute.
func (c *Cloud) DescribeInstance(ctx context.Context, instanceID string) (*cloud.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "DescribeInstance", instanceID); err != nil {
		return nil, err
	}
	inst, err := c.instanceLocked(instanceID)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(map[string]any{
		"InstanceId": inst.ID,
		"Tags":       inst.Tags,
		"Attributes": inst.Attributes,
		"Devices":    inst.BlockDevices,
	})
	if err != nil {
		return nil, err
	}
	return &cloud.Instance{
		ID:           inst.ID,
		BlockDevices: append([]cloud.BlockDevice(nil), inst.BlockDevices...),
		Raw:          raw,
	}, nil
}

// ConsoleScreenshot implements cloud.Compute.
func (c *Cloud) ConsoleScreenshot(ctx context.Context, instanceID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "ConsoleScreenshot", instanceID); err != nil {
		return nil, err
	}
	if _, err := c.instanceLocked(instanceID); err != nil {
		return nil, err
	}
	return []byte("\xff\xd8\xff\xe0screenshot:" + instanceID), nil
}

// ModifyAttribute implements cloud.Compute.
func (c *Cloud) ModifyAttribute(ctx context.Context, instanceID string, attr cloud.Attribute, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "ModifyAttribute", instanceID, string(attr)); err != nil {
		return err
	}
	inst, err := c.instanceLocked(instanceID)
	if err != nil {
		return err
	}
	inst.Attributes[string(attr)] = value
	return nil
}

// DisableDeleteOnTermination implements cloud.Compute.
func (c *Cloud) DisableDeleteOnTermination(ctx context.Context, instanceID string, deviceNames []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "DisableDeleteOnTermination", instanceID); err != nil {
		return err
	}
	inst, err := c.instanceLocked(instanceID)
	if err != nil {
		return err
	}
	for _, name := range deviceNames {
		if _, ok := inst.DeleteOnTermination[name]; !ok {
			return fmt.Errorf("InvalidInstanceAttributeValue: no device %s on %s", name, instanceID)
		}
	}
	for _, name := range deviceNames {
		inst.DeleteOnTermination[name] = false
	}
	return nil
}

// CreateSnapshot implements cloud.Compute.
func (c *Cloud) CreateSnapshot(ctx context.Context, volumeID, description string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "CreateSnapshot", volumeID); err != nil {
		return "", err
	}
	id := c.nextID("snap")
	c.snapshots = append(c.snapshots, Snapshot{ID: id, VolumeID: volumeID, Description: description})
	return id, nil
}

// DescribeNetworkInterfaces implements cloud.Compute.
func (c *Cloud) DescribeNetworkInterfaces(ctx context.Context, instanceID string) ([]cloud.NetworkAttachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "DescribeNetworkInterfaces", instanceID); err != nil {
		return nil, err
	}
	var out []cloud.NetworkAttachment
	for _, id := range c.ifaceOrder {
		ni := c.interfaces[id]
		if ni.InstanceID == instanceID {
			out = append(out, cloud.NetworkAttachment{InterfaceID: ni.ID, NetworkID: ni.NetworkID})
		}
	}
	return out, nil
}

// SetInterfaceSecurityGroups implements cloud.Compute.
func (c *Cloud) SetInterfaceSecurityGroups(ctx context.Context, interfaceID string, groupIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "SetInterfaceSecurityGroups", interfaceID); err != nil {
		return err
	}
	ni, ok := c.interfaces[interfaceID]
	if !ok {
		return fmt.Errorf("InvalidNetworkInterfaceID.NotFound: %s", interfaceID)
	}
	for _, id := range groupIDs {
		g, ok := c.groups[id]
		if !ok {
			return fmt.Errorf("InvalidGroup.NotFound: %s", id)
		}
		if g.NetworkID != ni.NetworkID {
			return fmt.Errorf("InvalidGroup.NotFound: %s is not in %s", id, ni.NetworkID)
		}
	}
	ni.Groups = append([]string(nil), groupIDs...)
	return nil
}

// DescribeSecurityGroups implements cloud.Compute.
func (c *Cloud) DescribeSecurityGroups(ctx context.Context, filter cloud.SecurityGroupFilter) ([]cloud.SecurityGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "DescribeSecurityGroups", filter.NetworkID); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []cloud.SecurityGroup
	for _, id := range ids {
		g := c.groups[id]
		if filter.NetworkID != "" && g.NetworkID != filter.NetworkID {
			continue
		}
		if !hasTags(g.Tags, filter.Tags) {
			continue
		}
		out = append(out, cloud.SecurityGroup{
			GroupID:     g.ID,
			Name:        g.Name,
			NetworkID:   g.NetworkID,
			EgressRules: g.EgressRules,
			Tags:        append([]cloud.Tag(nil), g.Tags...),
		})
	}
	return out, nil
}

// CreateSecurityGroup implements cloud.Compute. New groups carry the
// provider's default allow-all egress rule and no ingress rules.
func (c *Cloud) CreateSecurityGroup(ctx context.Context, name, description, networkID string, tags []cloud.Tag) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "CreateSecurityGroup", networkID); err != nil {
		return "", err
	}
	for _, g := range c.groups {
		if g.NetworkID == networkID && g.Name == name {
			return "", fmt.Errorf("InvalidGroup.Duplicate: %s already exists in %s", name, networkID)
		}
	}
	id := c.nextID("sg")
	c.groups[id] = &Group{
		ID:          id,
		Name:        name,
		Description: description,
		NetworkID:   networkID,
		Tags:        append([]cloud.Tag(nil), tags...),
		EgressRules: 1,
	}
	return id, nil
}

// RevokeAllEgress implements cloud.Compute.
func (c *Cloud) RevokeAllEgress(ctx context.Context, groupID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "RevokeAllEgress", groupID); err != nil {
		return err
	}
	g, ok := c.groups[groupID]
	if !ok {
		return fmt.Errorf("InvalidGroup.NotFound: %s", groupID)
	}
	if g.EgressRules == 0 {
		return fmt.Errorf("InvalidPermission.NotFound: %s has no egress rules", groupID)
	}
	g.EgressRules = 0
	return nil
}

// CreateTags implements cloud.Compute.
func (c *Cloud) CreateTags(ctx context.Context, resourceID string, tags []cloud.Tag) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "CreateTags", resourceID); err != nil {
		return err
	}
	if inst, ok := c.instances[resourceID]; ok {
		for _, t := range tags {
			inst.Tags[t.Key] = t.Value
		}
		return nil
	}
	if g, ok := c.groups[resourceID]; ok {
		for _, t := range tags {
			g.Tags = setTag(g.Tags, t)
		}
		return nil
	}
	return fmt.Errorf("InvalidID: %s", resourceID)
}

// DescribeRoleAssociations implements cloud.Compute.
func (c *Cloud) DescribeRoleAssociations(ctx context.Context, instanceID string) ([]cloud.RoleAssociation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "DescribeRoleAssociations", instanceID); err != nil {
		return nil, err
	}
	var out []cloud.RoleAssociation
	for _, a := range c.associationsLocked(instanceID) {
		out = append(out, cloud.RoleAssociation{AssociationID: a.ID, ProfileARN: a.ProfileARN, State: "associated"})
	}
	return out, nil
}

// AssociateRole implements cloud.Compute. Like the real API it refuses a
// second association on the same instance.
func (c *Cloud) AssociateRole(ctx context.Context, instanceID, profileARN string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "AssociateRole", instanceID); err != nil {
		return "", err
	}
	if _, err := c.instanceLocked(instanceID); err != nil {
		return "", err
	}
	if len(c.associationsLocked(instanceID)) > 0 {
		return "", fmt.Errorf("IncorrectState: %s already has an instance profile association", instanceID)
	}
	id := c.nextID("iip-assoc")
	c.associations[id] = &Association{ID: id, InstanceID: instanceID, ProfileARN: profileARN}
	return id, nil
}

// DisassociateRole implements cloud.Compute.
func (c *Cloud) DisassociateRole(ctx context.Context, associationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "DisassociateRole", associationID); err != nil {
		return err
	}
	if _, ok := c.associations[associationID]; !ok {
		return fmt.Errorf("InvalidAssociationID.NotFound: %s", associationID)
	}
	delete(c.associations, associationID)
	return nil
}

// =============================================================================
// Autoscaling, load balancing, remote execution, storage, notifications
// =============================================================================

// AutoScaling returns the autoscaling API view.
func (c *Cloud) AutoScaling() cloud.AutoScaling { return autoScaling{c} }

// Classic returns the classic load balancer view.
func (c *Cloud) Classic() cloud.LoadBalancer { return balancer{c, KindClassic} }

// TargetGroups returns the target group view.
func (c *Cloud) TargetGroups() cloud.LoadBalancer { return balancer{c, KindTargetGroup} }

type autoScaling struct{ c *Cloud }

func (a autoScaling) DescribeMemberships(ctx context.Context, instanceID string) ([]string, error) {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()

	if err := a.c.enter(ctx, "DescribeMemberships", instanceID); err != nil {
		return nil, err
	}
	return append([]string(nil), a.c.asg[instanceID]...), nil
}

func (a autoScaling) Detach(ctx context.Context, instanceID, group string, decrementCapacity bool) error {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()

	if err := a.c.enter(ctx, "Detach", group); err != nil {
		return err
	}
	if decrementCapacity {
		return fmt.Errorf("ValidationError: simulated groups do not shrink")
	}
	groups, ok := remove(a.c.asg[instanceID], group)
	if !ok {
		return fmt.Errorf("ValidationError: %s is not part of %s", instanceID, group)
	}
	a.c.asg[instanceID] = groups
	return nil
}

type balancer struct {
	c    *Cloud
	kind string
}

func (b balancer) Kind() string { return b.kind }

func (b balancer) List(ctx context.Context) ([]string, error) {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	if err := b.c.enter(ctx, "List", b.kind); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(b.c.balancers[b.kind]))
	for name := range b.c.balancers[b.kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (b balancer) Members(ctx context.Context, group string) ([]string, error) {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	if err := b.c.enter(ctx, "Members", group); err != nil {
		return nil, err
	}
	return append([]string(nil), b.c.balancers[b.kind][group]...), nil
}

func (b balancer) Deregister(ctx context.Context, group, instanceID string) error {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	if err := b.c.enter(ctx, "Deregister", group); err != nil {
		return err
	}
	members, ok := remove(b.c.balancers[b.kind][group], instanceID)
	if !ok {
		return fmt.Errorf("InvalidTarget: %s is not registered with %s", instanceID, group)
	}
	b.c.balancers[b.kind][group] = members
	return nil
}

// DescribeManaged implements cloud.RemoteExec.
func (c *Cloud) DescribeManaged(ctx context.Context, instanceID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "DescribeManaged", instanceID); err != nil {
		return nil, err
	}
	if c.managed[instanceID] {
		return []string{instanceID}, nil
	}
	return nil, nil
}

// SendCommand implements cloud.RemoteExec.
func (c *Cloud) SendCommand(ctx context.Context, req cloud.CommandRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "SendCommand", req.InstanceID); err != nil {
		return "", err
	}
	req.Commands = append([]string(nil), req.Commands...)
	c.commands = append(c.commands, req)
	return c.nextID("cmd"), nil
}

// WaitExecuted implements cloud.RemoteExec.
func (c *Cloud) WaitExecuted(ctx context.Context, commandID, instanceID string, poll time.Duration, maxAttempts int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enter(ctx, "WaitExecuted", instanceID)
}

// PutObject implements cloud.Storage.
func (c *Cloud) PutObject(ctx context.Context, instanceID, key string, body []byte, metadata map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "PutObject", key); err != nil {
		return err
	}
	full := instanceID + "/" + key
	c.objects[full] = Object{Key: full, Body: append([]byte(nil), body...), Metadata: copyMap(metadata)}
	return nil
}

// Publish implements cloud.Notifier.
func (c *Cloud) Publish(ctx context.Context, instanceID, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.enter(ctx, "Publish", instanceID); err != nil {
		return err
	}
	body, err := cloud.EncodeEnvelope(instanceID, message)
	if err != nil {
		return err
	}
	c.published = append(c.published, Message{InstanceID: instanceID, Message: message, Body: body})
	return nil
}

// =============================================================================
// helpers (callers hold c.mu)
// =============================================================================

func (c *Cloud) enter(ctx context.Context, op string, args ...string) error {
	c.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, arg := range args {
		if err, ok := c.faults[op+":"+arg]; ok {
			return err
		}
	}
	if err, ok := c.faults[op]; ok {
		return err
	}
	return nil
}

func (c *Cloud) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%04d", prefix, c.seq)
}

func (c *Cloud) instanceLocked(id string) (*Instance, error) {
	inst, ok := c.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", cloud.ErrInstanceNotFound, id)
	}
	return inst, nil
}

func (c *Cloud) associationsLocked(instanceID string) []Association {
	var out []Association
	for _, a := range c.associations {
		if a.InstanceID == instanceID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func hasTags(tags []cloud.Tag, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, t := range tags {
			if t.Key == k && t.Value == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func setTag(tags []cloud.Tag, tag cloud.Tag) []cloud.Tag {
	for i, t := range tags {
		if t.Key == tag.Key {
			tags[i] = tag
			return tags
		}
	}
	return append(tags, tag)
}

func remove(list []string, value string) ([]string, bool) {
	for i, v := range list {
		if v == value {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
