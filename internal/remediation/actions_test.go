package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/lvonguyen/quarantine/internal/cloud"
	"github.com/lvonguyen/quarantine/internal/cloud/memcloud"
)

var errInjected = errors.New("injected failure")

func run(t *testing.T, factory Factory, deps *Deps) Result {
	t.Helper()
	action, err := factory(deps, testTarget())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return action.Execute(context.Background())
}

// =============================================================================
// Evidence Tests
// =============================================================================

// TestConsoleScreenshot_Stored verifies the image lands under the instance prefix.
func TestConsoleScreenshot_Stored(t *testing.T) {
	mc, deps := newFixture(t)

	res := run(t, NewConsoleScreenshot, deps)
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}

	key := "console_screenshot_" + testInstance + ".jpg"
	if res.Message != "Successfully captured console screen shot: "+key {
		t.Errorf("unexpected message %q", res.Message)
	}
	obj, ok := mc.Object(testInstance + "/" + key)
	if !ok {
		t.Fatal("screenshot not stored")
	}
	if obj.Metadata["instance_id"] != testInstance {
		t.Errorf("expected instance_id metadata, got %v", obj.Metadata)
	}
}

// TestConsoleScreenshot_Failure verifies a provider error becomes a message.
func TestConsoleScreenshot_Failure(t *testing.T) {
	mc, deps := newFixture(t)
	mc.FailOn("ConsoleScreenshot", errInjected)

	res := run(t, NewConsoleScreenshot, deps)
	if !res.Failed() {
		t.Fatal("expected failure")
	}
	if res.Message != "Unable to get screenshot from instance "+testInstance {
		t.Errorf("unexpected message %q", res.Message)
	}
}

// TestCaptureMetadata_Stored verifies the descriptor is stored as JSON.
func TestCaptureMetadata_Stored(t *testing.T) {
	mc, deps := newFixture(t)

	res := run(t, NewCaptureMetadata, deps)
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}

	obj, ok := mc.Object(testInstance + "/metadata_file_" + testInstance + ".json")
	if !ok {
		t.Fatal("metadata not stored")
	}
	var doc map[string]any
	if err := json.Unmarshal(obj.Body, &doc); err != nil {
		t.Fatalf("metadata is not JSON: %v", err)
	}
	if doc["InstanceId"] != testInstance {
		t.Errorf("expected InstanceId %s, got %v", testInstance, doc["InstanceId"])
	}
}

// TestCaptureMetadata_UploadFailure verifies storage errors are reported.
func TestCaptureMetadata_UploadFailure(t *testing.T) {
	mc, deps := newFixture(t)
	mc.FailOn("PutObject", errInjected)

	res := run(t, NewCaptureMetadata, deps)
	if !res.Failed() || !strings.HasPrefix(res.Message, "Unable to capture instance metadata") {
		t.Errorf("unexpected result %+v", res)
	}
}

// =============================================================================
// Protection Tests
// =============================================================================

// TestTerminationProtection verifies both termination and stop are disabled.
func TestTerminationProtection(t *testing.T) {
	mc, deps := newFixture(t)

	res := run(t, NewTerminationProtection, deps)
	if res.Message != "Enabled termination protection on "+testInstance {
		t.Errorf("unexpected message %q", res.Message)
	}

	inst, _ := mc.Instance(testInstance)
	for _, attr := range []cloud.Attribute{cloud.AttrDisableAPITermination, cloud.AttrDisableAPIStop} {
		if inst.Attributes[string(attr)] != "true" {
			t.Errorf("expected %s=true, got %q", attr, inst.Attributes[string(attr)])
		}
	}
}

// TestTerminationProtection_Failure verifies a failed attribute is reported.
func TestTerminationProtection_Failure(t *testing.T) {
	mc, deps := newFixture(t)
	mc.FailOn("ModifyAttribute:"+string(cloud.AttrDisableAPIStop), errInjected)

	res := run(t, NewTerminationProtection, deps)
	if !res.Failed() {
		t.Fatal("expected failure")
	}
	if res.Message != "Failed to enable termination protection on "+testInstance {
		t.Errorf("unexpected message %q", res.Message)
	}
}

// TestTerminationProtection_Idempotent verifies a second run leaves the
// same protection in place.
func TestTerminationProtection_Idempotent(t *testing.T) {
	mc, deps := newFixture(t)

	first := run(t, NewTerminationProtection, deps)
	once, _ := mc.Instance(testInstance)
	second := run(t, NewTerminationProtection, deps)
	twice, _ := mc.Instance(testInstance)

	if first.Failed() || second.Failed() || first.Message != second.Message {
		t.Errorf("runs differ: %+v vs %+v", first, second)
	}
	if !reflect.DeepEqual(once.Attributes, twice.Attributes) {
		t.Errorf("attributes changed on second run: %v vs %v", once.Attributes, twice.Attributes)
	}
}

// TestShutdownBehavior verifies OS shutdown stops the instance.
func TestShutdownBehavior(t *testing.T) {
	mc, deps := newFixture(t)

	res := run(t, NewShutdownBehavior, deps)
	if res.Failed() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	inst, _ := mc.Instance(testInstance)
	if got := inst.Attributes[string(cloud.AttrShutdownBehavior)]; got != "stop" {
		t.Errorf("expected shutdown behavior stop, got %q", got)
	}
}

// TestTagInstance_Idempotent verifies repeated tagging yields the same set.
func TestTagInstance_Idempotent(t *testing.T) {
	mc, deps := newFixture(t)

	for i := 0; i < 2; i++ {
		res := run(t, NewTagInstance, deps)
		if res.Message != "Added incident tags to instance "+testInstance {
			t.Errorf("run %d: unexpected message %q", i, res.Message)
		}
	}

	inst, _ := mc.Instance(testInstance)
	want := map[string]string{
		cloud.TagStatus:        cloud.StatusQuarantined,
		cloud.TagContainedAt:   "2026-03-01T12:00:00Z",
		cloud.TagFindingID:     "finding-42",
		cloud.TagFindingSource: DefaultFindingSource,
	}
	if len(inst.Tags) != len(want) {
		t.Errorf("expected %d tags, got %v", len(want), inst.Tags)
	}
	for k, v := range want {
		if inst.Tags[k] != v {
			t.Errorf("tag %s: expected %q, got %q", k, v, inst.Tags[k])
		}
	}
}

// =============================================================================
// Volume Tests
// =============================================================================

// TestPreserveVolumes verifies attached volumes survive termination.
func TestPreserveVolumes(t *testing.T) {
	mc, deps := newFixture(t)

	res := run(t, NewPreserveVolumes, deps)
	if !strings.HasPrefix(res.Message, "Enabled volume termination protection on attached volumes") {
		t.Errorf("unexpected message %q", res.Message)
	}

	inst, _ := mc.Instance(testInstance)
	for dev, del := range inst.DeleteOnTermination {
		if del {
			t.Errorf("device %s still deletes on termination", dev)
		}
	}
}

// TestPreserveVolumes_Idempotent verifies a second run leaves every
// device preserved.
func TestPreserveVolumes_Idempotent(t *testing.T) {
	mc, deps := newFixture(t)

	first := run(t, NewPreserveVolumes, deps)
	once, _ := mc.Instance(testInstance)
	second := run(t, NewPreserveVolumes, deps)
	twice, _ := mc.Instance(testInstance)

	if first.Failed() || second.Failed() || first.Message != second.Message {
		t.Errorf("runs differ: %+v vs %+v", first, second)
	}
	if len(twice.DeleteOnTermination) != 2 || !reflect.DeepEqual(once.DeleteOnTermination, twice.DeleteOnTermination) {
		t.Errorf("device state changed on second run: %v vs %v", once.DeleteOnTermination, twice.DeleteOnTermination)
	}
}

// TestPreserveVolumes_NoDevices verifies nothing is reported without devices.
func TestPreserveVolumes_NoDevices(t *testing.T) {
	mc := memcloud.New()
	mc.AddInstance(testInstance)

	res := run(t, NewPreserveVolumes, &Deps{Compute: mc})
	if !res.Empty() || res.Failed() {
		t.Errorf("expected empty result, got %+v", res)
	}
	if mc.Calls("DisableDeleteOnTermination") != 0 {
		t.Error("no modification expected without devices")
	}
}

// TestSnapshotVolumes_RepeatDuplicates verifies each run snapshots again.
func TestSnapshotVolumes_RepeatDuplicates(t *testing.T) {
	mc, deps := newFixture(t)

	res := run(t, NewSnapshotVolumes, deps)
	if res.Message != "Snapshotted EBS volumes [vol-root vol-data] on instance "+testInstance {
		t.Errorf("unexpected message %q", res.Message)
	}
	run(t, NewSnapshotVolumes, deps)

	snaps := mc.Snapshots()
	if len(snaps) != 4 {
		t.Fatalf("expected 4 snapshots after two runs, got %d", len(snaps))
	}
	if snaps[0].Description != "Security Response automated copy of vol-root for instance "+testInstance {
		t.Errorf("unexpected description %q", snaps[0].Description)
	}
}

// TestSnapshotVolumes_PartialFailure verifies one failed volume does not
// stop the others.
func TestSnapshotVolumes_PartialFailure(t *testing.T) {
	mc, deps := newFixture(t)
	mc.FailOn("CreateSnapshot:vol-root", errInjected)

	res := run(t, NewSnapshotVolumes, deps)
	if !res.Failed() {
		t.Fatal("expected failure")
	}
	snaps := mc.Snapshots()
	if len(snaps) != 1 || snaps[0].VolumeID != "vol-data" {
		t.Errorf("expected only vol-data snapshotted, got %+v", snaps)
	}
}

// =============================================================================
// Membership Tests
// =============================================================================

// TestDetachFromASG verifies the instance leaves every group.
func TestDetachFromASG(t *testing.T) {
	mc, deps := newFixture(t)
	mc.AddToAutoScalingGroup(testInstance, "web-asg")
	mc.AddToAutoScalingGroup(testInstance, "canary-asg")

	res := run(t, NewDetachFromASG, deps)
	if res.Message != "Detached instance "+testInstance+" from any autoscaling groups" {
		t.Errorf("unexpected message %q", res.Message)
	}
	if groups := mc.AutoScalingGroups(testInstance); len(groups) != 0 {
		t.Errorf("instance still in %v", groups)
	}
}

// TestDetachFromASG_Idempotent verifies a second run finds nothing left
// to detach and reports the same outcome.
func TestDetachFromASG_Idempotent(t *testing.T) {
	mc, deps := newFixture(t)
	mc.AddToAutoScalingGroup(testInstance, "web-asg")

	first := run(t, NewDetachFromASG, deps)
	second := run(t, NewDetachFromASG, deps)

	if first.Failed() || second.Failed() || first.Message != second.Message {
		t.Errorf("runs differ: %+v vs %+v", first, second)
	}
	if mc.Calls("Detach") != 1 {
		t.Errorf("expected exactly one detach across both runs, got %d", mc.Calls("Detach"))
	}
	if groups := mc.AutoScalingGroups(testInstance); len(groups) != 0 {
		t.Errorf("instance still in %v", groups)
	}
}

// TestDetachFromASG_NoGroups verifies the same message without membership.
func TestDetachFromASG_NoGroups(t *testing.T) {
	mc, deps := newFixture(t)

	res := run(t, NewDetachFromASG, deps)
	if res.Failed() || res.Empty() {
		t.Errorf("expected a success message, got %+v", res)
	}
	if mc.Calls("Detach") != 0 {
		t.Error("no detach expected")
	}
}

// TestDeregisterInstance verifies removal from classic and target groups
// while other members stay registered.
func TestDeregisterInstance(t *testing.T) {
	mc, deps := newFixture(t)
	mc.AddBalancerMembers(memcloud.KindClassic, "legacy-lb", testInstance, "i-other")
	mc.AddBalancerMembers(memcloud.KindTargetGroup, "web-tg", testInstance)
	mc.AddBalancerMembers(memcloud.KindTargetGroup, "api-tg", "i-other")

	res := run(t, NewDeregisterInstance, deps)
	if res.Message != "Deregistered instance "+testInstance+" from all load balancers and target groups" {
		t.Errorf("unexpected message %q", res.Message)
	}

	if got := mc.BalancerMembers(memcloud.KindClassic, "legacy-lb"); len(got) != 1 || got[0] != "i-other" {
		t.Errorf("legacy-lb members: %v", got)
	}
	if got := mc.BalancerMembers(memcloud.KindTargetGroup, "web-tg"); len(got) != 0 {
		t.Errorf("web-tg members: %v", got)
	}
	if got := mc.BalancerMembers(memcloud.KindTargetGroup, "api-tg"); len(got) != 1 {
		t.Errorf("api-tg should be untouched, got %v", got)
	}
	if mc.Calls("Deregister") != 2 {
		t.Errorf("expected 2 deregistrations, got %d", mc.Calls("Deregister"))
	}
}

// TestDeregisterInstance_PartialFailure verifies a failing registry kind
// does not stop the other.
func TestDeregisterInstance_PartialFailure(t *testing.T) {
	mc, deps := newFixture(t)
	mc.AddBalancerMembers(memcloud.KindClassic, "legacy-lb", testInstance)
	mc.AddBalancerMembers(memcloud.KindTargetGroup, "web-tg", testInstance)
	mc.FailOn("List:"+memcloud.KindTargetGroup, errInjected)

	res := run(t, NewDeregisterInstance, deps)
	if !res.Failed() {
		t.Fatal("expected failure")
	}
	if got := mc.BalancerMembers(memcloud.KindClassic, "legacy-lb"); len(got) != 0 {
		t.Errorf("classic deregistration should still happen, got %v", got)
	}
}
