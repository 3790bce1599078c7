package remediation

import (
	"context"
	"fmt"
	"testing"

	"github.com/lvonguyen/quarantine/internal/cloud/memcloud"
)

// collaboratorOps names every collaborator operation an action can call.
var collaboratorOps = []string{
	"DescribeInstance",
	"ConsoleScreenshot",
	"ModifyAttribute",
	"DisableDeleteOnTermination",
	"CreateSnapshot",
	"DescribeNetworkInterfaces",
	"SetInterfaceSecurityGroups",
	"DescribeSecurityGroups",
	"CreateSecurityGroup",
	"RevokeAllEgress",
	"CreateTags",
	"DescribeRoleAssociations",
	"AssociateRole",
	"DisassociateRole",
	"DescribeMemberships",
	"Detach",
	"List",
	"Members",
	"Deregister",
	"DescribeManaged",
	"SendCommand",
	"WaitExecuted",
	"PutObject",
}

// silentFailures lists the action/operation pairs allowed to fail without a
// message: profile stripping is a blocking precondition of command capture.
var silentFailures = map[string]bool{
	"command-output/DescribeRoleAssociations": true,
	"command-output/DisassociateRole":         true,
}

// newContainmentFixture seeds every resource kind an action touches so each
// injected fault is reachable.
func newContainmentFixture(t *testing.T) (*memcloud.Cloud, *Deps) {
	t.Helper()
	mc, deps := newFixture(t)
	mc.AddInterface(testInstance, "eni-a1", "vpc-a", "sg-web")
	mc.AddAssociation(testInstance, "arn:aws:iam::123456789012:instance-profile/web")
	mc.AddToAutoScalingGroup(testInstance, "web-asg")
	mc.AddBalancerMembers(memcloud.KindClassic, "web-clb", testInstance)
	mc.AddBalancerMembers(memcloud.KindTargetGroup, "web-tg", testInstance)
	mc.SetManaged(testInstance)
	return mc, deps
}

func executeContained(ctx context.Context, inst Instance) (res Result, panicked any) {
	defer func() { panicked = recover() }()
	return inst.Action.Execute(ctx), nil
}

// TestBuiltin_ContainsEveryFault injects each collaborator failure into
// every built-in action and verifies none panics and every failure carries a
// reportable message.
func TestBuiltin_ContainsEveryFault(t *testing.T) {
	for _, op := range collaboratorOps {
		for _, desc := range Builtin().Descriptors() {
			t.Run(fmt.Sprintf("%s/%s", desc.Name, op), func(t *testing.T) {
				mc, deps := newContainmentFixture(t)
				mc.FailOn(op, errInjected)

				insts, errs := Builtin().Build(deps, testTarget())
				if len(errs) != 0 {
					t.Fatalf("build errors: %v", errs)
				}

				for _, inst := range insts {
					if inst.Name != desc.Name {
						continue
					}
					res, panicked := executeContained(context.Background(), inst)
					if panicked != nil {
						t.Fatalf("action panicked: %v", panicked)
					}
					if res.Failed() && res.Empty() && !silentFailures[desc.Name+"/"+op] {
						t.Errorf("failure without a message: %v", res.Err)
					}
				}
			})
		}
	}
}
