package remediation

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/cloud"
	"github.com/lvonguyen/quarantine/internal/cloud/memcloud"
)

const (
	testInstance = "i-0123456789abcdef0"
	testProfile  = "arn:aws:iam::123456789012:instance-profile/ssm-capture"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newFixture seeds a simulated cloud with one instance on a single network
// and returns deps wired to it with all capture delays disabled.
func newFixture(t *testing.T) (*memcloud.Cloud, *Deps) {
	t.Helper()

	mc := memcloud.New()
	mc.AddInstance(testInstance,
		cloud.BlockDevice{DeviceName: "/dev/xvda", VolumeID: "vol-root"},
		cloud.BlockDevice{DeviceName: "/dev/xvdb", VolumeID: "vol-data"},
	)

	capture := DefaultCaptureSettings()
	capture.InstanceProfileARN = testProfile
	capture.OutputBucket = "artifacts"
	capture.SettleDelay = 0
	capture.DrainDelay = 0
	capture.PollInterval = 0
	capture.MaxAttempts = 1

	deps := &Deps{
		Compute:       mc,
		LoadBalancers: []cloud.LoadBalancer{mc.Classic(), mc.TargetGroups()},
		AutoScaling:   mc.AutoScaling(),
		RemoteExec:    mc,
		Storage:       mc,
		Logger:        zap.NewNop(),
		Now:           func() time.Time { return testNow },
		Capture:       capture,
	}
	return mc, deps
}

func testTarget() Target {
	return Target{InstanceID: testInstance, FindingID: "finding-42"}
}

// =============================================================================
// Registration Tests
// =============================================================================

// TestBuiltin_Order verifies the built-in actions run in priority order.
func TestBuiltin_Order(t *testing.T) {
	want := []string{
		"console-screenshot",
		"capture-metadata",
		"termination-protection",
		"shutdown-behavior",
		"preserve-volumes",
		"tag-instance",
		"snapshot-volumes",
		"command-output",
		"detach-asg",
		"deregister-instance",
		"isolate-instance",
	}

	descs := Builtin().Descriptors()
	if len(descs) != len(want) {
		t.Fatalf("expected %d actions, got %d", len(want), len(descs))
	}
	for i, d := range descs {
		if d.Name != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], d.Name)
		}
		if i > 0 && descs[i-1].Priority >= d.Priority {
			t.Errorf("priorities not strictly ascending at %s", d.Name)
		}
	}
}

// TestDefault_Singleton verifies Default always returns the same registry.
func TestDefault_Singleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default should return a single registry")
	}
	if Default().Len() != 11 {
		t.Errorf("expected 11 built-in actions, got %d", Default().Len())
	}
}

// TestRegister_SortsByPriority verifies registration order does not matter.
func TestRegister_SortsByPriority(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Descriptor{Name: "late", Priority: 30}, stubFactory(Result{}))
	r.MustRegister(Descriptor{Name: "early", Priority: 10}, stubFactory(Result{}))
	r.MustRegister(Descriptor{Name: "middle", Priority: 20}, stubFactory(Result{}))

	descs := r.Descriptors()
	if descs[0].Name != "early" || descs[1].Name != "middle" || descs[2].Name != "late" {
		t.Errorf("unexpected order: %+v", descs)
	}
}

// TestRegister_DuplicatePriority verifies priorities must be unique.
func TestRegister_DuplicatePriority(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Descriptor{Name: "a", Priority: 1}, stubFactory(Result{}))

	err := r.Register(Descriptor{Name: "b", Priority: 1}, stubFactory(Result{}))
	if !errors.Is(err, ErrDuplicatePriority) {
		t.Errorf("expected ErrDuplicatePriority, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("rejected action should not be registered")
	}
}

// TestRegister_DuplicateName verifies names must be unique.
func TestRegister_DuplicateName(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Descriptor{Name: "a", Priority: 1}, stubFactory(Result{}))

	err := r.Register(Descriptor{Name: "a", Priority: 2}, stubFactory(Result{}))
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("expected ErrDuplicateName, got %v", err)
	}
}

// TestRegister_Invalid verifies a descriptor needs a name and a factory.
func TestRegister_Invalid(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Descriptor{Priority: 1}, stubFactory(Result{})); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("empty name: expected ErrInvalidDescriptor, got %v", err)
	}
	if err := r.Register(Descriptor{Name: "a", Priority: 1}, nil); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("nil factory: expected ErrInvalidDescriptor, got %v", err)
	}
}

// =============================================================================
// Build Tests
// =============================================================================

// TestBuild_IsolatesFactoryFailures verifies a failing or panicking factory
// does not prevent the other actions from being built.
func TestBuild_IsolatesFactoryFailures(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Descriptor{Name: "first", Priority: 1}, stubFactory(Result{Message: "first"}))
	r.MustRegister(Descriptor{Name: "broken", Priority: 2}, func(*Deps, Target) (Action, error) {
		return nil, errors.New("no credentials")
	})
	r.MustRegister(Descriptor{Name: "panics", Priority: 3}, func(*Deps, Target) (Action, error) {
		panic("nil map")
	})
	r.MustRegister(Descriptor{Name: "nil-action", Priority: 4}, func(*Deps, Target) (Action, error) {
		return nil, nil
	})
	r.MustRegister(Descriptor{Name: "last", Priority: 5}, stubFactory(Result{Message: "last"}))

	instances, errs := r.Build(&Deps{}, testTarget())

	if len(instances) != 2 {
		t.Fatalf("expected 2 built actions, got %d", len(instances))
	}
	if instances[0].Name != "first" || instances[1].Name != "last" {
		t.Errorf("unexpected instances: %s, %s", instances[0].Name, instances[1].Name)
	}

	if len(errs) != 3 {
		t.Fatalf("expected 3 build errors, got %d: %v", len(errs), errs)
	}
	wantFailed := []string{"broken", "panics", "nil-action"}
	for i, err := range errs {
		var be *BuildError
		if !errors.As(err, &be) {
			t.Fatalf("expected *BuildError, got %T", err)
		}
		if be.Descriptor.Name != wantFailed[i] {
			t.Errorf("error %d: expected %s, got %s", i, wantFailed[i], be.Descriptor.Name)
		}
	}
}

// TestBuild_MissingDependencies verifies actions whose collaborators are
// absent are skipped while the rest are built.
func TestBuild_MissingDependencies(t *testing.T) {
	mc := memcloud.New()
	deps := &Deps{Compute: mc, Logger: zap.NewNop()}

	instances, errs := Builtin().Build(deps, testTarget())

	if len(instances) != 6 {
		t.Errorf("expected 6 compute-only actions, got %d", len(instances))
	}
	if len(errs) != 5 {
		t.Fatalf("expected 5 build errors, got %d", len(errs))
	}
	for _, err := range errs {
		if !errors.Is(err, ErrMissingDependency) {
			t.Errorf("expected ErrMissingDependency, got %v", err)
		}
	}
}

// TestTarget_Validate verifies the instance id is mandatory.
func TestTarget_Validate(t *testing.T) {
	if err := (Target{}).Validate(); !errors.Is(err, ErrMissingInstanceID) {
		t.Errorf("expected ErrMissingInstanceID, got %v", err)
	}
	if err := testTarget().Validate(); err != nil {
		t.Errorf("valid target rejected: %v", err)
	}
}

// TestSleep_Cancelled verifies sleeps end early on cancellation.
func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep should return immediately when cancelled")
	}
}

type stubAction struct{ result Result }

func (s stubAction) Execute(context.Context) Result { return s.result }

func stubFactory(r Result) Factory {
	return func(*Deps, Target) (Action, error) { return stubAction{r}, nil }
}
