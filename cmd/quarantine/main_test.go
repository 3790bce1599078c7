package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/config"
	"github.com/lvonguyen/quarantine/internal/orchestrator"
	"github.com/lvonguyen/quarantine/internal/remediation"
)

const simInstance = "i-0aaaabbbbccccdddd"

// TestCaptureSettings verifies the config sections map onto capture settings.
func TestCaptureSettings(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Artifacts.Bucket = "artifacts"
	cfg.Notification.TopicARN = "arn:aws:sns:us-east-1:123456789012:soc"
	cfg.Capture.InstanceProfileARN = "arn:aws:iam::123456789012:instance-profile/ssm"
	cfg.Capture.DrainDelay = 7 * time.Second

	got := captureSettings(cfg)

	if got.OutputBucket != "artifacts" {
		t.Errorf("expected output bucket from artifacts, got %q", got.OutputBucket)
	}
	if got.NotificationARN != cfg.Notification.TopicARN {
		t.Errorf("expected notification ARN from topic, got %q", got.NotificationARN)
	}
	if got.InstanceProfileARN != cfg.Capture.InstanceProfileARN || got.DrainDelay != 7*time.Second {
		t.Errorf("capture fields not carried: %+v", got)
	}
	if len(got.Commands) != len(cfg.Capture.Commands) {
		t.Errorf("expected %d commands, got %d", len(cfg.Capture.Commands), len(got.Commands))
	}
}

// TestSimulatedRun runs the built-in actions against the seeded simulation.
func TestSimulatedRun(t *testing.T) {
	sim := seedSimulation(simInstance)
	deps := simulatedDeps(sim, "artifacts", zap.NewNop())

	engine := orchestrator.New(remediation.Builtin(), deps, sim)
	report, err := engine.Run(context.Background(), remediation.Target{InstanceID: simInstance, FindingID: "sim-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, o := range report.Outcomes {
		if o.Failed {
			t.Errorf("action %s failed: %s", o.Name, o.Message)
		}
	}

	ni, ok := sim.Interface("eni-sim-0")
	if !ok {
		t.Fatal("seeded interface missing")
	}
	if len(ni.Groups) != 1 || ni.Groups[0] == "sg-sim-default" {
		t.Errorf("interface not isolated: %v", ni.Groups)
	}

	published := sim.Published()
	if len(published) == 0 {
		t.Fatal("expected notifications")
	}
	if last := published[len(published)-1].Message; last != fmt.Sprintf(orchestrator.SummaryFormat, simInstance) {
		t.Errorf("last message should be the summary, got %q", last)
	}
}

// TestActionsCommand verifies the run order listing.
func TestActionsCommand(t *testing.T) {
	var out bytes.Buffer
	actionsCmd.SetOut(&out)
	actionsCmd.Run(actionsCmd, nil)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != remediation.Default().Len()+1 {
		t.Fatalf("expected header plus %d actions, got %d lines", remediation.Default().Len(), len(lines))
	}
	if !strings.HasPrefix(lines[1], "1 ") || !strings.Contains(lines[1], "console-screenshot") {
		t.Errorf("first action should be console-screenshot, got %q", lines[1])
	}
}

// TestVersionCommand verifies build metadata is printed.
func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)

	if !strings.Contains(out.String(), "quarantine dev") {
		t.Errorf("unexpected version output %q", out.String())
	}
}

// parkedRunner blocks until its context is cancelled.
type parkedRunner struct {
	entered   chan struct{}
	cancelled chan struct{}
}

func (p *parkedRunner) Run(ctx context.Context, target remediation.Target) (*orchestrator.Report, error) {
	close(p.entered)
	<-ctx.Done()
	close(p.cancelled)
	return &orchestrator.Report{Target: target}, nil
}

// TestShutdown_CancelsInFlightRuns verifies runs still active after the
// shutdown timeout are cancelled and awaited.
func TestShutdown_CancelsInFlightRuns(t *testing.T) {
	inner := &parkedRunner{entered: make(chan struct{}), cancelled: make(chan struct{})}
	runs := &trackedRunner{runner: inner}
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	go runs.Run(runCtx, remediation.Target{InstanceID: simInstance})
	<-inner.entered

	start := time.Now()
	shutdown(&http.Server{}, runs, cancelRuns, 50*time.Millisecond, 5*time.Second, zap.NewNop())

	select {
	case <-inner.cancelled:
	default:
		t.Fatal("in-flight run was not cancelled")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("shutdown took %v", elapsed)
	}
}
