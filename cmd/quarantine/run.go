package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/cloud"
	"github.com/lvonguyen/quarantine/internal/cloud/memcloud"
	"github.com/lvonguyen/quarantine/internal/finding"
	"github.com/lvonguyen/quarantine/internal/orchestrator"
	"github.com/lvonguyen/quarantine/internal/remediation"
)

var (
	eventPath string
	simulate  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Quarantine the instance named by one finding event",
	Long: `run reads a finding event from --event (or stdin), runs every
registered action against the instance it names and prints the run report.
With --simulate the run targets an in-memory cloud seeded with the instance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// A signal cancels the run; temporary grants are still released.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		body, err := readEvent(cmd.InOrStdin())
		if err != nil {
			return err
		}
		f, err := finding.Parse(body)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(!simulate)
		if err != nil {
			return err
		}
		tel, err := newTelemetry(cfg)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		logger := tel.Logger()
		defer logger.Sync()
		defer tel.Shutdown(context.WithoutCancel(ctx))

		var (
			deps     remediation.Deps
			notifier cloud.Notifier
		)
		if simulate {
			sim := seedSimulation(f.InstanceID)
			deps = simulatedDeps(sim, cfg.Artifacts.Bucket, logger)
			notifier = sim
		} else {
			deps, notifier, err = awsDeps(ctx, cfg, logger)
			if err != nil {
				return err
			}
		}

		engine := orchestrator.New(remediation.Default(), deps, notifier,
			orchestrator.WithLogger(logger),
			orchestrator.WithMetrics(tel.Metrics()),
			orchestrator.WithTracer(tel.Tracer()),
			orchestrator.WithRunTimeout(cfg.Quarantine.RunTimeout),
		)

		report, err := engine.Run(ctx, f.Target(cfg.Quarantine.FindingSource))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	runCmd.Flags().StringVar(&eventPath, "event", "", "Path to the finding event JSON (stdin when empty)")
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "Run against an in-memory cloud instead of AWS")
}

func readEvent(stdin io.Reader) ([]byte, error) {
	if eventPath == "" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(eventPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}
	return data, nil
}

// seedSimulation builds an in-memory cloud holding instanceID with a root
// volume, one interface, a managed agent and one membership of each kind.
func seedSimulation(instanceID string) *memcloud.Cloud {
	sim := memcloud.New()
	sim.AddInstance(instanceID,
		cloud.BlockDevice{DeviceName: "/dev/xvda", VolumeID: "vol-sim-root"},
		cloud.BlockDevice{DeviceName: "/dev/xvdb", VolumeID: "vol-sim-data"},
	)
	sim.AddInterface(instanceID, "eni-sim-0", "vpc-sim", "sg-sim-default")
	sim.SetManaged(instanceID)
	sim.AddToAutoScalingGroup(instanceID, "asg-sim")
	sim.AddBalancerMembers(memcloud.KindClassic, "clb-sim", instanceID)
	sim.AddBalancerMembers(memcloud.KindTargetGroup, "arn:sim:targetgroup/tg-sim", instanceID)
	return sim
}

func simulatedDeps(sim *memcloud.Cloud, bucket string, logger *zap.Logger) remediation.Deps {
	capture := remediation.DefaultCaptureSettings()
	capture.InstanceProfileARN = "arn:sim:instance-profile/quarantine-capture"
	capture.OutputBucket = bucket
	capture.SettleDelay = 0
	capture.DrainDelay = 0
	capture.PollInterval = 10 * time.Millisecond

	return remediation.Deps{
		Compute:       sim,
		LoadBalancers: []cloud.LoadBalancer{sim.Classic(), sim.TargetGroups()},
		AutoScaling:   sim.AutoScaling(),
		RemoteExec:    sim,
		Storage:       sim,
		Logger:        logger,
		Capture:       capture,
	}
}
