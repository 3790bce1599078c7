// Package orchestrator runs the registered remediation actions against one
// target in priority order and publishes each outcome as it happens.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/cloud"
	"github.com/lvonguyen/quarantine/internal/observability"
	"github.com/lvonguyen/quarantine/internal/remediation"
)

// SummaryFormat is the final notification of every run.
const SummaryFormat = "Instance %s successfully quarantined"

// Outcome is the result of one action in a run.
type Outcome struct {
	Name     string        `json:"name"`
	Priority int           `json:"priority"`
	Message  string        `json:"message,omitempty"`
	Failed   bool          `json:"failed"`
	Duration time.Duration `json:"duration_ns"`
}

// Report describes a completed run.
type Report struct {
	RunID           string             `json:"run_id"`
	Target          remediation.Target `json:"target"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	Outcomes        []Outcome          `json:"outcomes"`
	DiscoveryErrors []string           `json:"discovery_errors,omitempty"`
	Summary         string             `json:"summary"`
}

// Failed reports whether any action failed or could not be built.
func (r *Report) Failed() bool {
	if len(r.DiscoveryErrors) > 0 {
		return true
	}
	for _, o := range r.Outcomes {
		if o.Failed {
			return true
		}
	}
	return false
}

// Engine drives quarantine runs.
type Engine struct {
	registry *remediation.Registry
	deps     remediation.Deps
	notifier cloud.Notifier

	logger     *zap.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer
	runTimeout time.Duration
	newRunID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records run metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer for run and action spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithRunTimeout bounds the whole run. Zero means no bound.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Engine) { e.runTimeout = d }
}

// WithRunIDGenerator overrides run id generation.
func WithRunIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newRunID = fn }
}

// New creates an engine. deps is copied; its Logger is replaced per run.
func New(registry *remediation.Registry, deps remediation.Deps, notifier cloud.Notifier, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		deps:     deps,
		notifier: notifier,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("quarantine/orchestrator"),
		newRunID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes every registered action against target. It returns an error
// only when target is invalid, before any action runs; action failures are
// reported in the notifications and the Report.
func (e *Engine) Run(ctx context.Context, target remediation.Target) (*Report, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}

	report := &Report{
		RunID:     e.newRunID(),
		Target:    target,
		StartedAt: time.Now().UTC(),
	}
	log := e.logger.With(
		zap.String("run_id", report.RunID),
		zap.String("instance_id", target.InstanceID),
		zap.String("finding_id", target.FindingID),
	)

	ctx, span := e.tracer.Start(ctx, "quarantine.run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.String("instance.id", target.InstanceID),
	))
	defer span.End()

	// Notifications outlive cancellation of the run.
	pubCtx := context.WithoutCancel(ctx)

	deps := e.deps
	deps.Logger = log
	instances, buildErrs := e.registry.Build(&deps, target)
	for _, err := range buildErrs {
		name := "unknown"
		var be *remediation.BuildError
		if errors.As(err, &be) {
			name = be.Descriptor.Name
		}
		log.Warn("Skipping action that failed to build", zap.String("action", name), zap.Error(err))
		e.metrics.DiscoveryFailed(name)
		report.DiscoveryErrors = append(report.DiscoveryErrors, err.Error())
	}
	log.Info("Starting quarantine", zap.Int("actions", len(instances)))

	for _, inst := range instances {
		outcome := e.execute(ctx, log, inst)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Message != "" {
			e.publish(pubCtx, log, target.InstanceID, outcome.Message)
		}
	}

	report.Summary = fmt.Sprintf(SummaryFormat, target.InstanceID)
	e.publish(pubCtx, log, target.InstanceID, report.Summary)

	report.FinishedAt = time.Now().UTC()
	failed := report.Failed()
	e.metrics.RunFinished(failed)
	if failed {
		span.SetStatus(codes.Error, "one or more actions failed")
	}
	log.Info("Quarantine finished",
		zap.Bool("failed", failed),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

func (e *Engine) execute(ctx context.Context, log *zap.Logger, inst remediation.Instance) Outcome {
	ctx, span := e.tracer.Start(ctx, "quarantine.action", trace.WithAttributes(
		attribute.String("action.name", inst.Name),
		attribute.Int("action.priority", inst.Priority),
	))
	defer span.End()

	start := time.Now()
	res := safeExecute(ctx, inst)
	elapsed := time.Since(start)

	if res.Failed() {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Message)
		if errors.Is(res.Err, errPanic) {
			log.Error("Action panicked", zap.String("action", inst.Name), zap.Error(res.Err))
		}
	}
	e.metrics.ActionFinished(inst.Name, res.Failed(), elapsed)
	log.Debug("Action finished",
		zap.String("action", inst.Name),
		zap.Bool("failed", res.Failed()),
		zap.Duration("duration", elapsed))

	return Outcome{
		Name:     inst.Name,
		Priority: inst.Priority,
		Message:  res.Message,
		Failed:   res.Failed(),
		Duration: elapsed,
	}
}

var errPanic = errors.New("action panicked")

// safeExecute converts a panic into a failed result so later actions run.
func safeExecute(ctx context.Context, inst remediation.Instance) (res remediation.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = remediation.Result{
				Message: fmt.Sprintf("Action %s failed unexpectedly", inst.Name),
				Err:     fmt.Errorf("%w: %v\n%s", errPanic, r, debug.Stack()),
			}
		}
	}()
	return inst.Action.Execute(ctx)
}

func (e *Engine) publish(ctx context.Context, log *zap.Logger, instanceID, message string) {
	if e.notifier == nil {
		log.Info(message)
		return
	}
	err := e.notifier.Publish(ctx, instanceID, message)
	e.metrics.NotificationSent(err)
	if err != nil {
		log.Error("Failed to publish notification", zap.String("message", message), zap.Error(err))
	}
}
