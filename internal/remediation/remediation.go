// Package remediation provides the quarantine actions run against a
// compromised instance and the registry that orders them.
//
// Every action honors one contract: Execute never panics and never returns an
// error. Failures are logged and converted into a reportable Result so that a
// single failing action cannot abort a quarantine run.
package remediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/quarantine/internal/cloud"
)

// Common errors.
var (
	ErrMissingInstanceID = errors.New("instanceId not found in request")
	ErrMissingDependency = errors.New("missing action dependency")
	ErrDuplicateName     = errors.New("duplicate action name")
	ErrDuplicatePriority = errors.New("duplicate action priority")
	ErrInvalidDescriptor = errors.New("invalid action descriptor")
)

// DefaultFindingSource labels findings when the trigger does not say otherwise.
const DefaultFindingSource = "GuardDuty"

// Target identifies the compromised instance and the finding that triggered
// containment. It is immutable for the lifetime of one run.
type Target struct {
	InstanceID    string `json:"instance_id"`
	FindingID     string `json:"finding_id"`
	FindingSource string `json:"finding_source,omitempty"`
}

// Validate reports whether the target can be acted upon.
func (t Target) Validate() error {
	if t.InstanceID == "" {
		return ErrMissingInstanceID
	}
	return nil
}

func (t Target) source() string {
	if t.FindingSource == "" {
		return DefaultFindingSource
	}
	return t.FindingSource
}

// Result is the outcome of one action execution. An empty Message means
// there is nothing to report. Err holds the failure already described by
// Message; it is informational and never drives control flow.
type Result struct {
	Message string
	Err     error
}

// Empty reports whether the action had nothing to say.
func (r Result) Empty() bool { return r.Message == "" }

// Failed reports whether the action hit an internal failure.
func (r Result) Failed() bool { return r.Err != nil }

// Action is a single unit of remediation or evidence capture.
type Action interface {
	Execute(ctx context.Context) Result
}

// Factory constructs an action bound to one target.
type Factory func(deps *Deps, target Target) (Action, error)

// Deps carries the collaborators and settings shared by every action.
type Deps struct {
	Compute       cloud.Compute
	LoadBalancers []cloud.LoadBalancer
	AutoScaling   cloud.AutoScaling
	RemoteExec    cloud.RemoteExec
	Storage       cloud.Storage

	Logger  *zap.Logger
	Now     func() time.Time
	Capture CaptureSettings
}

// CaptureSettings configures remote command capture.
type CaptureSettings struct {
	Commands []string
	// InstanceProfileARN is the minimal profile attached while commands run.
	// Empty disables command capture.
	InstanceProfileARN string
	ServiceRoleARN     string
	OutputBucket       string
	NotificationARN    string
	DocumentName       string
	TimeoutSeconds     int

	SettleDelay    time.Duration
	DrainDelay     time.Duration
	PollInterval   time.Duration
	MaxAttempts    int
	ReleaseTimeout time.Duration
}

// DefaultCaptureSettings returns the command capture defaults.
func DefaultCaptureSettings() CaptureSettings {
	return CaptureSettings{
		Commands:       []string{"uname -a", "whoami", "netstat -ap", "lsof"},
		DocumentName:   "AWS-RunShellScript",
		TimeoutSeconds: 240,
		SettleDelay:    5 * time.Second,
		DrainDelay:     10 * time.Second,
		PollInterval:   3 * time.Second,
		MaxAttempts:    20,
		ReleaseTimeout: 30 * time.Second,
	}
}

func (d *Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

// base is embedded by every action.
type base struct {
	deps   *Deps
	target Target
	logger *zap.Logger
}

func newBase(deps *Deps, target Target, name string) base {
	return base{
		deps:   deps,
		target: target,
		logger: deps.logger().With(zap.String("action", name)),
	}
}

func (b base) id() string { return b.target.InstanceID }

func (b base) reported(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// failed logs err and converts it into a reportable failure.
func (b base) failed(err error, format string, args ...any) Result {
	msg := fmt.Sprintf(format, args...)
	b.logger.Error(msg, zap.Error(err))
	return Result{Message: msg, Err: err}
}

// timestamp renders an ISO8601 UTC time with second precision.
func (b base) timestamp() string {
	return b.deps.now().Truncate(time.Second).Format(time.RFC3339)
}

// incidentTags is the tag set applied to every quarantined resource.
func (b base) incidentTags() []cloud.Tag {
	return []cloud.Tag{
		{Key: cloud.TagStatus, Value: cloud.StatusQuarantined},
		{Key: cloud.TagContainedAt, Value: b.timestamp()},
		{Key: cloud.TagFindingID, Value: b.target.FindingID},
		{Key: cloud.TagFindingSource, Value: b.target.source()},
	}
}

func requireCompute(deps *Deps) error {
	if deps.Compute == nil {
		return fmt.Errorf("%w: compute", ErrMissingDependency)
	}
	return nil
}

func requireStorage(deps *Deps) error {
	if err := requireCompute(deps); err != nil {
		return err
	}
	if deps.Storage == nil {
		return fmt.Errorf("%w: storage", ErrMissingDependency)
	}
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
