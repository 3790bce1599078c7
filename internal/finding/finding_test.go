package finding

import (
	"errors"
	"testing"
)

const guardDutyFinding = `{
  "schemaVersion": "2.0",
  "accountId": "123456789012",
  "region": "us-east-1",
  "id": "60baffd3f9042e38640f2300d5c5a631",
  "type": "UnauthorizedAccess:EC2/SSHBruteForce",
  "severity": 5,
  "resource": {
    "resourceType": "Instance",
    "instanceDetails": {"instanceId": "i-99999999"}
  }
}`

// TestParse_RawFinding verifies a bare finding is accepted.
func TestParse_RawFinding(t *testing.T) {
	f, err := Parse([]byte(guardDutyFinding))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.InstanceID != "i-99999999" {
		t.Errorf("expected instance i-99999999, got %q", f.InstanceID)
	}
	if f.ID != "60baffd3f9042e38640f2300d5c5a631" {
		t.Errorf("unexpected finding id %q", f.ID)
	}
	if f.Severity != 5 || f.Region != "us-east-1" {
		t.Errorf("unexpected finding %+v", f)
	}
}

// TestParse_EventBridgeEnvelope verifies the finding is read from detail.
func TestParse_EventBridgeEnvelope(t *testing.T) {
	body := `{"version":"0","detail-type":"GuardDuty Finding","source":"aws.guardduty","detail":` + guardDutyFinding + `}`

	f, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.InstanceID != "i-99999999" || f.Source != "aws.guardduty" || f.DetailType != "GuardDuty Finding" {
		t.Errorf("unexpected finding %+v", f)
	}
}

// TestParse_DirectInvocation verifies a flat instanceId is accepted.
func TestParse_DirectInvocation(t *testing.T) {
	f, err := Parse([]byte(`{"id":"manual-1","instanceId":"i-abc"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	target := f.Target("")
	if target.InstanceID != "i-abc" || target.FindingID != "manual-1" {
		t.Errorf("unexpected target %+v", target)
	}
}

// TestParse_Errors verifies fatal input errors.
func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"empty", "", ErrMalformedEvent},
		{"not json", "instance i-1", ErrMalformedEvent},
		{"array", `[{"id":"x"}]`, ErrMalformedEvent},
		{"truncated", `{"id":`, ErrMalformedEvent},
		{"bad detail", `{"detail":"text"}`, ErrMalformedEvent},
		{"no instance", `{"id":"x","resource":{}}`, ErrMissingInstanceID},
		{"blank instance", `{"detail":{"resource":{"instanceDetails":{"instanceId":"  "}}}}`, ErrMissingInstanceID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestTarget_Source verifies the configured source is carried.
func TestTarget_Source(t *testing.T) {
	f := &Finding{ID: "f", InstanceID: "i-1"}
	if got := f.Target("SecurityHub").FindingSource; got != "SecurityHub" {
		t.Errorf("expected SecurityHub, got %q", got)
	}
}
