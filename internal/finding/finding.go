// Package finding decodes inbound security finding events into quarantine
// targets. Both raw GuardDuty findings and EventBridge envelopes carrying a
// finding in "detail" are accepted.
package finding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lvonguyen/quarantine/internal/remediation"
)

// Common errors.
var (
	ErrMalformedEvent    = errors.New("malformed finding event")
	ErrMissingInstanceID = remediation.ErrMissingInstanceID
)

// Finding is the subset of a finding needed to start a quarantine run.
type Finding struct {
	ID          string  `json:"id"`
	Type        string  `json:"type,omitempty"`
	Severity    float64 `json:"severity,omitempty"`
	AccountID   string  `json:"accountId,omitempty"`
	Region      string  `json:"region,omitempty"`
	InstanceID  string  `json:"instance_id"`
	Source      string  `json:"source,omitempty"`
	DetailType  string  `json:"detail_type,omitempty"`
	Description string  `json:"description,omitempty"`
}

type rawFinding struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Severity    float64 `json:"severity"`
	AccountID   string  `json:"accountId"`
	Region      string  `json:"region"`
	Description string  `json:"description"`
	// InstanceID is accepted for direct invocations that skip the finding shape.
	InstanceID string `json:"instanceId"`
	Resource   struct {
		InstanceDetails struct {
			InstanceID string `json:"instanceId"`
		} `json:"instanceDetails"`
	} `json:"resource"`
}

type envelope struct {
	DetailType string          `json:"detail-type"`
	Source     string          `json:"source"`
	Detail     json.RawMessage `json:"detail"`
}

// Parse decodes an event. It fails with ErrMalformedEvent when the body is
// not a JSON object and with ErrMissingInstanceID when no instance is named.
func Parse(body []byte) (*Finding, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedEvent)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	payload := body
	if len(env.Detail) > 0 && !bytes.Equal(env.Detail, []byte("null")) {
		payload = env.Detail
	}

	var raw rawFinding
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: detail: %v", ErrMalformedEvent, err)
	}

	f := &Finding{
		ID:          raw.ID,
		Type:        raw.Type,
		Severity:    raw.Severity,
		AccountID:   raw.AccountID,
		Region:      raw.Region,
		InstanceID:  strings.TrimSpace(raw.Resource.InstanceDetails.InstanceID),
		Source:      env.Source,
		DetailType:  env.DetailType,
		Description: raw.Description,
	}
	if f.InstanceID == "" {
		f.InstanceID = strings.TrimSpace(raw.InstanceID)
	}
	if f.InstanceID == "" {
		return nil, ErrMissingInstanceID
	}
	return f, nil
}

// Target builds the quarantine target. source labels the finding origin and
// may be empty to use the default.
func (f *Finding) Target(source string) remediation.Target {
	return remediation.Target{
		InstanceID:    f.InstanceID,
		FindingID:     f.ID,
		FindingSource: source,
	}
}
