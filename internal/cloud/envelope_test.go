package cloud

import (
	"encoding/json"
	"testing"
)

// TestEncodeEnvelope verifies the notification body shape subscribers rely on.
func TestEncodeEnvelope(t *testing.T) {
	body, err := EncodeEnvelope("i-0abc", `Instance "i-0abc" tagged`)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}

	want := `{"default":"Instance \"i-0abc\" tagged","instance_id":"i-0abc"}`
	if body != want {
		t.Errorf("got %s, want %s", body, want)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if env.InstanceID != "i-0abc" {
		t.Errorf("expected instance id i-0abc, got %q", env.InstanceID)
	}
}
