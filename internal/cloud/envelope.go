package cloud

import (
	"encoding/json"
	"fmt"
)

// Envelope is the structured notification body. Subscribers that only read
// the default protocol see Message; the instance id rides alongside.
type Envelope struct {
	Default    string `json:"default"`
	InstanceID string `json:"instance_id"`
}

// EncodeEnvelope renders the compact JSON notification body.
func EncodeEnvelope(instanceID, message string) (string, error) {
	data, err := json.Marshal(Envelope{Default: message, InstanceID: instanceID})
	if err != nil {
		return "", fmt.Errorf("encoding notification: %w", err)
	}
	return string(data), nil
}
