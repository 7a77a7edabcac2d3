// Package rpc implements request/reply calls on top of the fire-and-forget
// bus. A caller tags every request with a correlation id and waits for the
// reply carrying the same id on the reply topic of the request topic.
package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wire field names shared by every request and reply.
const (
	FieldCorrelationID = "correlationId"
	FieldAction        = "action"
)

// Reasons produced by the responder itself.
const (
	ReasonUnsupportedAction = "unsupported_action"
	ReasonInternal          = "internal_error"
)

type envelope struct {
	Action        string `json:"action"`
	CorrelationID string `json:"correlationId"`
}

// ReplyTopic returns the conventional reply topic for a request topic.
func ReplyTopic(topic string) string {
	return topic + ".reply"
}

// serviceName derives a display name from a topic such as "inventory.rpc".
func serviceName(topic string) string {
	if i := strings.IndexByte(topic, '.'); i > 0 {
		return topic[:i]
	}
	return topic
}

// mergeFields encodes payload, which must be a JSON object or nil, and adds
// fields to it.
func mergeFields(payload any, fields map[string]string) ([]byte, error) {
	obj := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		if string(raw) != "null" {
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, fmt.Errorf("payload must encode to a JSON object: %w", err)
			}
		}
	}
	for k, v := range fields {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		obj[k] = encoded
	}
	return json.Marshal(obj)
}
