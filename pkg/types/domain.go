package types

import (
	"encoding/json"
	"time"
)

// ModelInput is one request to the model. It is immutable once created.
type ModelInput struct {
	// Unique identifier, caller- or system-assigned.
	// example: a
	ID string `json:"id" example:"a"`
	// Opaque payload interpreted only by the model runtime.
	// example: "x"
	Payload json.RawMessage `json:"payload" swaggertype:"object"`
	// Time the input was accepted by the service.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ModelOutput is the result produced by the model runtime for one ModelInput.
type ModelOutput struct {
	// ID of the ModelInput that produced this output.
	// example: a
	InputID string `json:"input_id" example:"a"`
	// Opaque payload produced by the model runtime.
	// example: "X"
	Payload json.RawMessage `json:"payload" swaggertype:"object"`
	// Time the output was produced.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Equal reports whether two inputs carry the same id and payload.
// CreatedAt is ignored since backends may truncate its precision.
func (in ModelInput) Equal(other ModelInput) bool {
	return in.ID == other.ID && jsonEqual(in.Payload, other.Payload)
}

// Equal reports whether two outputs carry the same input id and payload.
func (out ModelOutput) Equal(other ModelOutput) bool {
	return out.InputID == other.InputID && jsonEqual(out.Payload, other.Payload)
}

func jsonEqual(a, b json.RawMessage) bool {
	var va, vb any
	if err := json.Unmarshal(nonEmpty(a), &va); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(nonEmpty(b), &vb); err != nil {
		return false
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return string(ca) == string(cb)
}

func nonEmpty(b json.RawMessage) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return b
}
