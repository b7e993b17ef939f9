package rpcapi

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"inferd/pkg/types"
)

// Response statuses.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// InvokeResponse is the decoded form of an Invoke response.
type InvokeResponse struct {
	Status       string
	Message      string
	ModelInputID string
	// ModelOutput is the output payload; set on OK and on persistence failures.
	ModelOutput json.RawMessage
}

// EncodeRequest builds {model_input: {id, payload}}.
func EncodeRequest(in types.ModelInput) (*structpb.Struct, error) {
	payload, err := jsonToValue(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"model_input": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":      structpb.NewStringValue(in.ID),
			"payload": payload,
		}}),
	}}, nil
}

// DecodeRequest extracts the model input from a request. The id may be empty.
func DecodeRequest(req *structpb.Struct) (types.ModelInput, error) {
	if req == nil {
		return types.ModelInput{}, errors.New("empty request")
	}
	mi := req.GetFields()["model_input"].GetStructValue()
	if mi == nil {
		return types.ModelInput{}, errors.New("model_input is required")
	}
	var in types.ModelInput
	if idv, ok := mi.GetFields()["id"]; ok {
		s, ok := idv.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return types.ModelInput{}, errors.New("model_input.id must be a string")
		}
		in.ID = s.StringValue
	}
	if pv, ok := mi.GetFields()["payload"]; ok {
		b, err := json.Marshal(pv.AsInterface())
		if err != nil {
			return types.ModelInput{}, fmt.Errorf("decode payload: %w", err)
		}
		in.Payload = b
	}
	return in, nil
}

// EncodeResponse builds {status, message, model_input_id, model_output}.
func EncodeResponse(r InvokeResponse) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{
		"status":  structpb.NewStringValue(r.Status),
		"message": structpb.NewStringValue(r.Message),
	}
	if r.ModelInputID != "" {
		fields["model_input_id"] = structpb.NewStringValue(r.ModelInputID)
	}
	if len(r.ModelOutput) > 0 {
		v, err := jsonToValue(r.ModelOutput)
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
		fields["model_output"] = v
	}
	return &structpb.Struct{Fields: fields}, nil
}

// DecodeResponse is the client-side inverse of EncodeResponse.
func DecodeResponse(s *structpb.Struct) (InvokeResponse, error) {
	if s == nil {
		return InvokeResponse{}, errors.New("empty response")
	}
	f := s.GetFields()
	r := InvokeResponse{
		Status:       f["status"].GetStringValue(),
		Message:      f["message"].GetStringValue(),
		ModelInputID: f["model_input_id"].GetStringValue(),
	}
	if v, ok := f["model_output"]; ok {
		b, err := json.Marshal(v.AsInterface())
		if err != nil {
			return InvokeResponse{}, fmt.Errorf("decode output: %w", err)
		}
		r.ModelOutput = b
	}
	if r.Status != StatusOK && r.Status != StatusError {
		return r, fmt.Errorf("unknown response status %q", r.Status)
	}
	return r, nil
}

// errorResponse encodes an ERROR response; encoding a string-only struct
// cannot fail.
func errorResponse(inputID, msg string) *structpb.Struct {
	s, _ := EncodeResponse(InvokeResponse{Status: StatusError, Message: msg, ModelInputID: inputID})
	return s
}

func jsonToValue(raw json.RawMessage) (*structpb.Value, error) {
	if len(raw) == 0 {
		return structpb.NewNullValue(), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return structpb.NewValue(v)
}
