package rpcapi

import (
	"encoding/json"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"inferd/pkg/types"
)

func TestRequestCodec(t *testing.T) {
	in := types.ModelInput{ID: "a", Payload: json.RawMessage(`{"image":[1,2,3],"label":"cat"}`)}
	req, err := EncodeRequest(in)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	got, err := DecodeRequest(req)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if !got.Equal(in) {
		t.Fatalf("got %s want %s", got.Payload, in.Payload)
	}
}

func TestDecodeRequestRejectsBadShapes(t *testing.T) {
	bad := []map[string]any{
		{},
		{"model_input": "x"},
		{"model_input": map[string]any{"id": 7}},
	}
	for _, m := range bad {
		s, err := structpb.NewStruct(m)
		if err != nil {
			t.Fatalf("NewStruct: %v", err)
		}
		if _, err := DecodeRequest(s); err == nil {
			t.Fatalf("expected error for %v", m)
		}
	}
	if _, err := DecodeRequest(nil); err == nil {
		t.Fatalf("expected error for nil request")
	}
}

func TestDecodeRequestWithoutPayload(t *testing.T) {
	s, _ := structpb.NewStruct(map[string]any{"model_input": map[string]any{"id": "a"}})
	in, err := DecodeRequest(s)
	if err != nil || in.ID != "a" || len(in.Payload) != 0 {
		t.Fatalf("got %+v, %v", in, err)
	}
}

func TestResponseCodec(t *testing.T) {
	s, err := EncodeResponse(InvokeResponse{Status: StatusOK, ModelInputID: "a", ModelOutput: json.RawMessage(`"X"`)})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	r, err := DecodeResponse(s)
	if err != nil || r.Status != StatusOK || r.ModelInputID != "a" || string(r.ModelOutput) != `"X"` {
		t.Fatalf("got %+v, %v", r, err)
	}

	r, err = DecodeResponse(errorResponse("b", "boom"))
	if err != nil || r.Status != StatusError || r.Message != "boom" || r.ModelOutput != nil {
		t.Fatalf("got %+v, %v", r, err)
	}

	unknown, _ := structpb.NewStruct(map[string]any{"status": "MAYBE"})
	if _, err := DecodeResponse(unknown); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}
