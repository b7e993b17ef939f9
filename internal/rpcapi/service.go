// Package rpcapi is the gRPC frontend of the inference service.
//
// Every domain failure is returned as a response with status ERROR and a
// message; gRPC status errors are reserved for transport-level problems.
package rpcapi

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"inferd/internal/controller"
	"inferd/pkg/types"
)

// Invoker is the controller capability the service needs.
type Invoker interface {
	Invoke(ctx context.Context, in types.ModelInput) (types.ModelOutput, error)
}

// Service implements InvocationServiceServer on top of a controller.
type Service struct {
	UnimplementedInvocationServiceServer
	ctrl Invoker
}

func NewService(ctrl Invoker) *Service { return &Service{ctrl: ctrl} }

func (s *Service) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := DecodeRequest(req)
	if err != nil {
		log.Warn().Err(err).Msg("invalid invoke request")
		return errorResponse("", "invalid request: "+err.Error()), nil
	}
	out, err := s.ctrl.Invoke(ctx, in)
	if err != nil {
		resp := InvokeResponse{Status: StatusError, Message: err.Error(), ModelInputID: in.ID}
		var ie *controller.InvokeError
		if errors.As(err, &ie) {
			resp.ModelInputID = ie.InputID
			if ie.Output != nil {
				resp.ModelOutput = ie.Output.Payload
			}
		}
		return encodeOrError(resp), nil
	}
	return encodeOrError(InvokeResponse{Status: StatusOK, ModelInputID: out.InputID, ModelOutput: out.Payload}), nil
}

func encodeOrError(r InvokeResponse) *structpb.Struct {
	s, err := EncodeResponse(r)
	if err != nil {
		return errorResponse(r.ModelInputID, "encode response: "+err.Error())
	}
	return s
}

// Client is a typed convenience wrapper over InvocationServiceClient.
type Client struct {
	c InvocationServiceClient
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{c: NewInvocationServiceClient(cc)}
}

// Invoke sends in and decodes the response. A non-nil error means the call
// itself failed; domain failures come back as Status == StatusError.
func (c *Client) Invoke(ctx context.Context, in types.ModelInput, opts ...grpc.CallOption) (InvokeResponse, error) {
	req, err := EncodeRequest(in)
	if err != nil {
		return InvokeResponse{}, err
	}
	resp, err := c.c.Invoke(ctx, req, opts...)
	if err != nil {
		return InvokeResponse{}, err
	}
	return DecodeResponse(resp)
}
