package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/weed-id/internal/logging"
	"github.com/example/weed-id/internal/tensor"
)

const (
	serviceName   = "weedid.inference.v1.ModelService"
	predictMethod = "/" + serviceName + "/Predict"
)

// ModelServer is implemented by remote inference servers. Requests carry
// {"shape": [...], "values": [...]}; responses carry {"scores": [...]}.
type ModelServer interface {
	Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the model service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ModelServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Predict",
			Handler:    predictHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "weedid/inference/v1/model.proto",
}

func predictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModelServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ModelServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// DialModelServer connects to a remote model server and returns it as a
// model for the classifier.
func DialModelServer(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*RemoteModel, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_model_server", "", err)
		logger.Error("failed to dial model server", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewRemoteModel(conn, timeout, logger), conn, nil
}

// RemoteModel forwards tensors to a model server.
type RemoteModel struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
}

// NewRemoteModel wraps an existing connection. A zero timeout means no
// per-call deadline beyond the caller's context.
func NewRemoteModel(conn grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) *RemoteModel {
	return &RemoteModel{conn: conn, timeout: timeout, logger: logger.Named("grpc_model")}
}

// Predict sends input to the server and returns its score vector.
func (m *RemoteModel) Predict(ctx context.Context, input tensor.Tensor) (tensor.Tensor, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	resp := new(structpb.Struct)
	if err := m.conn.Invoke(ctx, predictMethod, EncodeTensor(input), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.predict", "", err)
		m.logger.Error("model server call failed", zap.Error(wrapped))
		return tensor.Tensor{}, wrapped
	}

	scores, err := DecodeScores(resp)
	if err != nil {
		return tensor.Tensor{}, err
	}
	return tensor.New(tensor.Shape{1, len(scores)}, scores)
}

// EncodeTensor converts a tensor into the request message.
func EncodeTensor(t tensor.Tensor) *structpb.Struct {
	shape := make([]*structpb.Value, len(t.Shape))
	for i, d := range t.Shape {
		shape[i] = structpb.NewNumberValue(float64(d))
	}
	values := make([]*structpb.Value, len(t.Data))
	for i, v := range t.Data {
		values[i] = structpb.NewNumberValue(float64(v))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"shape":  structpb.NewListValue(&structpb.ListValue{Values: shape}),
		"values": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// DecodeTensor is the server-side inverse of EncodeTensor.
func DecodeTensor(msg *structpb.Struct) (tensor.Tensor, error) {
	shapeVals, err := numberList(msg, "shape")
	if err != nil {
		return tensor.Tensor{}, err
	}
	values, err := numberList(msg, "values")
	if err != nil {
		return tensor.Tensor{}, err
	}
	shape := make(tensor.Shape, len(shapeVals))
	for i, d := range shapeVals {
		shape[i] = int(d)
	}
	return tensor.New(shape, values)
}

// EncodeScores builds the response message for a score vector.
func EncodeScores(scores []float32) *structpb.Struct {
	values := make([]*structpb.Value, len(scores))
	for i, v := range scores {
		values[i] = structpb.NewNumberValue(float64(v))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"scores": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// DecodeScores extracts the score vector from a response message.
func DecodeScores(msg *structpb.Struct) ([]float32, error) {
	scores, err := numberList(msg, "scores")
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, errors.New("model server returned no scores")
	}
	return scores, nil
}

func numberList(msg *structpb.Struct, field string) ([]float32, error) {
	if msg == nil {
		return nil, fmt.Errorf("missing message")
	}
	v, ok := msg.GetFields()[field]
	if !ok {
		return nil, fmt.Errorf("field %q missing", field)
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field %q is not a list", field)
	}
	out := make([]float32, len(list.GetValues()))
	for i, item := range list.GetValues() {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("field %q item %d is not a number", field, i)
		}
		out[i] = float32(n.NumberValue)
	}
	return out, nil
}
