package grpcclient

import (
	"context"
	"errors"
	"testing"

	otgrpc "github.com/opentracing-contrib/go-grpc"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type erroringClientStream struct {
	recvErr error
}

func (s *erroringClientStream) RecvMsg(interface{}) error    { return s.recvErr }
func (s *erroringClientStream) SendMsg(interface{}) error    { return nil }
func (s *erroringClientStream) Header() (metadata.MD, error) { return nil, nil }
func (s *erroringClientStream) Trailer() metadata.MD         { return nil }
func (s *erroringClientStream) CloseSend() error             { return nil }
func (s *erroringClientStream) Context() context.Context     { return context.Background() }

func chainStreamers(streamer grpc.Streamer, interceptors ...grpc.StreamClientInterceptor) grpc.Streamer {
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor, next := interceptors[i], streamer
		streamer = func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			return interceptor(ctx, desc, cc, method, next, opts...)
		}
	}
	return streamer
}

func TestUnwrapErrorStreamClientInterceptor(t *testing.T) {
	tracer := mocktracer.New()
	recvErr := errors.New("mailbox closed")
	streamer := func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return &erroringClientStream{recvErr: recvErr}, nil
	}

	// The tracing interceptor wraps RecvMsg errors; the unwrap interceptor
	// restores the original so callers can match on it.
	chained := chainStreamers(streamer, unwrapErrorStreamClientInterceptor(), otgrpc.OpenTracingStreamClientInterceptor(tracer))
	stream, err := chained(context.Background(), &grpc.StreamDesc{}, nil, "/queryflow.TimeSeriesQueryWorker/Submit")
	require.NoError(t, err)

	var msg interface{}
	require.EqualError(t, stream.RecvMsg(&msg), recvErr.Error())

	// Without the unwrap interceptor the wrapped error leaks through.
	wrappedOnly := chainStreamers(streamer, otgrpc.OpenTracingStreamClientInterceptor(tracer))
	stream, err = wrappedOnly(context.Background(), &grpc.StreamDesc{}, nil, "/queryflow.TimeSeriesQueryWorker/Submit")
	require.NoError(t, err)
	require.NotEqual(t, recvErr.Error(), stream.RecvMsg(&msg).Error())
}
