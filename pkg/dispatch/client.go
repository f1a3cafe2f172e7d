package dispatch

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/queryflowproject/queryflow/pkg/util/grpcclient"
	"github.com/queryflowproject/queryflow/pkg/wire"
)

// Client is the per-server dispatch surface. Submit and Explain are
// asynchronous: they return immediately and deliver the result through the
// callback exactly once.
type Client interface {
	Submit(ctx context.Context, request *wire.QueryRequest, callback func(*wire.QueryResponse, error))
	Explain(ctx context.Context, request *wire.QueryRequest, callback func(*wire.ExplainResponse, error))
	Cancel(ctx context.Context, request *wire.CancelRequest) (*wire.CancelResponse, error)
	Close() error
}

// ClientFactory creates the dispatch client for one server address.
type ClientFactory func(addr string) (Client, error)

// TimeSeriesClient is the per-server time-series dispatch surface. Submit
// invokes the callback once per streamed response chunk.
type TimeSeriesClient interface {
	Submit(ctx context.Context, request *wire.TimeSeriesQueryRequest, callback func(*wire.TimeSeriesResponse, error))
	Close() error
}

// TimeSeriesClientFactory creates the time-series client for one address.
type TimeSeriesClientFactory func(addr string) (TimeSeriesClient, error)

// NewGRPCClientFactory builds dispatch clients talking the JSON wire codec
// over instrumented gRPC connections.
func NewGRPCClientFactory(cfg grpcclient.Config, requestDuration *prometheus.HistogramVec) ClientFactory {
	return func(addr string) (Client, error) {
		conn, err := dial(cfg, requestDuration, addr)
		if err != nil {
			return nil, err
		}
		return &grpcClient{conn: conn}, nil
	}
}

// NewGRPCTimeSeriesClientFactory builds time-series clients sharing the same
// connection settings as the query clients.
func NewGRPCTimeSeriesClientFactory(cfg grpcclient.Config, requestDuration *prometheus.HistogramVec) TimeSeriesClientFactory {
	return func(addr string) (TimeSeriesClient, error) {
		conn, err := dial(cfg, requestDuration, addr)
		if err != nil {
			return nil, err
		}
		return &grpcTimeSeriesClient{conn: conn}, nil
	}
}

func dial(cfg grpcclient.Config, requestDuration *prometheus.HistogramVec, addr string) (*grpc.ClientConn, error) {
	unary, stream := grpcclient.Instrument(requestDuration)
	opts, err := cfg.DialOption(unary, stream)
	if err != nil {
		return nil, err
	}
	return grpc.NewClient(addr, opts...)
}

type grpcClient struct {
	conn *grpc.ClientConn
}

func (c *grpcClient) Submit(ctx context.Context, request *wire.QueryRequest, callback func(*wire.QueryResponse, error)) {
	go func() {
		response := &wire.QueryResponse{}
		if err := c.invoke(ctx, wire.MethodSubmit, request, response); err != nil {
			callback(nil, err)
			return
		}
		callback(response, nil)
	}()
}

func (c *grpcClient) Explain(ctx context.Context, request *wire.QueryRequest, callback func(*wire.ExplainResponse, error)) {
	go func() {
		response := &wire.ExplainResponse{}
		if err := c.invoke(ctx, wire.MethodExplain, request, response); err != nil {
			callback(nil, err)
			return
		}
		callback(response, nil)
	}()
}

func (c *grpcClient) Cancel(ctx context.Context, request *wire.CancelRequest) (*wire.CancelResponse, error) {
	response := &wire.CancelResponse{}
	if err := c.invoke(ctx, wire.MethodCancel, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *grpcClient) invoke(ctx context.Context, method string, request, response interface{}) error {
	return c.conn.Invoke(ctx, method, request, response, grpc.CallContentSubtype(wire.CodecName))
}

func (c *grpcClient) Close() error { return c.conn.Close() }

var timeSeriesSubmitDesc = grpc.StreamDesc{
	StreamName:    "Submit",
	ServerStreams: true,
}

type grpcTimeSeriesClient struct {
	conn *grpc.ClientConn
}

func (c *grpcTimeSeriesClient) Submit(ctx context.Context, request *wire.TimeSeriesQueryRequest, callback func(*wire.TimeSeriesResponse, error)) {
	go func() {
		stream, err := c.conn.NewStream(ctx, &timeSeriesSubmitDesc, wire.MethodTimeSeriesSubmit, grpc.CallContentSubtype(wire.CodecName))
		if err != nil {
			callback(nil, err)
			return
		}
		if err := stream.SendMsg(request); err != nil {
			callback(nil, err)
			return
		}
		if err := stream.CloseSend(); err != nil {
			callback(nil, err)
			return
		}
		for {
			response := &wire.TimeSeriesResponse{}
			if err := stream.RecvMsg(response); err != nil {
				if err != io.EOF {
					callback(nil, err)
				}
				return
			}
			callback(response, nil)
		}
	}()
}

func (c *grpcTimeSeriesClient) Close() error { return c.conn.Close() }
