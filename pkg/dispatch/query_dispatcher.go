// Package dispatch implements the broker side of distributed query
// execution: it ships serialized plan fragments to the worker servers,
// runs the broker-local reduce stage, and folds the per-server streams
// into a single result.
package dispatch

import (
	"context"
	"flag"
	"runtime"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/queryflowproject/queryflow/pkg/clientpool"
	"github.com/queryflowproject/queryflow/pkg/datatype"
	"github.com/queryflowproject/queryflow/pkg/mailbox"
	"github.com/queryflowproject/queryflow/pkg/plannode"
	"github.com/queryflowproject/queryflow/pkg/routing"
	"github.com/queryflowproject/queryflow/pkg/util"
	"github.com/queryflowproject/queryflow/pkg/util/grpcclient"
	"github.com/queryflowproject/queryflow/pkg/util/spanlogger"
	"github.com/queryflowproject/queryflow/pkg/wire"
)

// Config for the query dispatcher.
type Config struct {
	GRPCClient grpcclient.Config `yaml:"grpc_client"`
}

// RegisterFlags registers flags.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.GRPCClient.RegisterFlagsWithPrefix("dispatcher", f)
}

// Validate the config.
func (cfg *Config) Validate() error {
	return cfg.GRPCClient.Validate()
}

// QueryDispatcher fans multi-stage query plans out to worker servers and
// reduces their result streams broker-side.
type QueryDispatcher struct {
	cfg    Config
	logger log.Logger

	pool   *clientpool.Pool
	tsPool *clientpool.Pool

	serializers    util.AsyncExecutor
	mailboxService *mailbox.Service
	comparisons    *datatype.ComparisonRegistry
}

// NewQueryDispatcher creates a dispatcher speaking gRPC to the workers.
func NewQueryDispatcher(cfg Config, mailboxService *mailbox.Service, reg prometheus.Registerer, logger log.Logger) *QueryDispatcher {
	requestDuration := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "queryflow",
		Name:      "dispatcher_request_duration_seconds",
		Help:      "Time spent doing requests to worker servers.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 6),
	}, []string{"operation", "status_code"})

	return NewQueryDispatcherWithFactories(cfg, mailboxService,
		NewGRPCClientFactory(cfg.GRPCClient, requestDuration),
		NewGRPCTimeSeriesClientFactory(cfg.GRPCClient, requestDuration),
		reg, logger)
}

// NewQueryDispatcherWithFactories creates a dispatcher with caller-provided
// client factories.
func NewQueryDispatcherWithFactories(cfg Config, mailboxService *mailbox.Service, factory ClientFactory, tsFactory TimeSeriesClientFactory, reg prometheus.Registerer, logger log.Logger) *QueryDispatcher {
	clientsGauge := promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "queryflow",
		Name:      "dispatcher_clients",
		Help:      "The current number of clients connected to worker servers.",
	}, []string{"client"})

	return &QueryDispatcher{
		cfg:    cfg,
		logger: logger,
		pool: clientpool.NewPool("query-worker", func(addr string) (clientpool.PoolClient, error) {
			return factory(addr)
		}, clientsGauge.WithLabelValues("query-worker"), logger),
		tsPool: clientpool.NewPool("time-series-worker", func(addr string) (clientpool.PoolClient, error) {
			return tsFactory(addr)
		}, clientsGauge.WithLabelValues("time-series-worker"), logger),
		serializers:    util.NewWorkerPool("plan-serializer", 2*runtime.GOMAXPROCS(0), reg),
		mailboxService: mailboxService,
		comparisons:    datatype.NewComparisonRegistry(),
	}
}

func (d *QueryDispatcher) clientFor(server routing.ServerInstance) (Client, error) {
	client, err := d.pool.GetClientFor(server.QueryServiceAddress())
	if err != nil {
		return nil, err
	}
	return client.(Client), nil
}

func (d *QueryDispatcher) timeSeriesClientFor(server routing.TimeSeriesServerInstance) (TimeSeriesClient, error) {
	client, err := d.tsPool.GetClientFor(server.QueryServiceAddress())
	if err != nil {
		return nil, err
	}
	return client.(TimeSeriesClient), nil
}

// SubmitAndReduce dispatches the remote stages of the plan and runs the
// broker-side reduce stage over the worker streams. Any failure after the
// first stage left the broker triggers a best-effort cancel on every server
// before the error is returned.
func (d *QueryDispatcher) SubmitAndReduce(ctx context.Context, requestID int64, plan *routing.DispatchableSubPlan, timeout time.Duration, queryOptions map[string]string) (*QueryResult, error) {
	spanLog, ctx := spanlogger.NewWithLogger(ctx, d.logger, "QueryDispatcher.SubmitAndReduce", "request_id", requestID)
	defer spanLog.Span.Finish()

	deadline := time.Now().Add(timeout)
	if err := d.submit(ctx, requestID, plan, deadline, queryOptions); err != nil {
		d.Cancel(requestID, plan)
		return nil, spanLog.Error(err)
	}
	result, err := d.runReducer(ctx, requestID, plan, deadline, queryOptions)
	if err != nil {
		d.Cancel(requestID, plan)
		return nil, spanLog.Error(err)
	}
	return result, nil
}

func (d *QueryDispatcher) submit(ctx context.Context, requestID int64, plan *routing.DispatchableSubPlan, deadline time.Time, queryOptions map[string]string) error {
	if len(plan.Stages) < 2 {
		return &InvariantError{Reason: "dispatchable plan has no remote stages"}
	}
	fragments, servers, err := d.serializePlanFragments(requestID, plan.Stages[1:], deadline)
	if err != nil {
		return err
	}
	metadata := prepareRequestMetadata(requestID, deadline, queryOptions)

	sendCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return execute(d.logger, deadline, servers,
		func(server routing.ServerInstance, callback func(*wire.QueryResponse, error)) {
			request, err := createRequest(fragments, server, metadata)
			if err != nil {
				callback(nil, err)
				return
			}
			client, err := d.clientFor(server)
			if err != nil {
				callback(nil, err)
				return
			}
			client.Submit(sendCtx, request, callback)
		},
		func(server routing.ServerInstance, response *wire.QueryResponse, err error) error {
			if err != nil {
				return &DispatchError{RequestID: requestID, Server: server, Cause: err}
			}
			if msg, ok := response.Metadata[wire.StatusError]; ok {
				return &DispatchError{RequestID: requestID, Server: server, Cause: errors.New(msg)}
			}
			return nil
		},
		&TimeoutError{RequestID: requestID, Phase: "submit"})
}

// Explain dispatches the plan to every participating server and returns the
// plan fragments each server would actually execute, after its own rewrites.
func (d *QueryDispatcher) Explain(ctx context.Context, requestID int64, plan *routing.DispatchableSubPlan, timeout time.Duration, queryOptions map[string]string) (map[routing.ServerInstance][]plannode.PlanNode, error) {
	spanLog, ctx := spanlogger.NewWithLogger(ctx, d.logger, "QueryDispatcher.Explain", "request_id", requestID)
	defer spanLog.Span.Finish()

	deadline := time.Now().Add(timeout)
	if len(plan.Stages) < 2 {
		return nil, spanLog.Error(&InvariantError{Reason: "dispatchable plan has no remote stages"})
	}
	fragments, servers, err := d.serializePlanFragments(requestID, plan.Stages[1:], deadline)
	if err != nil {
		return nil, spanLog.Error(err)
	}
	metadata := prepareRequestMetadata(requestID, deadline, queryOptions)

	sendCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	plans := make(map[routing.ServerInstance][]plannode.PlanNode, len(servers))
	err = execute(d.logger, deadline, servers,
		func(server routing.ServerInstance, callback func(*wire.ExplainResponse, error)) {
			request, err := createRequest(fragments, server, metadata)
			if err != nil {
				callback(nil, err)
				return
			}
			client, err := d.clientFor(server)
			if err != nil {
				callback(nil, err)
				return
			}
			client.Explain(sendCtx, request, callback)
		},
		func(server routing.ServerInstance, response *wire.ExplainResponse, err error) error {
			if err != nil {
				return &ExplainError{RequestID: requestID, Server: server, Cause: err}
			}
			for _, stagePlan := range response.StagePlans {
				node, err := plannode.Deserialize(stagePlan.RootNode)
				if err != nil {
					return &ExplainError{RequestID: requestID, Server: server, Cause: err}
				}
				plans[server] = append(plans[server], node)
			}
			return nil
		},
		&TimeoutError{RequestID: requestID, Phase: "explain"})
	if err != nil {
		return nil, spanLog.Error(err)
	}
	return plans, nil
}

// Cancel asks every server participating in the remote stages to abort the
// query. Cancellation is best effort; failures are logged and swallowed.
func (d *QueryDispatcher) Cancel(requestID int64, plan *routing.DispatchableSubPlan) {
	if len(plan.Stages) < 2 {
		return
	}
	for server := range serverUnion(plan.Stages[1:]) {
		client, err := d.clientFor(server)
		if err != nil {
			level.Warn(d.logger).Log("msg", "caught exception while cancelling query", "request_id", requestID, "server", server.String(), "err", err)
			continue
		}
		if _, err := client.Cancel(context.Background(), &wire.CancelRequest{RequestID: requestID}); err != nil {
			level.Warn(d.logger).Log("msg", "caught exception while cancelling query", "request_id", requestID, "server", server.String(), "err", err)
		}
	}
}

// Shutdown closes every pooled client, the serializer pool and the mailbox
// service.
func (d *QueryDispatcher) Shutdown() {
	d.pool.Shutdown()
	d.tsPool.Shutdown()
	d.serializers.Stop()
	d.mailboxService.Shutdown()
}

// serializedFragment pairs one remote stage with the serialized form of its
// plan tree and custom properties. The serialization is shared by every
// server the stage runs on.
type serializedFragment struct {
	stageID          int32
	rootNode         jsoniter.RawMessage
	customProperties jsoniter.RawMessage
	fragment         routing.DispatchablePlanFragment
}

// serializePlanFragments serializes every remote stage on the worker pool
// and collects the union of participating servers. The futures are awaited
// in stage order, each bounded by the remaining deadline. Tasks that have not
// started by the time it returns are skipped.
func (d *QueryDispatcher) serializePlanFragments(requestID int64, stages []routing.DispatchablePlanFragment, deadline time.Time) ([]serializedFragment, []routing.ServerInstance, error) {
	type result struct {
		rootNode []byte
		props    []byte
		err      error
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	futures := make([]chan result, len(stages))
	serverSet := map[routing.ServerInstance]struct{}{}
	for i, stage := range stages {
		stage := stage
		for server := range stage.ServerToWorkerIDs {
			serverSet[server] = struct{}{}
		}
		future := make(chan result, 1)
		futures[i] = future
		d.serializers.Submit(func() {
			if err := ctx.Err(); err != nil {
				future <- result{err: err}
				return
			}
			rootNode, err := plannode.Serialize(stage.Root)
			if err != nil {
				future <- result{err: err}
				return
			}
			props, err := routing.MarshalProperties(stage.CustomProperties)
			future <- result{rootNode: rootNode, props: props, err: err}
		})
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	fragments := make([]serializedFragment, len(stages))
	for i, future := range futures {
		select {
		case res := <-future:
			if res.err != nil {
				return nil, nil, errors.Wrapf(res.err, "serializing plan fragment of stage %d", i+1)
			}
			fragments[i] = serializedFragment{
				// Wire stage ids are offset by the broker-local reduce stage.
				stageID:          int32(i + 1),
				rootNode:         res.rootNode,
				customProperties: res.props,
				fragment:         stages[i],
			}
		case <-timer.C:
			return nil, nil, &TimeoutError{RequestID: requestID, Phase: "plan serialization"}
		}
	}

	servers := make([]routing.ServerInstance, 0, len(serverSet))
	for server := range serverSet {
		servers = append(servers, server)
	}
	return fragments, servers, nil
}

// createRequest projects the dispatchable plan onto one server: only the
// stages the server participates in are included, and each included stage
// carries only the metadata of the workers running on that server.
func createRequest(fragments []serializedFragment, server routing.ServerInstance, metadata map[string]string) (*wire.QueryRequest, error) {
	stagePlans := make([]wire.StagePlan, 0, len(fragments))
	for _, frag := range fragments {
		workerIDs, ok := frag.fragment.ServerToWorkerIDs[server]
		if !ok || len(workerIDs) == 0 {
			continue
		}
		workers := make([]routing.WorkerMetadata, 0, len(workerIDs))
		for _, id := range workerIDs {
			if id < 0 || id >= len(frag.fragment.Workers) {
				return nil, &InvariantError{Reason: errors.Errorf("stage %d has no worker %d", frag.stageID, id).Error()}
			}
			workers = append(workers, frag.fragment.Workers[id])
		}
		stagePlans = append(stagePlans, wire.StagePlan{
			StageID:          frag.stageID,
			RootNode:         frag.rootNode,
			Workers:          workers,
			CustomProperties: frag.customProperties,
		})
	}
	return &wire.QueryRequest{
		Version:    wire.ProtocolVersion,
		Metadata:   metadata,
		StagePlans: stagePlans,
	}, nil
}

// prepareRequestMetadata builds the request metadata shared by every server.
// User query options are copied in first so they can never shadow the
// requestId and timeoutMs keys.
func prepareRequestMetadata(requestID int64, deadline time.Time, queryOptions map[string]string) map[string]string {
	metadata := make(map[string]string, len(queryOptions)+2)
	for k, v := range queryOptions {
		metadata[k] = v
	}
	metadata[wire.KeyRequestID] = strconv.FormatInt(requestID, 10)
	metadata[wire.KeyTimeoutMs] = strconv.FormatInt(time.Until(deadline).Milliseconds(), 10)
	return metadata
}

func serverUnion(stages []routing.DispatchablePlanFragment) map[routing.ServerInstance]struct{} {
	servers := map[routing.ServerInstance]struct{}{}
	for _, stage := range stages {
		for server := range stage.ServerToWorkerIDs {
			servers[server] = struct{}{}
		}
	}
	return servers
}
