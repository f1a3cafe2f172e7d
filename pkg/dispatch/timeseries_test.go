package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/queryflowproject/queryflow/pkg/routing"
	"github.com/queryflowproject/queryflow/pkg/wire"
)

// tsEnv coordinates the fake time-series clients of one test.
type tsEnv struct {
	mtx sync.Mutex

	response *wire.TimeSeriesResponse
	err      error
	silent   bool

	requests []*wire.TimeSeriesQueryRequest
}

func newTSEnv() *tsEnv { return &tsEnv{} }

func (c *fakeTimeSeriesClient) Submit(_ context.Context, request *wire.TimeSeriesQueryRequest, callback func(*wire.TimeSeriesResponse, error)) {
	c.env.mtx.Lock()
	c.env.requests = append(c.env.requests, request)
	response, err, silent := c.env.response, c.env.err, c.env.silent
	c.env.mtx.Unlock()

	if silent {
		return
	}
	callback(response, err)
}

func (c *fakeTimeSeriesClient) Close() error { return nil }

var tsServer = routing.TimeSeriesServerInstance{Hostname: "host-ts", QueryServicePort: 9003, QueryMailboxPort: 9103}

func timeSeriesPlan() *routing.TimeSeriesDispatchablePlan {
	return &routing.TimeSeriesDispatchablePlan{
		Language:         "m3ql",
		SerializedPlan:   `{"root":"fetch"}`,
		Server:           tsServer,
		StartTimeSeconds: 1500000000,
		WindowSeconds:    60,
		NumElements:      120,
		PlanIDToSegments: map[string][]string{"plan-1": {"seg-1", "seg-2"}},
	}
}

func TestSubmitAndGetSuccess(t *testing.T) {
	tse := newTSEnv()
	tse.response = &wire.TimeSeriesResponse{Payload: []byte(`{"series":[{"name":"cpu"}]}`)}
	d, _ := newTestDispatcher(t, newFakeEnv(), tse)

	response := d.SubmitAndGet(context.Background(), 42, timeSeriesPlan(), 5*time.Second, map[string]string{"step": "60", wire.KeyRequestID: "999"})
	require.Equal(t, TimeSeriesStatusSuccess, response.Status)
	require.JSONEq(t, `{"series":[{"name":"cpu"}]}`, string(response.Data))
	require.Empty(t, response.ErrorType)

	tse.mtx.Lock()
	defer tse.mtx.Unlock()
	require.Len(t, tse.requests, 1)
	request := tse.requests[0]
	require.Equal(t, `{"root":"fetch"}`, request.DispatchPlan)
	require.Equal(t, "m3ql", request.Metadata[wire.KeyLanguage])
	require.Equal(t, "1500000000", request.Metadata[wire.KeyStartTimeSeconds])
	require.Equal(t, "60", request.Metadata[wire.KeyWindowSeconds])
	require.Equal(t, "120", request.Metadata[wire.KeyNumElements])
	// User options can never shadow the built-in keys.
	require.Equal(t, "42", request.Metadata[wire.KeyRequestID])
	require.Equal(t, "seg-1,seg-2", request.Metadata[routing.EncodeSegmentListKey("plan-1")])
	require.Equal(t, "60", request.Metadata["step"])
}

func TestSubmitAndGetWorkerError(t *testing.T) {
	tse := newTSEnv()
	tse.response = &wire.TimeSeriesResponse{Metadata: map[string]string{
		wire.KeyErrorType:    "IllegalStateException",
		wire.KeyErrorMessage: "segment missing",
	}}
	d, _ := newTestDispatcher(t, newFakeEnv(), tse)

	response := d.SubmitAndGet(context.Background(), 42, timeSeriesPlan(), 5*time.Second, nil)
	require.Equal(t, TimeSeriesStatusError, response.Status)
	require.Equal(t, "IllegalStateException", response.ErrorType)
	require.Equal(t, "segment missing", response.ErrorMessage)
}

func TestSubmitAndGetWorkerErrorWithoutType(t *testing.T) {
	tse := newTSEnv()
	tse.response = &wire.TimeSeriesResponse{Metadata: map[string]string{
		wire.KeyErrorMessage: "segment missing",
	}}
	d, _ := newTestDispatcher(t, newFakeEnv(), tse)

	response := d.SubmitAndGet(context.Background(), 42, timeSeriesPlan(), 5*time.Second, nil)
	require.Equal(t, TimeSeriesStatusError, response.Status)
	require.Equal(t, "unknown error-type", response.ErrorType)
	require.Equal(t, "segment missing", response.ErrorMessage)
}

func TestSubmitAndGetTransportError(t *testing.T) {
	tse := newTSEnv()
	tse.err = errors.New("connection refused")
	d, _ := newTestDispatcher(t, newFakeEnv(), tse)

	response := d.SubmitAndGet(context.Background(), 42, timeSeriesPlan(), 5*time.Second, nil)
	require.Equal(t, TimeSeriesStatusError, response.Status)
	require.NotEmpty(t, response.ErrorType)
	require.Contains(t, response.ErrorMessage, "connection refused")
}

func TestSubmitAndGetTimesOut(t *testing.T) {
	tse := newTSEnv()
	tse.silent = true
	d, _ := newTestDispatcher(t, newFakeEnv(), tse)

	response := d.SubmitAndGet(context.Background(), 42, timeSeriesPlan(), 50*time.Millisecond, nil)
	require.Equal(t, TimeSeriesStatusError, response.Status)
	require.Equal(t, "TimeoutException", response.ErrorType)
	require.Equal(t, "Timed out waiting for response", response.ErrorMessage)
}

func TestSubmitAndGetMalformedPayload(t *testing.T) {
	tse := newTSEnv()
	tse.response = &wire.TimeSeriesResponse{Payload: []byte(`not json`)}
	d, _ := newTestDispatcher(t, newFakeEnv(), tse)

	response := d.SubmitAndGet(context.Background(), 42, timeSeriesPlan(), 5*time.Second, nil)
	require.Equal(t, TimeSeriesStatusError, response.Status)
	require.NotEmpty(t, response.ErrorMessage)
}
