package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/queryflowproject/queryflow/pkg/routing"
	"github.com/queryflowproject/queryflow/pkg/wire"
)

// timeSeriesResponseQueueSize bounds the streamed response chunks buffered
// while the broker is between polls.
const timeSeriesResponseQueueSize = 10

var tsjson = jsoniter.ConfigCompatibleWithStandardLibrary

// Time-series broker response statuses.
const (
	TimeSeriesStatusSuccess = "success"
	TimeSeriesStatusError   = "error"
)

// BrokerTimeSeriesResponse is the broker-level envelope of a time-series
// query result. Failures are reported in-band rather than as errors.
type BrokerTimeSeriesResponse struct {
	Status       string              `json:"status"`
	Data         jsoniter.RawMessage `json:"data,omitempty"`
	ErrorType    string              `json:"errorType,omitempty"`
	ErrorMessage string              `json:"error,omitempty"`
}

// NewTimeSeriesSuccessResponse wraps a worker payload in a successful
// broker response.
func NewTimeSeriesSuccessResponse(data jsoniter.RawMessage) *BrokerTimeSeriesResponse {
	return &BrokerTimeSeriesResponse{Status: TimeSeriesStatusSuccess, Data: data}
}

// NewTimeSeriesErrorResponse builds a failed broker response.
func NewTimeSeriesErrorResponse(errorType, errorMessage string) *BrokerTimeSeriesResponse {
	return &BrokerTimeSeriesResponse{Status: TimeSeriesStatusError, ErrorType: errorType, ErrorMessage: errorMessage}
}

// SubmitAndGet dispatches a time-series plan to its single server and waits
// for the response. All failures, including the deadline expiring, are
// translated into an error-carrying broker response.
func (d *QueryDispatcher) SubmitAndGet(ctx context.Context, requestID int64, plan *routing.TimeSeriesDispatchablePlan, timeout time.Duration, queryOptions map[string]string) *BrokerTimeSeriesResponse {
	deadline := time.Now().Add(timeout)
	client, err := d.timeSeriesClientFor(plan.Server)
	if err != nil {
		return NewTimeSeriesErrorResponse(fmt.Sprintf("%T", err), err.Error())
	}

	request := &wire.TimeSeriesQueryRequest{
		DispatchPlan: plan.SerializedPlan,
		Metadata:     timeSeriesRequestMetadata(requestID, plan, queryOptions),
	}

	sendCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	responses := make(chan asyncResponse[*wire.TimeSeriesResponse], timeSeriesResponseQueueSize)
	client.Submit(sendCtx, request, func(response *wire.TimeSeriesResponse, err error) {
		select {
		case responses <- asyncResponse[*wire.TimeSeriesResponse]{response: response, err: err}:
		default:
		}
	})

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case resp := <-responses:
		if resp.err != nil {
			return NewTimeSeriesErrorResponse(fmt.Sprintf("%T", resp.err), resp.err.Error())
		}
		return translateTimeSeriesResponse(resp.response)
	case <-timer.C:
		return NewTimeSeriesErrorResponse("TimeoutException", "Timed out waiting for response")
	}
}

// translateTimeSeriesResponse turns one worker response into the broker
// envelope. Worker-reported errors travel in the response metadata; anything
// else is a payload to pass through.
func translateTimeSeriesResponse(response *wire.TimeSeriesResponse) *BrokerTimeSeriesResponse {
	if msg, ok := response.Metadata[wire.KeyErrorMessage]; ok {
		errorType, ok := response.Metadata[wire.KeyErrorType]
		if !ok {
			errorType = "unknown error-type"
		}
		return NewTimeSeriesErrorResponse(errorType, msg)
	}
	var data jsoniter.RawMessage
	if err := tsjson.Unmarshal(response.Payload, &data); err != nil {
		return NewTimeSeriesErrorResponse(fmt.Sprintf("%T", err), err.Error())
	}
	return NewTimeSeriesSuccessResponse(data)
}

// timeSeriesRequestMetadata builds the dispatch metadata of a time-series
// plan, including the per-fragment segment lists. User query options are
// copied in first so they can never shadow the built-in keys.
func timeSeriesRequestMetadata(requestID int64, plan *routing.TimeSeriesDispatchablePlan, queryOptions map[string]string) map[string]string {
	metadata := make(map[string]string, len(queryOptions)+len(plan.PlanIDToSegments)+5)
	for k, v := range queryOptions {
		metadata[k] = v
	}
	metadata[wire.KeyLanguage] = plan.Language
	metadata[wire.KeyStartTimeSeconds] = strconv.FormatInt(plan.StartTimeSeconds, 10)
	metadata[wire.KeyWindowSeconds] = strconv.FormatInt(plan.WindowSeconds, 10)
	metadata[wire.KeyNumElements] = strconv.FormatInt(plan.NumElements, 10)
	metadata[wire.KeyRequestID] = strconv.FormatInt(requestID, 10)
	for planID, segments := range plan.PlanIDToSegments {
		metadata[routing.EncodeSegmentListKey(planID)] = strings.Join(segments, ",")
	}
	return metadata
}
