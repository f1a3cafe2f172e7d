// Package wire defines the messages exchanged between the broker and the
// query workers. Messages travel over gRPC using the package's JSON codec,
// so none of them need generated stubs.
package wire

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/queryflowproject/queryflow/pkg/routing"
)

// QueryRequest carries every stage a single server participates in.
type QueryRequest struct {
	Version    int               `json:"version"`
	Metadata   map[string]string `json:"metadata"`
	StagePlans []StagePlan       `json:"stagePlans"`
}

// StagePlan is one stage of a query as dispatched to one server: the
// serialized root plan node and custom properties plus the metadata of the
// workers running it. Both byte fields are decoded worker-side, the
// properties via routing.UnmarshalProperties.
type StagePlan struct {
	StageID          int32                    `json:"stageId"`
	RootNode         jsoniter.RawMessage      `json:"rootNode"`
	Workers          []routing.WorkerMetadata `json:"workers"`
	CustomProperties jsoniter.RawMessage      `json:"customProperties,omitempty"`
}

// QueryResponse acknowledges a submit. A failed submit carries the
// StatusError key in its metadata.
type QueryResponse struct {
	Metadata map[string]string `json:"metadata"`
}

// ExplainResponse returns the plan fragments a server would execute,
// re-serialized after server-side rewrites.
type ExplainResponse struct {
	StagePlans []StagePlan       `json:"stagePlans"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CancelRequest asks a server to abort all stages of one query.
type CancelRequest struct {
	RequestID int64 `json:"requestId"`
}

// CancelResponse acknowledges a cancel.
type CancelResponse struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TimeSeriesQueryRequest carries an opaque serialized time-series plan and
// the metadata the worker needs to evaluate it.
type TimeSeriesQueryRequest struct {
	DispatchPlan string            `json:"dispatchPlan"`
	Metadata     map[string]string `json:"metadata"`
}

// TimeSeriesResponse is one payload chunk of a time-series result stream,
// or an error report delivered through its metadata.
type TimeSeriesResponse struct {
	Payload  []byte            `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
