package wire

// ProtocolVersion is the query wire protocol version stamped on every
// dispatched request.
const ProtocolVersion = 1

// Request metadata keys shared by every stage of a dispatched query.
const (
	KeyRequestID = "requestId"
	KeyTimeoutMs = "timeoutMs"
)

// StatusError marks a per-server submit response that failed on the worker.
const StatusError = "ERROR"

// Time-series request metadata keys.
const (
	KeyLanguage         = "language"
	KeyStartTimeSeconds = "startTimeSeconds"
	KeyWindowSeconds    = "windowSeconds"
	KeyNumElements      = "numElements"
)

// Time-series response metadata keys reported by workers.
const (
	KeyErrorType    = "error_type"
	KeyErrorMessage = "error_message"
)

// gRPC method names of the worker query service.
const (
	MethodSubmit  = "/queryflow.QueryWorker/Submit"
	MethodExplain = "/queryflow.QueryWorker/Explain"
	MethodCancel  = "/queryflow.QueryWorker/Cancel"
)

// MethodTimeSeriesSubmit is the single method of the worker time-series
// service.
const MethodTimeSeriesSubmit = "/queryflow.TimeSeriesQueryWorker/Submit"
