package routing

import "fmt"

// TimeSeriesServerInstance identifies the single server a time-series query
// is dispatched to.
type TimeSeriesServerInstance struct {
	Hostname         string
	QueryServicePort int
	QueryMailboxPort int
}

// Key returns the host_port identifier of the server's time-series service.
// The dispatcher's client pools are keyed by QueryServiceAddress instead.
func (s TimeSeriesServerInstance) Key() string {
	return fmt.Sprintf("%s_%d", s.Hostname, s.QueryServicePort)
}

// QueryServiceAddress returns the dispatch endpoint of the server.
func (s TimeSeriesServerInstance) QueryServiceAddress() string {
	return fmt.Sprintf("%s:%d", s.Hostname, s.QueryServicePort)
}

// TimeSeriesDispatchablePlan is the single-server dispatch unit of a
// time-series query: an opaque serialized plan plus the routing metadata the
// worker needs to evaluate it.
type TimeSeriesDispatchablePlan struct {
	Language         string
	SerializedPlan   string
	Server           TimeSeriesServerInstance
	StartTimeSeconds int64
	WindowSeconds    int64
	NumElements      int64
	// PlanIDToSegments names the segments each plan fragment scans.
	PlanIDToSegments map[string][]string
}

// EncodeSegmentListKey builds the request-metadata key carrying the segment
// list of one plan fragment.
func EncodeSegmentListKey(planID string) string {
	return "segmentList:" + planID
}
