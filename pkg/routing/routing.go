package routing

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/queryflowproject/queryflow/pkg/plannode"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ServerInstance identifies one worker server. Two instances differing only
// in mailbox port address the same query service endpoint.
type ServerInstance struct {
	Hostname         string
	QueryServicePort int
	QueryMailboxPort int
}

// QueryServiceAddress returns the dispatch endpoint of the server.
func (s ServerInstance) QueryServiceAddress() string {
	return fmt.Sprintf("%s:%d", s.Hostname, s.QueryServicePort)
}

// Key returns the host_port identifier of the server's query service. The
// dispatcher's client pools are keyed by QueryServiceAddress instead.
func (s ServerInstance) Key() string {
	return fmt.Sprintf("%s_%d", s.Hostname, s.QueryServicePort)
}

func (s ServerInstance) String() string {
	return fmt.Sprintf("%s@%d|%d", s.Hostname, s.QueryServicePort, s.QueryMailboxPort)
}

// MailboxInfo locates one sender worker's mailbox endpoint.
type MailboxInfo struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	WorkerID int    `json:"workerId"`
}

// WorkerMetadata describes one logical worker of a stage: where it runs and
// how to reach the mailboxes of the stages it exchanges rows with, keyed by
// stage id.
type WorkerMetadata struct {
	WorkerID     int                   `json:"workerId"`
	Hostname     string                `json:"hostname"`
	MailboxPort  int                   `json:"mailboxPort"`
	MailboxInfos map[int32][]MailboxInfo `json:"mailboxInfos,omitempty"`
}

// StageMetadata bundles the per-stage routing information shipped to (or
// kept by) the workers of one stage.
type StageMetadata struct {
	StageID          int32
	Workers          []WorkerMetadata
	CustomProperties map[string]string
}

// DispatchablePlanFragment is one stage plan pinned to a set of workers.
type DispatchablePlanFragment struct {
	// Root of the plan-fragment tree.
	Root plannode.PlanNode
	// ServerToWorkerIDs names which logical workers on each server execute
	// this stage. Worker ids index into Workers.
	ServerToWorkerIDs map[ServerInstance][]int
	// Workers is the full ordered worker list of the stage.
	Workers []WorkerMetadata
	// CustomProperties is an opaque planner-provided map.
	CustomProperties map[string]string
}

// ResultField projects one source column into the result table.
type ResultField struct {
	// Index of the column in the reduce stage's source schema.
	Index int
	// Name of the output column.
	Name string
}

// DispatchableSubPlan is the ordered stage list produced by the planner.
// Stage 0 is the reduce stage and runs broker-side; stages 1..N are remote.
type DispatchableSubPlan struct {
	Stages       []DispatchablePlanFragment
	ResultFields []ResultField
}

// MarshalProperties serializes an opaque key/value property map. Keys are
// sorted, so identical maps produce identical bytes.
func MarshalProperties(properties map[string]string) ([]byte, error) {
	if properties == nil {
		properties = map[string]string{}
	}
	data, err := json.Marshal(properties)
	return data, errors.Wrap(err, "marshalling properties")
}

// UnmarshalProperties reverses MarshalProperties.
func UnmarshalProperties(data []byte) (map[string]string, error) {
	properties := map[string]string{}
	if len(data) == 0 {
		return properties, nil
	}
	err := json.Unmarshal(data, &properties)
	return properties, errors.Wrap(err, "unmarshalling properties")
}
