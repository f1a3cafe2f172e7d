package plannode

import (
	"github.com/queryflowproject/queryflow/pkg/datatype"
)

// PlanNode is one node of a stage-plan fragment tree. The set of
// implementations is closed; new shapes require a new Visit method.
type PlanNode interface {
	Schema() *datatype.DataSchema
	Inputs() []PlanNode
	Accept(v Visitor) error
}

// Visitor dispatches over the closed set of plan-node shapes.
type Visitor interface {
	VisitTableScan(node *TableScanNode) error
	VisitFilter(node *FilterNode) error
	VisitProject(node *ProjectNode) error
	VisitAggregate(node *AggregateNode) error
	VisitSort(node *SortNode) error
	VisitMailboxSend(node *MailboxSendNode) error
	VisitMailboxReceive(node *MailboxReceiveNode) error
}

// ExchangeType describes how rows are routed between a send/receive pair.
type ExchangeType string

const (
	ExchangeSingleton ExchangeType = "SINGLETON"
	ExchangeHash      ExchangeType = "HASH"
	ExchangeBroadcast ExchangeType = "BROADCAST"
)

type baseNode struct {
	schema *datatype.DataSchema
	inputs []PlanNode
}

func (b *baseNode) Schema() *datatype.DataSchema { return b.schema }
func (b *baseNode) Inputs() []PlanNode           { return b.inputs }

// TableScanNode reads raw rows of a table segment on a server.
type TableScanNode struct {
	baseNode
	Table   string
	Columns []string
}

func NewTableScanNode(schema *datatype.DataSchema, table string, columns []string) *TableScanNode {
	return &TableScanNode{baseNode: baseNode{schema: schema}, Table: table, Columns: columns}
}

func (n *TableScanNode) Accept(v Visitor) error { return v.VisitTableScan(n) }

// FilterNode drops rows not matching the predicate.
type FilterNode struct {
	baseNode
	Predicate string
}

func NewFilterNode(schema *datatype.DataSchema, input PlanNode, predicate string) *FilterNode {
	return &FilterNode{baseNode: baseNode{schema: schema, inputs: []PlanNode{input}}, Predicate: predicate}
}

func (n *FilterNode) Accept(v Visitor) error { return v.VisitFilter(n) }

// ProjectNode computes the output expressions of its schema.
type ProjectNode struct {
	baseNode
	Expressions []string
}

func NewProjectNode(schema *datatype.DataSchema, input PlanNode, expressions []string) *ProjectNode {
	return &ProjectNode{baseNode: baseNode{schema: schema, inputs: []PlanNode{input}}, Expressions: expressions}
}

func (n *ProjectNode) Accept(v Visitor) error { return v.VisitProject(n) }

// AggregateNode groups rows and evaluates aggregation calls.
type AggregateNode struct {
	baseNode
	GroupKeys    []int
	Aggregations []string
}

func NewAggregateNode(schema *datatype.DataSchema, input PlanNode, groupKeys []int, aggregations []string) *AggregateNode {
	return &AggregateNode{baseNode: baseNode{schema: schema, inputs: []PlanNode{input}}, GroupKeys: groupKeys, Aggregations: aggregations}
}

func (n *AggregateNode) Accept(v Visitor) error { return v.VisitAggregate(n) }

// SortNode orders rows, optionally applying fetch/offset.
type SortNode struct {
	baseNode
	SortKeys   []int
	Descending []bool
	Fetch      int
	Offset     int
}

func NewSortNode(schema *datatype.DataSchema, input PlanNode, sortKeys []int, descending []bool, fetch, offset int) *SortNode {
	return &SortNode{
		baseNode:   baseNode{schema: schema, inputs: []PlanNode{input}},
		SortKeys:   sortKeys,
		Descending: descending,
		Fetch:      fetch,
		Offset:     offset,
	}
}

func (n *SortNode) Accept(v Visitor) error { return v.VisitSort(n) }

// MailboxSendNode ships its input's rows to the workers of the receiver
// stage through the mailbox layer.
type MailboxSendNode struct {
	baseNode
	ReceiverStageID  int32
	Exchange         ExchangeType
	DistributionKeys []int
}

func NewMailboxSendNode(schema *datatype.DataSchema, input PlanNode, receiverStageID int32, exchange ExchangeType, distributionKeys []int) *MailboxSendNode {
	return &MailboxSendNode{
		baseNode:         baseNode{schema: schema, inputs: []PlanNode{input}},
		ReceiverStageID:  receiverStageID,
		Exchange:         exchange,
		DistributionKeys: distributionKeys,
	}
}

func (n *MailboxSendNode) Accept(v Visitor) error { return v.VisitMailboxSend(n) }

// MailboxReceiveNode pulls blocks sent by the workers of the sender stage.
// It is always the root of the reduce stage.
type MailboxReceiveNode struct {
	baseNode
	SenderStageID int32
	Exchange      ExchangeType
}

func NewMailboxReceiveNode(schema *datatype.DataSchema, senderStageID int32, exchange ExchangeType) *MailboxReceiveNode {
	return &MailboxReceiveNode{baseNode: baseNode{schema: schema}, SenderStageID: senderStageID, Exchange: exchange}
}

func (n *MailboxReceiveNode) Accept(v Visitor) error { return v.VisitMailboxReceive(n) }
