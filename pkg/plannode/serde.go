package plannode

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/queryflowproject/queryflow/pkg/datatype"
)

// json sorts map keys like encoding/json, which keeps serialized plans
// byte-identical across runs for identical inputs.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	nodeTypeTableScan      = "TABLE_SCAN"
	nodeTypeFilter         = "FILTER"
	nodeTypeProject        = "PROJECT"
	nodeTypeAggregate      = "AGGREGATE"
	nodeTypeSort           = "SORT"
	nodeTypeMailboxSend    = "MAILBOX_SEND"
	nodeTypeMailboxReceive = "MAILBOX_RECEIVE"
)

type envelope struct {
	Type       string              `json:"type"`
	Schema     *datatype.DataSchema `json:"dataSchema"`
	Attributes jsoniter.RawMessage `json:"attributes,omitempty"`
	Inputs     []*envelope         `json:"inputs,omitempty"`
}

type tableScanAttrs struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
}

type filterAttrs struct {
	Predicate string `json:"predicate"`
}

type projectAttrs struct {
	Expressions []string `json:"expressions"`
}

type aggregateAttrs struct {
	GroupKeys    []int    `json:"groupKeys"`
	Aggregations []string `json:"aggregations"`
}

type sortAttrs struct {
	SortKeys   []int  `json:"sortKeys"`
	Descending []bool `json:"descending"`
	Fetch      int    `json:"fetch"`
	Offset     int    `json:"offset"`
}

type mailboxSendAttrs struct {
	ReceiverStageID  int32        `json:"receiverStageId"`
	Exchange         ExchangeType `json:"exchangeType"`
	DistributionKeys []int        `json:"distributionKeys"`
}

type mailboxReceiveAttrs struct {
	SenderStageID int32        `json:"senderStageId"`
	Exchange      ExchangeType `json:"exchangeType"`
}

// Serialize converts a plan-node tree to its wire form. For a fixed tree
// the output is deterministic.
func Serialize(node PlanNode) ([]byte, error) {
	env, err := toEnvelope(node)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Deserialize reverses Serialize.
func Deserialize(data []byte) (PlanNode, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "unmarshalling plan node")
	}
	return fromEnvelope(&env)
}

func toEnvelope(node PlanNode) (*envelope, error) {
	var (
		nodeType string
		attrs    interface{}
	)
	switch n := node.(type) {
	case *TableScanNode:
		nodeType, attrs = nodeTypeTableScan, tableScanAttrs{Table: n.Table, Columns: n.Columns}
	case *FilterNode:
		nodeType, attrs = nodeTypeFilter, filterAttrs{Predicate: n.Predicate}
	case *ProjectNode:
		nodeType, attrs = nodeTypeProject, projectAttrs{Expressions: n.Expressions}
	case *AggregateNode:
		nodeType, attrs = nodeTypeAggregate, aggregateAttrs{GroupKeys: n.GroupKeys, Aggregations: n.Aggregations}
	case *SortNode:
		nodeType, attrs = nodeTypeSort, sortAttrs{SortKeys: n.SortKeys, Descending: n.Descending, Fetch: n.Fetch, Offset: n.Offset}
	case *MailboxSendNode:
		nodeType, attrs = nodeTypeMailboxSend, mailboxSendAttrs{ReceiverStageID: n.ReceiverStageID, Exchange: n.Exchange, DistributionKeys: n.DistributionKeys}
	case *MailboxReceiveNode:
		nodeType, attrs = nodeTypeMailboxReceive, mailboxReceiveAttrs{SenderStageID: n.SenderStageID, Exchange: n.Exchange}
	default:
		return nil, errors.Errorf("unknown plan node type %T", node)
	}

	rawAttrs, err := json.Marshal(attrs)
	if err != nil {
		return nil, errors.Wrapf(err, "marshalling %s attributes", nodeType)
	}

	env := &envelope{Type: nodeType, Schema: node.Schema(), Attributes: rawAttrs}
	for _, input := range node.Inputs() {
		inputEnv, err := toEnvelope(input)
		if err != nil {
			return nil, err
		}
		env.Inputs = append(env.Inputs, inputEnv)
	}
	return env, nil
}

func fromEnvelope(env *envelope) (PlanNode, error) {
	inputs := make([]PlanNode, 0, len(env.Inputs))
	for _, inputEnv := range env.Inputs {
		input, err := fromEnvelope(inputEnv)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, input)
	}

	requireInputs := func(n int) error {
		if len(inputs) != n {
			return errors.Errorf("%s node has %d inputs, want %d", env.Type, len(inputs), n)
		}
		return nil
	}

	switch env.Type {
	case nodeTypeTableScan:
		var attrs tableScanAttrs
		if err := unmarshalAttrs(env, &attrs); err != nil {
			return nil, err
		}
		return NewTableScanNode(env.Schema, attrs.Table, attrs.Columns), nil
	case nodeTypeFilter:
		var attrs filterAttrs
		if err := unmarshalAttrs(env, &attrs); err != nil {
			return nil, err
		}
		if err := requireInputs(1); err != nil {
			return nil, err
		}
		return NewFilterNode(env.Schema, inputs[0], attrs.Predicate), nil
	case nodeTypeProject:
		var attrs projectAttrs
		if err := unmarshalAttrs(env, &attrs); err != nil {
			return nil, err
		}
		if err := requireInputs(1); err != nil {
			return nil, err
		}
		return NewProjectNode(env.Schema, inputs[0], attrs.Expressions), nil
	case nodeTypeAggregate:
		var attrs aggregateAttrs
		if err := unmarshalAttrs(env, &attrs); err != nil {
			return nil, err
		}
		if err := requireInputs(1); err != nil {
			return nil, err
		}
		return NewAggregateNode(env.Schema, inputs[0], attrs.GroupKeys, attrs.Aggregations), nil
	case nodeTypeSort:
		var attrs sortAttrs
		if err := unmarshalAttrs(env, &attrs); err != nil {
			return nil, err
		}
		if err := requireInputs(1); err != nil {
			return nil, err
		}
		return NewSortNode(env.Schema, inputs[0], attrs.SortKeys, attrs.Descending, attrs.Fetch, attrs.Offset), nil
	case nodeTypeMailboxSend:
		var attrs mailboxSendAttrs
		if err := unmarshalAttrs(env, &attrs); err != nil {
			return nil, err
		}
		if err := requireInputs(1); err != nil {
			return nil, err
		}
		return NewMailboxSendNode(env.Schema, inputs[0], attrs.ReceiverStageID, attrs.Exchange, attrs.DistributionKeys), nil
	case nodeTypeMailboxReceive:
		var attrs mailboxReceiveAttrs
		if err := unmarshalAttrs(env, &attrs); err != nil {
			return nil, err
		}
		if err := requireInputs(0); err != nil {
			return nil, err
		}
		return NewMailboxReceiveNode(env.Schema, attrs.SenderStageID, attrs.Exchange), nil
	}
	return nil, errors.Errorf("unknown plan node type %q", env.Type)
}

func unmarshalAttrs(env *envelope, attrs interface{}) error {
	if len(env.Attributes) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(env.Attributes, attrs), "unmarshalling %s attributes", env.Type)
}
