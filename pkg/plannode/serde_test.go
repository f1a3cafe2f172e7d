package plannode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/queryflowproject/queryflow/pkg/datatype"
)

func scanSchema(t *testing.T) *datatype.DataSchema {
	t.Helper()
	schema, err := datatype.NewDataSchema(
		[]string{"id", "name", "score"},
		[]datatype.DataType{datatype.Long, datatype.String, datatype.Double},
	)
	require.NoError(t, err)
	return schema
}

func buildFragment(t *testing.T) PlanNode {
	schema := scanSchema(t)
	scan := NewTableScanNode(schema, "events", []string{"id", "name", "score"})
	filter := NewFilterNode(schema, scan, "score > 0.5")
	agg := NewAggregateNode(schema, filter, []int{1}, []string{"SUM(score)"})
	sort := NewSortNode(schema, agg, []int{0}, []bool{true}, 10, 0)
	return NewMailboxSendNode(schema, sort, 0, ExchangeHash, []int{1})
}

func TestSerializeRoundTrip(t *testing.T) {
	root := buildFragment(t)

	data, err := Serialize(root)
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)

	send, ok := decoded.(*MailboxSendNode)
	require.True(t, ok)
	require.Equal(t, int32(0), send.ReceiverStageID)
	require.Equal(t, ExchangeHash, send.Exchange)
	require.Equal(t, []int{1}, send.DistributionKeys)
	require.True(t, send.Schema().Equals(root.Schema()))

	sort, ok := send.Inputs()[0].(*SortNode)
	require.True(t, ok)
	require.Equal(t, []int{0}, sort.SortKeys)
	require.Equal(t, []bool{true}, sort.Descending)
	require.Equal(t, 10, sort.Fetch)

	agg, ok := sort.Inputs()[0].(*AggregateNode)
	require.True(t, ok)
	require.Equal(t, []int{1}, agg.GroupKeys)
	require.Equal(t, []string{"SUM(score)"}, agg.Aggregations)

	filter, ok := agg.Inputs()[0].(*FilterNode)
	require.True(t, ok)
	require.Equal(t, "score > 0.5", filter.Predicate)

	scan, ok := filter.Inputs()[0].(*TableScanNode)
	require.True(t, ok)
	require.Equal(t, "events", scan.Table)
	require.Equal(t, []string{"id", "name", "score"}, scan.Columns)
	require.Empty(t, scan.Inputs())
}

func TestSerializeReceiveRoundTrip(t *testing.T) {
	schema := scanSchema(t)
	receive := NewMailboxReceiveNode(schema, 3, ExchangeSingleton)

	data, err := Serialize(receive)
	require.NoError(t, err)

	decoded, err := Deserialize(data)
	require.NoError(t, err)
	got, ok := decoded.(*MailboxReceiveNode)
	require.True(t, ok)
	require.Equal(t, int32(3), got.SenderStageID)
	require.Equal(t, ExchangeSingleton, got.Exchange)
}

func TestSerializeIsDeterministic(t *testing.T) {
	root := buildFragment(t)

	first, err := Serialize(root)
	require.NoError(t, err)
	second, err := Serialize(root)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize([]byte(`{"type":"NO_SUCH_NODE"}`))
	require.Error(t, err)

	_, err = Deserialize([]byte(`not json`))
	require.Error(t, err)
}
