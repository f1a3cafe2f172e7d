package dispatch

import (
	"context"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/queryflowproject/queryflow/pkg/datablock"
	"github.com/queryflowproject/queryflow/pkg/datatype"
	"github.com/queryflowproject/queryflow/pkg/operator"
	"github.com/queryflowproject/queryflow/pkg/plannode"
	"github.com/queryflowproject/queryflow/pkg/routing"
)

// ResultTable is the final, externally-typed result of a query.
type ResultTable struct {
	Schema *datatype.DataSchema `json:"dataSchema"`
	Rows   [][]interface{}      `json:"rows"`
}

// QueryResult bundles the result table with the per-stage execution stats
// collected along the way. QueryStats is indexed by stage id; stage 0 is the
// broker-side reduce stage.
type QueryResult struct {
	ResultTable        *ResultTable
	QueryStats         []*datablock.StageStats
	BrokerReduceTimeMs int64
}

// runReducer executes the broker-local reduce stage: it opens the receiving
// side of the root exchange, drains the worker streams and projects the raw
// rows through the result fields into externally-typed values.
func (d *QueryDispatcher) runReducer(ctx context.Context, requestID int64, plan *routing.DispatchableSubPlan, deadline time.Time, queryOptions map[string]string) (*QueryResult, error) {
	reduceStage := plan.Stages[0]
	receiveNode, ok := reduceStage.Root.(*plannode.MailboxReceiveNode)
	if !ok {
		return nil, &InvariantError{Reason: "root of the reduce stage must be a mailbox receive"}
	}
	if len(reduceStage.Workers) != 1 {
		return nil, &InvariantError{Reason: errors.Errorf("reduce stage must have exactly one worker, got %d", len(reduceStage.Workers)).Error()}
	}

	var parentSpanContext opentracing.SpanContext
	if span := opentracing.SpanFromContext(ctx); span != nil {
		parentSpanContext = span.Context()
	}

	op, err := operator.NewMailboxReceiveOperator(operator.ExecutionContext{
		RequestID:    requestID,
		Deadline:     deadline,
		QueryOptions: queryOptions,
		StageMetadata: routing.StageMetadata{
			StageID:          0,
			Workers:          reduceStage.Workers,
			CustomProperties: reduceStage.CustomProperties,
		},
		WorkerMetadata:    reduceStage.Workers[0],
		MailboxService:    d.mailboxService,
		Comparisons:       d.comparisons,
		ParentSpanContext: parentSpanContext,
	}, receiveNode)
	if err != nil {
		return nil, err
	}
	defer op.Close()

	start := time.Now()
	var rawRows [][]interface{}
	for {
		block, err := op.NextBlock()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, &TimeoutError{RequestID: requestID, Phase: "reduce"}
			}
			return nil, err
		}
		if block.IsError() {
			return nil, &ReduceError{RequestID: requestID, Exceptions: block.Exceptions()}
		}
		if block.IsSuccessfulEndOfStream() {
			table, err := projectResultTable(receiveNode.Schema(), plan.ResultFields, rawRows)
			if err != nil {
				return nil, err
			}
			stats, err := collectStageStats(block.Stats())
			if err != nil {
				return nil, err
			}
			return &QueryResult{
				ResultTable:        table,
				QueryStats:         stats,
				BrokerReduceTimeMs: time.Since(start).Milliseconds(),
			}, nil
		}
		rawRows = append(rawRows, block.ExtractRows()...)
	}
}

// projectResultTable maps raw engine rows onto the requested result fields.
// Nulls pass through untouched.
func projectResultTable(sourceSchema *datatype.DataSchema, fields []routing.ResultField, rawRows [][]interface{}) (*ResultTable, error) {
	columnNames := make([]string, len(fields))
	columnTypes := make([]datatype.DataType, len(fields))
	for i, field := range fields {
		if field.Index < 0 || field.Index >= sourceSchema.Size() {
			return nil, &InvariantError{Reason: errors.Errorf("result field %q references column %d of a %d-column schema", field.Name, field.Index, sourceSchema.Size()).Error()}
		}
		columnNames[i] = field.Name
		columnTypes[i] = sourceSchema.ColumnDataType(field.Index)
	}
	schema, err := datatype.NewDataSchema(columnNames, columnTypes)
	if err != nil {
		return nil, err
	}

	rows := make([][]interface{}, 0, len(rawRows))
	for _, raw := range rawRows {
		row := make([]interface{}, len(fields))
		for i, field := range fields {
			external, err := columnTypes[i].ToExternal(raw[field.Index])
			if err != nil {
				return nil, errors.Wrapf(err, "externalizing column %q", field.Name)
			}
			row[i] = columnTypes[i].Format(external)
		}
		rows = append(rows, row)
	}
	return &ResultTable{Schema: schema, Rows: rows}, nil
}

// collectStageStats flattens the merged multi-stage stats into a slice
// indexed by stage id. The reduce stage's own stats are sealed at position 0.
func collectStageStats(stats *datablock.MultiStageQueryStats) ([]*datablock.StageStats, error) {
	if stats == nil {
		return nil, &InvariantError{Reason: "end-of-stream block carries no query stats"}
	}
	if stats.CurrentStageID() != 0 {
		return nil, &InvariantError{Reason: errors.Errorf("expected stats of the reduce stage, got stage %d", stats.CurrentStageID()).Error()}
	}
	perStage := make([]*datablock.StageStats, stats.MaxStageID()+1)
	perStage[0] = stats.CurrentStats().Close()
	for stageID := int32(1); stageID <= stats.MaxStageID(); stageID++ {
		upstream, err := stats.UpstreamStageStats(stageID)
		if err != nil {
			perStage[stageID] = &datablock.StageStats{}
			continue
		}
		perStage[stageID] = upstream.Close()
	}
	return perStage, nil
}
