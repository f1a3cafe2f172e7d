package operator

import (
	"context"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/queryflowproject/queryflow/pkg/datablock"
	"github.com/queryflowproject/queryflow/pkg/datatype"
	"github.com/queryflowproject/queryflow/pkg/mailbox"
	"github.com/queryflowproject/queryflow/pkg/plannode"
	"github.com/queryflowproject/queryflow/pkg/routing"
)

// ExecutionContext carries the per-request state an operator needs.
type ExecutionContext struct {
	RequestID         int64
	Deadline          time.Time
	QueryOptions      map[string]string
	StageMetadata     routing.StageMetadata
	WorkerMetadata    routing.WorkerMetadata
	MailboxService    *mailbox.Service
	Comparisons       *datatype.ComparisonRegistry
	ParentSpanContext opentracing.SpanContext
}

// MailboxReceiveOperator drains the mailboxes filled by the workers of the
// sender stage. Mailboxes are drained in worker order; the mailbox layer
// guarantees per-sender block order.
type MailboxReceiveOperator struct {
	ctx    context.Context
	cancel context.CancelFunc
	span   opentracing.Span

	service   *mailbox.Service
	mailboxes []*mailbox.ReceivingMailbox
	current   int
	stats     *datablock.MultiStageQueryStats
	finished  bool
}

// NewMailboxReceiveOperator opens the receiving side of the exchange
// described by node within the given execution context.
func NewMailboxReceiveOperator(execCtx ExecutionContext, node *plannode.MailboxReceiveNode) (*MailboxReceiveOperator, error) {
	infos := execCtx.WorkerMetadata.MailboxInfos[node.SenderStageID]
	if len(infos) == 0 {
		return nil, errors.Errorf("no sender mailboxes registered for stage %d", node.SenderStageID)
	}

	ctx, cancel := context.WithDeadline(context.Background(), execCtx.Deadline)

	var span opentracing.Span
	if execCtx.ParentSpanContext != nil {
		span = opentracing.GlobalTracer().StartSpan("MailboxReceiveOperator", opentracing.ChildOf(execCtx.ParentSpanContext))
	} else {
		span = opentracing.NoopTracer{}.StartSpan("MailboxReceiveOperator")
	}
	span.SetTag("request_id", execCtx.RequestID)
	span.SetTag("stage_id", execCtx.StageMetadata.StageID)

	op := &MailboxReceiveOperator{
		ctx:     ctx,
		cancel:  cancel,
		span:    span,
		service: execCtx.MailboxService,
		stats:   datablock.NewMultiStageQueryStats(execCtx.StageMetadata.StageID),
	}
	for _, info := range infos {
		id := mailbox.ID(execCtx.RequestID, node.SenderStageID, info.WorkerID,
			execCtx.StageMetadata.StageID, execCtx.WorkerMetadata.WorkerID)
		op.mailboxes = append(op.mailboxes, execCtx.MailboxService.ReceivingMailbox(id))
	}
	return op, nil
}

// NextBlock returns the next block of the merged stream. Row blocks are
// passed through; per-sender end-of-stream blocks are folded into the
// operator's stats until every sender finished, at which point a single
// successful end-of-stream block carrying the merged stats is returned.
// An error block from any sender ends the stream immediately.
func (o *MailboxReceiveOperator) NextBlock() (*datablock.Block, error) {
	if o.finished {
		return datablock.NewSuccessBlock(o.stats), nil
	}
	for o.current < len(o.mailboxes) {
		block, err := o.mailboxes[o.current].Poll(o.ctx)
		if err != nil {
			return nil, err
		}
		if block.IsError() {
			o.finished = true
			return block, nil
		}
		if block.IsSuccessfulEndOfStream() {
			if upstream := block.Stats(); upstream != nil {
				if err := o.stats.Merge(upstream); err != nil {
					return nil, err
				}
			}
			o.current++
			continue
		}
		o.stats.CurrentStats().RecordBlock(block.NumRows())
		return block, nil
	}
	o.finished = true
	return datablock.NewSuccessBlock(o.stats), nil
}

// Close releases the operator's mailboxes. Undrained senders are cut off.
func (o *MailboxReceiveOperator) Close() {
	o.cancel()
	for _, mb := range o.mailboxes {
		mb.EarlyTerminate()
		o.service.ReleaseReceivingMailbox(mb)
	}
	o.span.Finish()
}
