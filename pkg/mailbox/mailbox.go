package mailbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/queryflowproject/queryflow/pkg/datablock"
)

// maxPendingBlocks bounds the number of undelivered blocks buffered per
// mailbox before senders start blocking.
const maxPendingBlocks = 8

// ID builds the canonical mailbox id of one sender/receiver worker pair.
func ID(requestID int64, senderStageID int32, senderWorkerID int, receiverStageID int32, receiverWorkerID int) string {
	return fmt.Sprintf("%d|%d|%d|%d|%d", requestID, senderStageID, senderWorkerID, receiverStageID, receiverWorkerID)
}

// Service hosts the receiving mailboxes of one process. Senders and
// receivers may look up a mailbox in either order; the first lookup
// creates it.
type Service struct {
	hostname string
	port     int
	logger   log.Logger

	mtx       sync.Mutex
	mailboxes map[string]*ReceivingMailbox
}

// NewService creates a mailbox service bound to the given endpoint.
func NewService(hostname string, port int, logger log.Logger) *Service {
	return &Service{
		hostname:  hostname,
		port:      port,
		logger:    logger,
		mailboxes: make(map[string]*ReceivingMailbox),
	}
}

// Start brings the service up.
func (s *Service) Start() {}

// Shutdown terminates every open mailbox and clears the registry.
func (s *Service) Shutdown() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for id, mb := range s.mailboxes {
		mb.EarlyTerminate()
		delete(s.mailboxes, id)
	}
}

// Hostname returns the mailbox endpoint hostname.
func (s *Service) Hostname() string { return s.hostname }

// Port returns the mailbox endpoint port.
func (s *Service) Port() int { return s.port }

// ReceivingMailbox returns the mailbox with the given id, creating it if
// it does not exist yet.
func (s *Service) ReceivingMailbox(id string) *ReceivingMailbox {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	mb, ok := s.mailboxes[id]
	if !ok {
		mb = newReceivingMailbox(id)
		s.mailboxes[id] = mb
	}
	return mb
}

// ReleaseReceivingMailbox removes a drained mailbox from the registry.
func (s *Service) ReleaseReceivingMailbox(mb *ReceivingMailbox) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if registered, ok := s.mailboxes[mb.id]; ok && registered == mb {
		delete(s.mailboxes, mb.id)
	} else {
		level.Debug(s.logger).Log("msg", "releasing unregistered mailbox", "mailbox", mb.id)
	}
}

// ReceivingMailbox is a bounded in-process block channel. Blocks are
// delivered in offer order; the stream ends with an end-of-stream block.
type ReceivingMailbox struct {
	id         string
	blocks     chan *datablock.Block
	terminated *atomic.Bool
}

func newReceivingMailbox(id string) *ReceivingMailbox {
	return &ReceivingMailbox{
		id:         id,
		blocks:     make(chan *datablock.Block, maxPendingBlocks),
		terminated: atomic.NewBool(false),
	}
}

// ID returns the mailbox id.
func (m *ReceivingMailbox) ID() string { return m.id }

// Offer enqueues a block, waiting up to timeout for buffer space. Offers
// against a terminated mailbox are dropped silently: the receiver is gone
// and the sender is about to be cancelled.
func (m *ReceivingMailbox) Offer(block *datablock.Block, timeout time.Duration) error {
	if m.terminated.Load() {
		return nil
	}
	select {
	case m.blocks <- block:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m.blocks <- block:
		return nil
	case <-timer.C:
		if m.terminated.Load() {
			return nil
		}
		return errors.Errorf("timed out offering block to mailbox %s", m.id)
	}
}

// Poll dequeues the next block, waiting until the context deadline.
func (m *ReceivingMailbox) Poll(ctx context.Context) (*datablock.Block, error) {
	select {
	case block := <-m.blocks:
		return block, nil
	default:
	}

	select {
	case block := <-m.blocks:
		return block, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "polling mailbox %s", m.id)
	}
}

// EarlyTerminate releases the mailbox before its stream completed. Pending
// blocks are discarded and subsequent offers become no-ops.
func (m *ReceivingMailbox) EarlyTerminate() {
	if m.terminated.Swap(true) {
		return
	}
	for {
		select {
		case <-m.blocks:
		default:
			return
		}
	}
}
