package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/queryflowproject/queryflow/pkg/datablock"
)

func TestID(t *testing.T) {
	require.Equal(t, "123|1|0|0|0", ID(123, 1, 0, 0, 0))
	require.Equal(t, "7|2|3|1|4", ID(7, 2, 3, 1, 4))
}

func TestServiceGetOrCreate(t *testing.T) {
	svc := NewService("localhost", 8421, log.NewNopLogger())

	first := svc.ReceivingMailbox("a")
	second := svc.ReceivingMailbox("a")
	require.Same(t, first, second)
	require.NotSame(t, first, svc.ReceivingMailbox("b"))

	svc.ReleaseReceivingMailbox(first)
	require.NotSame(t, first, svc.ReceivingMailbox("a"))

	// Releasing a mailbox that was already replaced must not drop the
	// replacement.
	replacement := svc.ReceivingMailbox("a")
	svc.ReleaseReceivingMailbox(first)
	require.Same(t, replacement, svc.ReceivingMailbox("a"))
}

func TestMailboxOfferPollOrder(t *testing.T) {
	mb := newReceivingMailbox("test")

	first := datablock.NewRowBlock([][]interface{}{{int64(1)}})
	second := datablock.NewRowBlock([][]interface{}{{int64(2)}})
	require.NoError(t, mb.Offer(first, time.Second))
	require.NoError(t, mb.Offer(second, time.Second))

	got, err := mb.Poll(context.Background())
	require.NoError(t, err)
	require.Same(t, first, got)
	got, err = mb.Poll(context.Background())
	require.NoError(t, err)
	require.Same(t, second, got)
}

func TestMailboxOfferTimesOutWhenFull(t *testing.T) {
	mb := newReceivingMailbox("test")
	for i := 0; i < maxPendingBlocks; i++ {
		require.NoError(t, mb.Offer(datablock.NewRowBlock(nil), time.Second))
	}

	err := mb.Offer(datablock.NewRowBlock(nil), 10*time.Millisecond)
	require.Error(t, err)
	require.Contains(t, err.Error(), "timed out")
}

func TestMailboxPollHonoursContextDeadline(t *testing.T) {
	mb := newReceivingMailbox("test")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := mb.Poll(ctx)
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailboxOfferUnblocksWhenReceiverDrains(t *testing.T) {
	mb := newReceivingMailbox("test")
	for i := 0; i < maxPendingBlocks; i++ {
		require.NoError(t, mb.Offer(datablock.NewRowBlock(nil), time.Second))
	}

	done := make(chan error)
	go func() {
		done <- mb.Offer(datablock.NewRowBlock(nil), time.Second)
	}()

	_, err := mb.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestMailboxEarlyTerminate(t *testing.T) {
	mb := newReceivingMailbox("test")
	require.NoError(t, mb.Offer(datablock.NewRowBlock(nil), time.Second))

	mb.EarlyTerminate()

	// Offers against a terminated mailbox are silently dropped, so even more
	// offers than the buffer can hold all succeed.
	for i := 0; i < 2*maxPendingBlocks; i++ {
		require.NoError(t, mb.Offer(datablock.NewRowBlock(nil), time.Millisecond))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := mb.Poll(ctx)
	require.Error(t, err)
}

func TestServiceShutdownTerminatesMailboxes(t *testing.T) {
	svc := NewService("localhost", 8421, log.NewNopLogger())
	mb := svc.ReceivingMailbox("a")
	require.NoError(t, mb.Offer(datablock.NewRowBlock(nil), time.Second))

	svc.Shutdown()

	require.NotSame(t, mb, svc.ReceivingMailbox("a"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := mb.Poll(ctx)
	require.Error(t, err)
}
