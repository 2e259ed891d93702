package workers

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gorvnbridge/events"
	"gorvnbridge/types"
)

// drain dispatches until the queue has nothing ready.
func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	for {
		started, err := d.dispatchOne(context.Background())
		require.NoError(t, err)
		if !started {
			break
		}
	}
	d.Wait()
}

func TestPipeline_DepositToPayout(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	queue := newTestQueue(t, mr, 3)
	chain := newFakeChain()
	executor, _ := newTestExecutor(t, chain, store)
	publisher := events.NewMockPublisher()

	rate, err := types.NewRate("100", "1200")
	require.NoError(t, err)
	processor := NewProcessor(store, store, executor, publisher, ProcessorConfig{Rate: rate, MinAmount: decimal.NewFromInt(100)}, discardLogger(), nil)
	dispatcher := NewDispatcher(queue, processor, DispatcherConfig{Concurrency: 4}, discardLogger(), nil)

	source := &mockSource{}
	source.On("ListTransactions", mock.Anything, 100).Return([]types.DepositEvent{
		deposit("abc", bridgeAddr, "receive", "1200"),
		deposit("small", bridgeAddr, "receive", "50"),
	}, nil)
	monitor := NewMonitor(source, store, queue, MonitorConfig{BridgeAddress: bridgeAddr, ScanCount: 100, Interval: time.Minute}, discardLogger(), nil)

	register(t, store, bridgeAddr, destination)

	res, err := monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)
	drain(t, dispatcher)

	sent := chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "100000000000000000000", sent[0].Value().String())

	paid, err := store.GetProcessed(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, paid)
	assert.Equal(t, types.OutcomePaid, paid.Outcome)
	assert.Equal(t, sent[0].Hash().Hex(), paid.DestTxHash)

	small, err := store.GetProcessed(ctx, "small")
	require.NoError(t, err)
	require.NotNil(t, small)
	assert.Equal(t, types.OutcomeBelowMinimum, small.Outcome)

	// the next tick finds both in the ledger
	res, err = monitor.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 0, res.Enqueued)

	// a redelivery of abc pays nothing
	added, err := queue.Enqueue(ctx, depositJob("abc", "1200"))
	require.NoError(t, err)
	require.True(t, added)
	drain(t, dispatcher)
	assert.Len(t, chain.Sent(), 1)

	assert.Len(t, publisher.Events(), 2)
}
