package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gorvnbridge/types"
)

type mockSource struct{ mock.Mock }

func (m *mockSource) ListTransactions(ctx context.Context, count int) ([]types.DepositEvent, error) {
	args := m.Called(ctx, count)
	txs, _ := args.Get(0).([]types.DepositEvent)
	return txs, args.Error(1)
}

func deposit(txid, address, category, amount string) types.DepositEvent {
	return types.DepositEvent{
		TxID:          txid,
		SourceAddress: address,
		Category:      category,
		Amount:        decimal.RequireFromString(amount),
	}
}

func TestMonitor_Tick(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	queue := newTestQueue(t, mr, 3)

	_, err := store.MarkProcessed(ctx, &types.ProcessedRecord{TxID: "done", Outcome: types.OutcomePaid})
	require.NoError(t, err)

	source := &mockSource{}
	source.On("ListTransactions", mock.Anything, 100).Return([]types.DepositEvent{
		deposit("abc", bridgeAddr, "receive", "1200"),
		deposit("other", "RSomeoneElse", "receive", "5"),
		deposit("out", bridgeAddr, "send", "-3"),
		deposit("done", bridgeAddr, "receive", "1200"),
	}, nil)

	m := NewMonitor(source, store, queue, MonitorConfig{BridgeAddress: bridgeAddr, ScanCount: 100, Interval: time.Minute}, discardLogger(), nil)

	res, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, &TickResult{Listed: 4, Filtered: 2, Processed: 1, Enqueued: 1}, res)

	job, err := queue.Get(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.True(t, job.Deposit.Amount.Equal(decimal.NewFromInt(1200)))

	for _, id := range []string{"other", "out", "done"} {
		job, err := queue.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, job, id)
	}

	// the next tick sees the same window, the queued deposit is not queued twice
	res, err = m.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Enqueued)
	assert.Equal(t, 1, res.Queued)

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
}

func TestMonitor_NeverQueuesProcessedDeposit(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	queue := newTestQueue(t, mr, 3)

	_, err := store.MarkProcessed(ctx, &types.ProcessedRecord{TxID: "abc", Outcome: types.OutcomePaid})
	require.NoError(t, err)

	source := &mockSource{}
	source.On("ListTransactions", mock.Anything, 100).Return([]types.DepositEvent{
		deposit("abc", bridgeAddr, "receive", "1200"),
	}, nil)

	m := NewMonitor(source, store, queue, MonitorConfig{BridgeAddress: bridgeAddr, ScanCount: 100, Interval: time.Minute}, discardLogger(), nil)
	_, err = m.Tick(ctx)
	require.NoError(t, err)

	stats, err := queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Waiting)
}

func TestMonitor_RPCErrorEndsTick(t *testing.T) {
	store, mr := newTestStore(t)
	queue := newTestQueue(t, mr, 3)

	source := &mockSource{}
	source.On("ListTransactions", mock.Anything, 100).Return(nil, errors.New("connection refused"))

	m := NewMonitor(source, store, queue, MonitorConfig{BridgeAddress: bridgeAddr, ScanCount: 100, Interval: time.Minute}, discardLogger(), nil)
	res, err := m.Tick(context.Background())
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestMonitor_HangingNodeDoesNotStallDiscovery(t *testing.T) {
	store, mr := newTestStore(t)
	queue := newTestQueue(t, mr, 3)

	source := &mockSource{}
	source.On("ListTransactions", mock.Anything, 100).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()
	source.On("ListTransactions", mock.Anything, 100).
		Return([]types.DepositEvent{deposit("abc", bridgeAddr, "receive", "1200")}, nil).Once()

	m := NewMonitor(source, store, queue, MonitorConfig{
		BridgeAddress: bridgeAddr,
		ScanCount:     100,
		Interval:      time.Minute,
		RPCTimeout:    100 * time.Millisecond,
	}, discardLogger(), nil)

	start := time.Now()
	_, err := m.Tick(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)

	// the guard is released, the next tick runs
	res, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
}

func TestMonitor_TickIsNotReentrant(t *testing.T) {
	store, mr := newTestStore(t)
	queue := newTestQueue(t, mr, 3)

	entered := make(chan struct{})
	release := make(chan struct{})
	source := &mockSource{}
	source.On("ListTransactions", mock.Anything, 100).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return([]types.DepositEvent{}, nil).Once()

	m := NewMonitor(source, store, queue, MonitorConfig{BridgeAddress: bridgeAddr, ScanCount: 100, Interval: time.Minute}, discardLogger(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := m.Tick(context.Background())
		done <- err
	}()
	<-entered

	_, err := m.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(release)
	require.NoError(t, <-done)
	source.AssertNumberOfCalls(t, "ListTransactions", 1)
}

func TestMonitor_WindowSaturation(t *testing.T) {
	store, mr := newTestStore(t)
	queue := newTestQueue(t, mr, 3)

	source := &mockSource{}
	source.On("ListTransactions", mock.Anything, 2).Return([]types.DepositEvent{
		deposit("a", bridgeAddr, "receive", "100"),
		deposit("b", bridgeAddr, "receive", "100"),
	}, nil)

	m := NewMonitor(source, store, queue, MonitorConfig{BridgeAddress: bridgeAddr, ScanCount: 2, Interval: time.Minute}, discardLogger(), nil)
	res, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	store, mr := newTestStore(t)
	queue := newTestQueue(t, mr, 3)

	ticked := make(chan struct{}, 1)
	source := &mockSource{}
	source.On("ListTransactions", mock.Anything, 100).
		Run(func(mock.Arguments) {
			select {
			case ticked <- struct{}{}:
			default:
			}
		}).
		Return([]types.DepositEvent{}, nil)

	m := NewMonitor(source, store, queue, MonitorConfig{BridgeAddress: bridgeAddr, ScanCount: 100, Interval: time.Hour}, discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	<-ticked
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
