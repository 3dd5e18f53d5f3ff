package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botfleet/internal/bus/busmem"
	"github.com/alanyoungcy/botfleet/internal/domain"
	"github.com/alanyoungcy/botfleet/internal/store/memory"
)

// stubStrategy scripts tick outcomes for lifecycle tests.
type stubStrategy struct {
	mu       sync.Mutex
	initErr  error
	tickErrs []error // consumed one per tick, then nil
	ticks    int
	cancels  int
	adapted  []map[string]any
}

func (s *stubStrategy) Init(ctx context.Context) error { return s.initErr }

func (s *stubStrategy) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	if len(s.tickErrs) > 0 {
		err := s.tickErrs[0]
		s.tickErrs = s.tickErrs[1:]
		return err
	}
	return nil
}

func (s *stubStrategy) CancelAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
}

func (s *stubStrategy) Adapt(overrides map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adapted = append(s.adapted, overrides)
}

func (s *stubStrategy) tickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

func newTestWorker(t *testing.T, store domain.Store, bus domain.Bus, strat Strategy) *Worker {
	t.Helper()
	params := NewRuntimeParams(map[string]any{"loop_interval_seconds": 0.01})
	w := New(1, store, bus, params, testLogger())
	w.SetStrategy(strat)
	w.rateLimitBackoff = 20 * time.Millisecond
	w.transientBackoff = 10 * time.Millisecond
	return w
}

func seedAgent(t *testing.T, store *memory.Store) domain.Agent {
	t.Helper()
	a, err := store.Agents().Create(context.Background(), domain.Agent{
		Name: "w", Kind: domain.KindGrid, Config: map[string]any{"symbol": "BTCUSDT"},
	})
	require.NoError(t, err)
	return a
}

func waitStatus(t *testing.T, store *memory.Store, id int64, want domain.AgentStatus) domain.Agent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a, err := store.Agents().GetByID(context.Background(), id)
		require.NoError(t, err)
		if a.Status == want {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	a, _ := store.Agents().GetByID(context.Background(), id)
	t.Fatalf("agent never reached %s, stuck at %s (%s)", want, a.Status, a.StatusMessage)
	return domain.Agent{}
}

func TestWorkerStartStop(t *testing.T) {
	store := memory.New()
	seedAgent(t, store)
	strat := &stubStrategy{}
	w := newTestWorker(t, store, nil, strat)

	require.NoError(t, w.Start(context.Background()))
	waitStatus(t, store, 1, domain.StatusRunning)
	assert.True(t, w.Alive())

	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	a := waitStatus(t, store, 1, domain.StatusStopped)
	assert.Empty(t, a.StatusMessage)
	assert.GreaterOrEqual(t, strat.cancels, 1, "stop cancels open orders")
	assert.False(t, w.Alive())
}

func TestWorkerInitFailure(t *testing.T) {
	store := memory.New()
	seedAgent(t, store)
	strat := &stubStrategy{initErr: errors.New("no price available")}
	w := newTestWorker(t, store, nil, strat)

	err := w.Start(context.Background())
	require.Error(t, err)

	a := waitStatus(t, store, 1, domain.StatusError)
	assert.Contains(t, a.StatusMessage, "no price available")
	assert.False(t, w.Alive(), "no loop goroutine survives a failed init")
}

func TestWorkerBanHalts(t *testing.T) {
	store := memory.New()
	seedAgent(t, store)
	strat := &stubStrategy{tickErrs: []error{
		&domain.ExchangeError{Kind: domain.ErrKindBanned, Code: -1003, Message: "ip banned until"},
	}}
	w := newTestWorker(t, store, nil, strat)

	require.NoError(t, w.Start(context.Background()))
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not halt on ban")
	}

	a := waitStatus(t, store, 1, domain.StatusError)
	assert.Contains(t, a.StatusMessage, "banned")
}

func TestWorkerUnknownErrorHalts(t *testing.T) {
	store := memory.New()
	seedAgent(t, store)
	strat := &stubStrategy{tickErrs: []error{errors.New("database gone")}}
	w := newTestWorker(t, store, nil, strat)

	require.NoError(t, w.Start(context.Background()))
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not halt")
	}
	waitStatus(t, store, 1, domain.StatusError)
}

func TestWorkerBacksOffAndRecovers(t *testing.T) {
	store := memory.New()
	seedAgent(t, store)
	strat := &stubStrategy{tickErrs: []error{
		&domain.ExchangeError{Kind: domain.ErrKindRateLimited, Code: -1003, Message: "too many requests"},
		&domain.ExchangeError{Kind: domain.ErrKindTransient, Code: -1001, Message: "disconnected"},
	}}
	w := newTestWorker(t, store, nil, strat)

	require.NoError(t, w.Start(context.Background()))
	deadline := time.Now().Add(2 * time.Second)
	for strat.tickCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, strat.tickCount(), 3, "retryable errors must not kill the loop")
	assert.True(t, w.Alive())

	w.Stop()
	<-w.Done()
}

func TestWorkerRecordTradePublishes(t *testing.T) {
	store := memory.New()
	a := seedAgent(t, store)
	g, err := store.Groups().Create(context.Background(), domain.AgentGroup{Name: "fleet"})
	require.NoError(t, err)
	_, err = store.Agents().Update(context.Background(), a.ID, domain.AgentUpdate{GroupID: &g.ID})
	require.NoError(t, err)

	bus := busmem.New()
	defer bus.Close()
	events := make(chan domain.Envelope, 4)
	require.NoError(t, bus.Subscribe(domain.ChannelAgentEvents, func(env domain.Envelope) {
		if env.Type == domain.EventTradeExecuted {
			events <- env
		}
	}))

	strat := &stubStrategy{}
	w := newTestWorker(t, store, bus, strat)

	pnl := d("3.5")
	trade := domain.Trade{
		OrderID: "o-1", Symbol: "BTCUSDT", Side: domain.SideSell,
		Price: d("66000"), Quantity: d("0.001"), PnlUSD: &pnl,
	}
	w.RecordTrade(context.Background(), trade)

	select {
	case env := <-events:
		assert.Equal(t, a.ID, env.AgentID)
		assert.Equal(t, g.ID, env.GroupID)
		assert.Equal(t, "o-1", env.Payload["order_id"])
		assert.Equal(t, "3.5", env.Payload["pnl_usd"])
	case <-time.After(time.Second):
		t.Fatal("trade event never published")
	}

	// Re-observing the same fill stays silent.
	w.RecordTrade(context.Background(), trade)
	select {
	case <-events:
		t.Fatal("duplicate fill must not publish")
	case <-time.After(50 * time.Millisecond):
	}

	trades, err := store.Trades().ListForAgent(context.Background(), a.ID, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestWorkerAppliesSuggestions(t *testing.T) {
	store := memory.New()
	seedAgent(t, store)
	bus := busmem.New()
	defer bus.Close()

	strat := &stubStrategy{}
	w := newTestWorker(t, store, bus, strat)
	require.NoError(t, w.Start(context.Background()))
	defer func() {
		w.Stop()
		<-w.Done()
	}()
	waitStatus(t, store, 1, domain.StatusRunning)

	// Addressed to another agent: ignored.
	bus.Publish(domain.ChannelLearningModule, domain.Envelope{
		Type: domain.EventSuggestion, AgentID: 99,
		Payload: map[string]any{"params": map[string]any{"loop_interval_seconds": 30}},
	})
	// Addressed to this agent: applied.
	bus.Publish(domain.ChannelLearningModule, domain.Envelope{
		Type: domain.EventSuggestion, AgentID: 1,
		Payload: map[string]any{"params": map[string]any{"loop_interval_seconds": 30}},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		strat.mu.Lock()
		n := len(strat.adapted)
		strat.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	strat.mu.Lock()
	defer strat.mu.Unlock()
	require.Len(t, strat.adapted, 1, "only the addressed agent adapts")
	assert.Equal(t, 30, strat.adapted[0]["loop_interval_seconds"])
}

func TestWorkerAuthErrorHalts(t *testing.T) {
	store := memory.New()
	seedAgent(t, store)
	strat := &stubStrategy{tickErrs: []error{
		&domain.ExchangeError{Kind: domain.ErrKindAuth, Code: -2015, Message: "invalid api-key"},
	}}
	w := newTestWorker(t, store, nil, strat)

	require.NoError(t, w.Start(context.Background()))
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not halt on rejected credentials")
	}

	a := waitStatus(t, store, 1, domain.StatusError)
	assert.Contains(t, a.StatusMessage, "auth")
	assert.Equal(t, 1, strat.tickCount(), "no retry after a credential rejection")
}

// slowStrategy records the ordering of tick completions and cancel sweeps.
type slowStrategy struct {
	mu      sync.Mutex
	events  []string
	started chan struct{}
	once    sync.Once
}

func (s *slowStrategy) Init(ctx context.Context) error { return nil }

func (s *slowStrategy) Tick(ctx context.Context) error {
	s.once.Do(func() { close(s.started) })
	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	s.events = append(s.events, "tick")
	s.mu.Unlock()
	return nil
}

func (s *slowStrategy) CancelAll(ctx context.Context) {
	s.mu.Lock()
	s.events = append(s.events, "cancel")
	s.mu.Unlock()
}

func (s *slowStrategy) Adapt(map[string]any) {}

func TestWorkerStopSweepsAfterTickDrains(t *testing.T) {
	store := memory.New()
	seedAgent(t, store)
	strat := &slowStrategy{started: make(chan struct{})}
	w := newTestWorker(t, store, nil, strat)

	require.NoError(t, w.Start(context.Background()))
	<-strat.started
	// A tick is in flight right now; the sweep must not race it.
	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	strat.mu.Lock()
	defer strat.mu.Unlock()
	require.NotEmpty(t, strat.events)
	assert.Equal(t, "tick", strat.events[0])
	assert.Equal(t, "cancel", strat.events[len(strat.events)-1],
		"cancel sweep runs after the in-flight tick drains")
}

func TestRuntimeParamsLoopIntervalSeconds(t *testing.T) {
	p := NewRuntimeParams(map[string]any{"loop_interval_seconds": 2})
	assert.Equal(t, 2*time.Second, p.LoopInterval())

	p.Apply(map[string]any{"loop_interval_seconds": 30})
	assert.Equal(t, 30*time.Second, p.LoopInterval())
}

func TestRuntimeParamsLoopIntervalDefault(t *testing.T) {
	p := NewRuntimeParams(nil)
	assert.Equal(t, domain.DefaultLoopInterval, p.LoopInterval())

	p.Apply(map[string]any{"loop_interval_seconds": -1})
	assert.Equal(t, domain.DefaultLoopInterval, p.LoopInterval())
}
