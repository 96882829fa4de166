package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Signal {
	t.Helper()
	select {
	case sig, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return sig
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal")
		return Signal{}
	}
}

func assertNoSignal(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case sig := <-sub.C:
		t.Fatalf("unexpected signal: %+v", sig)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_DeliversToMatchingPartition(t *testing.T) {
	hub := NewHub()
	quotas := hub.Subscribe(KindQuotas, "e-1")
	defer quotas.Unsubscribe()
	other := hub.Subscribe(KindQuotas, "e-2")
	defer other.Unsubscribe()
	tickets := hub.Subscribe(KindTickets, "e-1")
	defer tickets.Unsubscribe()

	hub.Publish(context.Background(), Signal{Kind: KindQuotas, Key: "e-1"})

	sig := receive(t, quotas)
	assert.Equal(t, KindQuotas, sig.Kind)
	assert.Equal(t, "e-1", sig.Key)
	assert.False(t, sig.At.IsZero())
	assertNoSignal(t, other)
	assertNoSignal(t, tickets)
}

func TestHub_WildcardAndResync(t *testing.T) {
	hub := NewHub()
	all := hub.Subscribe(KindEvents, AnyKey)
	defer all.Unsubscribe()
	one := hub.Subscribe(KindTickets, "e-1")
	defer one.Unsubscribe()

	hub.Deliver(Signal{Kind: KindEvents, Key: "e-9"})
	assert.Equal(t, "e-9", receive(t, all).Key)

	hub.Deliver(Signal{Kind: KindResync})
	assert.Equal(t, KindResync, receive(t, all).Kind)
	assert.Equal(t, KindResync, receive(t, one).Kind)
}

func TestHub_CoalescesPendingSignals(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(KindTickets, "e-1")
	defer sub.Unsubscribe()

	// 訂閱者沒有讀取時不會阻塞發送端
	for i := 0; i < 100; i++ {
		hub.Deliver(Signal{Kind: KindTickets, Key: "e-1"})
	}

	receive(t, sub)
	assertNoSignal(t, sub)
}

func TestHub_UnsubscribeRemovesEmptyPartition(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe(KindQuotas, "e-1")
	b := hub.Subscribe(KindQuotas, "e-1")
	assert.Equal(t, 1, hub.Partitions())

	a.Unsubscribe()
	a.Unsubscribe()
	assert.Equal(t, 1, hub.Partitions())

	_, ok := <-a.C
	assert.False(t, ok, "channel closed after unsubscribe")

	b.Unsubscribe()
	assert.Equal(t, 0, hub.Partitions())

	// 沒有訂閱者時發送不出錯
	hub.Deliver(Signal{Kind: KindQuotas, Key: "e-1"})
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []Signal
	err  error
	hub  *Hub
}

func (f *fakeTransport) Publish(_ context.Context, sig Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sig)
	// 模擬 broker 回送
	f.hub.Deliver(sig)
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestHub_RunPublishesThroughTransport(t *testing.T) {
	hub := NewHub()
	transport := &fakeTransport{hub: hub}
	hub.Attach(transport, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	sub := hub.Subscribe(KindQuotas, "e-1")
	defer sub.Unsubscribe()

	hub.Publish(ctx, Signal{Kind: KindQuotas, Key: "e-1"})

	receive(t, sub)
	assert.Equal(t, 1, transport.count())
}

func TestHub_TransportFailureDeliversLocally(t *testing.T) {
	hub := NewHub()
	hub.Attach(&fakeTransport{hub: hub, err: errors.New("broker down")}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	sub := hub.Subscribe(KindTickets, "e-1")
	defer sub.Unsubscribe()

	hub.Publish(ctx, Signal{Kind: KindTickets, Key: "e-1"})
	assert.Equal(t, "e-1", receive(t, sub).Key)
}

func TestHub_FullOutboxDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	hub.Attach(&fakeTransport{hub: hub}, 2)

	done := make(chan struct{})
	go func() {
		// Run 尚未啟動，outbox 只能放兩個
		for i := 0; i < 10; i++ {
			hub.Publish(context.Background(), Signal{Kind: KindEvents, Key: "e-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full outbox")
	}
	assert.Len(t, hub.outbox, 2)
}

func TestHub_RunWithoutTransportWaitsForCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// silentTransport 接受發送但不回送，像是已經斷開訂閱的 broker
type silentTransport struct {
	mu   sync.Mutex
	sent int
}

func (s *silentTransport) Publish(context.Context, Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	return nil
}

func (s *silentTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func TestHub_DetachFallsBackToLocalDelivery(t *testing.T) {
	hub := NewHub()
	transport := &silentTransport{}
	hub.Attach(transport, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	sub := hub.Subscribe(KindTickets, "e-1|ana@numix.test")
	defer sub.Unsubscribe()

	// transport 沒有回送，本地收不到
	hub.Publish(ctx, Signal{Kind: KindTickets, Key: "e-1|ana@numix.test"})
	assert.Eventually(t, func() bool { return transport.count() == 1 }, time.Second, 5*time.Millisecond)
	assertNoSignal(t, sub)

	hub.Detach()
	assert.Equal(t, KindResync, receive(t, sub).Kind)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Detach")
	}

	hub.Publish(ctx, Signal{Kind: KindTickets, Key: "e-1|ana@numix.test"})
	assert.Equal(t, "e-1|ana@numix.test", receive(t, sub).Key)
	assert.Equal(t, 1, transport.count())

	// 重複呼叫沒有作用
	hub.Detach()
	assertNoSignal(t, sub)
}

func TestHub_DetachWithoutTransportIsNoop(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(KindQuotas, "e-1")
	defer sub.Unsubscribe()

	hub.Detach()
	assertNoSignal(t, sub)

	hub.Publish(context.Background(), Signal{Kind: KindQuotas, Key: "e-1"})
	assert.Equal(t, "e-1", receive(t, sub).Key)
}

func TestHub_ServeDetachesWhenTransportGivesUp(t *testing.T) {
	hub := NewHub()
	hub.Attach(&silentTransport{}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	sub := hub.Subscribe(KindQuotas, "e-1")
	defer sub.Unsubscribe()

	gaveUp := errors.New("reconnect attempts exhausted")
	err := hub.Serve(ctx, func(context.Context, *Hub) error { return gaveUp })
	assert.ErrorIs(t, err, gaveUp)
	assert.Equal(t, KindResync, receive(t, sub).Kind)

	hub.Publish(ctx, Signal{Kind: KindQuotas, Key: "e-1"})
	assert.Equal(t, "e-1", receive(t, sub).Key)
}

func TestHub_ServeKeepsTransportOnCancel(t *testing.T) {
	hub := NewHub()
	hub.Attach(&silentTransport{}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := hub.Serve(ctx, func(ctx context.Context, _ *Hub) error { return ctx.Err() })

	assert.ErrorIs(t, err, context.Canceled)
	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.NotNil(t, hub.transport)
}
