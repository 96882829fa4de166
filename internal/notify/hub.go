package notify

import (
	"context"
	"sync"
	"time"

	"numix-engine/pkg/logger"

	"go.uber.org/zap"
)

// Kind 變更種類；訊號只代表「需要重新讀取」，不攜帶資料
type Kind string

const (
	KindTickets Kind = "tickets"
	KindQuotas  Kind = "quotas"
	KindEvents  Kind = "events"
	// KindResync 訂閱重新連線後送出，期間可能漏掉訊號
	KindResync Kind = "resync"
)

// AnyKey 訂閱該種類的所有 key
const AnyKey = "*"

type Signal struct {
	Kind Kind      `json:"kind"`
	Key  string    `json:"key"`
	At   time.Time `json:"at"`
}

// Transport 跨 process 傳遞訊號；收到的訊號由 transport 交給 Hub.Deliver
type Transport interface {
	Publish(ctx context.Context, sig Signal) error
}

type partitionKey struct {
	kind Kind
	key  string
}

type Subscription struct {
	C <-chan Signal

	ch   chan Signal
	hub  *Hub
	part partitionKey
	once sync.Once
}

// Unsubscribe 可重複呼叫；最後一個訂閱者離開時移除 partition
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

type Hub struct {
	mu         sync.Mutex
	partitions map[partitionKey]map[*Subscription]struct{}

	transport Transport
	outbox    chan Signal
	detached  chan struct{}
	log       *zap.Logger
}

func NewHub() *Hub {
	return &Hub{
		partitions: make(map[partitionKey]map[*Subscription]struct{}),
		log:        logger.WithComponent("notify"),
	}
}

// Attach 設定 transport 與 outbox 大小；之後 Publish 經由 transport 回送
func (h *Hub) Attach(t Transport, outboxSize int) {
	if outboxSize < 1 {
		outboxSize = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transport = t
	h.outbox = make(chan Signal, outboxSize)
	h.detached = make(chan struct{})
}

// Detach 移除 transport，之後 Publish 直接本地遞送。
// transport 停止後可能漏掉訊號，所以先送出 resync 給本地訂閱者
func (h *Hub) Detach() {
	h.mu.Lock()
	if h.outbox == nil {
		h.mu.Unlock()
		return
	}
	h.transport = nil
	h.outbox = nil
	close(h.detached)
	h.mu.Unlock()

	h.log.Warn("Transport detached, delivering signals locally")
	h.Deliver(Signal{Kind: KindResync, At: time.Now()})
}

func (h *Hub) Subscribe(kind Kind, key string) *Subscription {
	ch := make(chan Signal, 1)
	sub := &Subscription{
		C:    ch,
		ch:   ch,
		hub:  h,
		part: partitionKey{kind: kind, key: key},
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.partitions[sub.part]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.partitions[sub.part] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.partitions[sub.part]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.partitions, sub.part)
	}
	close(sub.ch)
}

// Partitions 目前有訂閱者的 (kind, key) 數量
func (h *Hub) Partitions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.partitions)
}

// Publish 不會阻塞。有 transport 時放入 outbox，滿了就丟棄
func (h *Hub) Publish(ctx context.Context, sig Signal) {
	if sig.At.IsZero() {
		sig.At = time.Now()
	}

	// 在鎖內送入 outbox，Detach 之後不會再有訊號留在舊的 outbox
	h.mu.Lock()
	if h.outbox == nil {
		h.mu.Unlock()
		h.Deliver(sig)
		return
	}
	select {
	case h.outbox <- sig:
		h.mu.Unlock()
	default:
		h.mu.Unlock()
		h.log.Warn("Outbox full, dropping signal",
			zap.String("kind", string(sig.Kind)),
			zap.String("key", sig.Key),
		)
	}
}

// Serve 執行 transport 的接收迴圈；非取消原因結束時 Detach，本地訂閱者照常收到訊號
func (h *Hub) Serve(ctx context.Context, receive func(context.Context, *Hub) error) error {
	err := receive(ctx, h)
	if err != nil && ctx.Err() == nil {
		h.Detach()
	}
	return err
}

// Run 將 outbox 送到 transport，直到 ctx 結束或 Detach。
// transport 失敗時改為本地遞送，本 process 的訂閱者不會漏掉。
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	outbox, transport, detached := h.outbox, h.transport, h.detached
	h.mu.Unlock()
	if outbox == nil {
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-detached:
			// outbox 剩下的訊號改為本地遞送
			for {
				select {
				case sig := <-outbox:
					h.Deliver(sig)
				default:
					return
				}
			}
		case sig := <-outbox:
			select {
			case <-detached:
				h.Deliver(sig)
				continue
			default:
			}
			if err := transport.Publish(ctx, sig); err != nil {
				h.log.Warn("Transport publish failed, delivering locally",
					zap.String("kind", string(sig.Kind)),
					zap.String("key", sig.Key),
					zap.Error(err),
				)
				h.Deliver(sig)
			}
		}
	}
}

// Deliver 遞送給本地訂閱者；每個訂閱者最多暫存一個訊號，
// 尚未讀取時新的訊號被合併
func (h *Hub) Deliver(sig Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sig.Kind == KindResync {
		for _, subs := range h.partitions {
			h.fanOut(subs, sig)
		}
		return
	}
	h.fanOut(h.partitions[partitionKey{kind: sig.Kind, key: sig.Key}], sig)
	if sig.Key != AnyKey {
		h.fanOut(h.partitions[partitionKey{kind: sig.Kind, key: AnyKey}], sig)
	}
}

func (h *Hub) fanOut(subs map[*Subscription]struct{}, sig Signal) {
	for sub := range subs {
		select {
		case sub.ch <- sig:
		default:
		}
	}
}
