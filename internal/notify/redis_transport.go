package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"numix-engine/internal/retry"
	"numix-engine/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "numix:changes:"
	channelPattern = channelPrefix + "*"
)

func channelName(sig Signal) string {
	return channelPrefix + string(sig.Kind) + ":" + sig.Key
}

// RedisTransport 以 Redis Pub/Sub 在多個 server 之間傳遞訊號
type RedisTransport struct {
	client *redis.Client
	policy retry.Policy
	log    *zap.Logger
}

func NewRedisTransport(client *redis.Client, policy retry.Policy) *RedisTransport {
	return &RedisTransport{
		client: client,
		policy: policy,
		log:    logger.WithComponent("notify"),
	}
}

func (t *RedisTransport) Publish(ctx context.Context, sig Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	return t.client.Publish(ctx, channelName(sig), payload).Err()
}

// Run 保持訂閱並把收到的訊號交給 hub，斷線後依 policy 退避重連。
// 成功連線會重置重試次數；連續失敗達上限時回傳最後一次錯誤。
func (t *RedisTransport) Run(ctx context.Context, hub *Hub) error {
	return reconnectLoop(ctx, t.policy, t.log, func(ctx context.Context) (bool, error) {
		return t.listen(ctx, hub)
	})
}

func (t *RedisTransport) listen(ctx context.Context, hub *Hub) (bool, error) {
	pubsub := t.client.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	// 等待訂閱確認
	if _, err := pubsub.Receive(ctx); err != nil {
		return false, err
	}
	t.log.Info("Subscribed to change channel", zap.String("pattern", channelPattern))
	hub.Deliver(Signal{Kind: KindResync})

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return true, err
		}
		sig, err := decodeSignal(msg.Channel, msg.Payload)
		if err != nil {
			t.log.Warn("Dropping malformed signal", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		hub.Deliver(sig)
	}
}

func decodeSignal(channel, payload string) (Signal, error) {
	var sig Signal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		return Signal{}, err
	}
	// payload 缺少欄位時由 channel 名稱補上
	if sig.Kind == "" {
		rest, ok := strings.CutPrefix(channel, channelPrefix)
		if !ok {
			return Signal{}, errors.New("unexpected channel")
		}
		kind, key, _ := strings.Cut(rest, ":")
		sig.Kind, sig.Key = Kind(kind), key
	}
	return sig, nil
}

// reconnectLoop listen 回傳 connected=true 表示曾成功訂閱，重試次數歸零
func reconnectLoop(ctx context.Context, policy retry.Policy, log *zap.Logger, listen func(ctx context.Context) (bool, error)) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	for {
		connected, err := listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempts = 0
		}
		attempts++
		if attempts >= maxAttempts {
			log.Error("Giving up on change subscription", zap.Int("attempts", attempts), zap.Error(err))
			return err
		}

		delay := policy.Backoff(attempts)
		log.Warn("Change subscription lost, reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}
