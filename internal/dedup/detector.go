package dedup

import (
	"context"
	"strconv"
	"strings"
	"time"

	"numix-engine/internal/cache"
	"numix-engine/internal/clock"
	"numix-engine/pkg/logger"

	"go.uber.org/zap"
)

// Lookup 查詢儲存層是否已有相同票券
type Lookup interface {
	ExistsDuplicate(ctx context.Context, eventID, clientName string, amount float64, numbers string, since time.Time) (bool, error)
}

// Detector 短時間內的重複送出偵測 (例如連點)。只是盡力而為，
// 並發的兩次送出仍可能同時通過。
type Detector struct {
	lookup Lookup
	ttl    time.Duration
	clock  clock.Clock
	seen   *cache.TTLCache[bool]
	log    *zap.Logger
}

func NewDetector(lookup Lookup, ttl time.Duration, clk clock.Clock) *Detector {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Detector{
		lookup: lookup,
		ttl:    ttl,
		clock:  clk,
		seen:   cache.NewTTLCache[bool](ttl, clk),
		log:    logger.WithComponent("dedup"),
	}
}

func Key(eventID, clientName string, amount float64, numbers string) string {
	return strings.Join([]string{
		eventID,
		clientName,
		strconv.FormatFloat(amount, 'f', -1, 64),
		numbers,
	}, "|")
}

// IsDuplicate 快取命中直接回答；未命中時查詢儲存層 TTL 內建立的票券並快取結果。
// 查詢失敗時視為不重複。
func (d *Detector) IsDuplicate(ctx context.Context, eventID, clientName string, amount float64, numbers string) bool {
	key := Key(eventID, clientName, amount, numbers)
	if dup, ok := d.seen.Get(key); ok {
		return dup
	}

	since := d.clock.Now().Add(-d.ttl)
	dup, err := d.lookup.ExistsDuplicate(ctx, eventID, clientName, amount, numbers, since)
	if err != nil {
		d.log.Warn("Duplicate lookup failed, allowing submission",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return false
	}
	d.seen.Set(key, dup)
	return dup
}

// Remember 建立成功後記錄，TTL 內相同內容會被擋下
func (d *Detector) Remember(eventID, clientName string, amount float64, numbers string) {
	d.seen.Set(Key(eventID, clientName, amount, numbers), true)
}

// Forget 票券被修改或刪除後移除記錄
func (d *Detector) Forget(eventID, clientName string, amount float64, numbers string) {
	d.seen.Delete(Key(eventID, clientName, amount, numbers))
}
