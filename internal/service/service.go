package service

import (
	"context"
	"strings"
	"time"

	"numix-engine/internal/cache"
	"numix-engine/internal/clock"
	"numix-engine/internal/dedup"
	"numix-engine/internal/model"
	"numix-engine/internal/notify"
	"numix-engine/internal/repository"
	"numix-engine/internal/retry"
)

const (
	defaultTicketCacheTTL = 5 * time.Second
	defaultQuotaCacheTTL  = 3 * time.Second
	defaultDuplicateTTL   = 10 * time.Second
)

// Deps 服務共用的依賴；未設定的欄位由 NewDeps 補上預設值
type Deps struct {
	Tx      repository.TxManager
	Events  repository.EventRepository
	Tickets repository.TicketRepository
	Quotas  repository.QuotaRepository

	Hub       *notify.Hub
	Snapshots cache.SnapshotStore
	Detector  *dedup.Detector
	Clock     clock.Clock
	Location  *time.Location
	Retry     retry.Policy

	TicketCache *cache.TTLCache[[]*model.Ticket]
	QuotaCache  *cache.TTLCache[*model.QuotaSnapshot]
}

// Options 快取與重複偵測的 TTL
type Options struct {
	TicketCacheTTL time.Duration
	QuotaCacheTTL  time.Duration
	DuplicateTTL   time.Duration
}

func NewDeps(deps Deps, opts Options) *Deps {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Retry.MaxAttempts == 0 {
		deps.Retry = retry.DefaultPolicy()
	}
	if deps.Hub == nil {
		deps.Hub = notify.NewHub()
	}
	if deps.Snapshots == nil {
		deps.Snapshots = cache.NewMemorySnapshotStore()
	}
	if opts.TicketCacheTTL <= 0 {
		opts.TicketCacheTTL = defaultTicketCacheTTL
	}
	if opts.QuotaCacheTTL <= 0 {
		opts.QuotaCacheTTL = defaultQuotaCacheTTL
	}
	if opts.DuplicateTTL <= 0 {
		opts.DuplicateTTL = defaultDuplicateTTL
	}
	if deps.TicketCache == nil {
		deps.TicketCache = cache.NewTTLCache[[]*model.Ticket](opts.TicketCacheTTL, deps.Clock)
	}
	if deps.QuotaCache == nil {
		deps.QuotaCache = cache.NewTTLCache[*model.QuotaSnapshot](opts.QuotaCacheTTL, deps.Clock)
	}
	if deps.Detector == nil {
		deps.Detector = dedup.NewDetector(deps.Tickets, opts.DuplicateTTL, deps.Clock)
	}
	return &deps
}

func (d *Deps) now() time.Time {
	return d.Clock.Now().In(d.Location)
}

func (d *Deps) today() string {
	return d.now().Format(model.DateLayout)
}

// TicketsKey 販售員票券列表的快取與通知 key
func TicketsKey(eventID, vendorEmail string) string {
	return eventID + "|" + normalizeVendor(vendorEmail)
}

func normalizeVendor(vendorEmail string) string {
	return strings.ToLower(strings.TrimSpace(vendorEmail))
}

// retryValue 以 policy 重試 fn，成功時回傳結果
func retryValue[T any](ctx context.Context, p retry.Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
