// sweeper 執行一次過期活動關閉，供 cron 使用
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"numix-engine/config"
	"numix-engine/internal/database"
	"numix-engine/internal/repository"
	"numix-engine/internal/retry"
	"numix-engine/internal/service"
	"numix-engine/pkg/logger"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	var (
		timezone = pflag.String("timezone", cfg.Engine.Timezone, "time zone used to compare event end times")
		timeout  = pflag.Duration("timeout", 30*time.Second, "overall timeout for the sweep")
		attempts = pflag.Int("retry-attempts", cfg.Engine.RetryAttempts, "attempts on transient store errors")
		quiet    = pflag.BoolP("quiet", "q", false, "do not print the number of closed events")
	)
	pflag.Parse()

	os.Exit(run(cfg, *timezone, *timeout, *attempts, *quiet))
}

func run(cfg *config.Config, timezone string, timeout time.Duration, attempts int, quiet bool) int {
	defer logger.Sync()
	log := logger.WithComponent("sweeper")

	engine := cfg.Engine
	engine.Timezone = timezone
	loc, err := time.LoadLocation(engine.Timezone)
	if err != nil {
		log.Error("Invalid time zone", zap.String("timezone", timezone), zap.Error(err))
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := database.InitDatabase(ctx, &cfg.Database)
	if err != nil {
		log.Error("Failed to initialize database", zap.Error(err))
		return 1
	}
	defer pool.Close()

	deps := service.NewDeps(service.Deps{
		Tx:       repository.NewTxManager(pool),
		Events:   repository.NewEventRepository(pool),
		Tickets:  repository.NewTicketRepository(pool),
		Quotas:   repository.NewQuotaRepository(pool),
		Location: loc,
		Retry: retry.Policy{
			BaseDelay:   engine.RetryBaseDelay,
			MaxDelay:    engine.RetryMaxDelay,
			MaxAttempts: attempts,
		},
	}, service.Options{})

	closed, err := service.NewEventService(deps).SweepExpired(ctx)
	if err != nil {
		log.Error("Sweep failed", zap.Error(err))
		return 1
	}
	if !quiet {
		fmt.Printf("closed %d expired event(s)\n", closed)
	}
	return 0
}
