package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"numix-engine/config"
	"numix-engine/internal/cache"
	"numix-engine/internal/clock"
	"numix-engine/internal/database"
	"numix-engine/internal/handler"
	"numix-engine/internal/notify"
	"numix-engine/internal/repository"
	"numix-engine/internal/repository/memstore"
	"numix-engine/internal/retry"
	"numix-engine/internal/service"
	"numix-engine/migrations"
	"numix-engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	snapshotTTL = 24 * time.Hour
	outboxSize  = 256
)

func main() {
	cfg := config.LoadConfig()
	defer logger.Sync()
	log := logger.WithComponent("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()
	deps := service.Deps{
		Clock:    clk,
		Location: cfg.Engine.Location(),
		Retry: retry.Policy{
			BaseDelay:   cfg.Engine.RetryBaseDelay,
			MaxDelay:    cfg.Engine.RetryMaxDelay,
			MaxAttempts: cfg.Engine.RetryAttempts,
		},
		Hub:       notify.NewHub(),
		Snapshots: cache.NewMemorySnapshotStore(),
	}

	switch cfg.Engine.StoreDriver {
	case "memory":
		store := memstore.New(clk)
		deps.Tx, deps.Events, deps.Tickets, deps.Quotas = store.TxManager(), store.Events(), store.Tickets(), store.Quotas()
		log.Info("Using in-process store")
	default:
		pool, err := database.InitDatabase(ctx, &cfg.Database)
		if err != nil {
			log.Fatal("Failed to initialize database", zap.Error(err))
		}
		defer pool.Close()

		if err := migrations.Apply(ctx, pool); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
		deps.Tx = repository.NewTxManager(pool)
		deps.Events = repository.NewEventRepository(pool)
		deps.Tickets = repository.NewTicketRepository(pool)
		deps.Quotas = repository.NewQuotaRepository(pool)
	}

	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(ctx, &cfg.Redis)
		if err != nil {
			// Redis 只用於快照與跨 server 通知，失敗時退回單機模式
			log.Warn("Redis unavailable, running without shared notifications", zap.Error(err))
		} else {
			defer rdb.Close()
			deps.Snapshots = cache.NewRedisSnapshotStore(rdb, snapshotTTL)

			transport := notify.NewRedisTransport(rdb, retry.Policy{
				BaseDelay:   cfg.Engine.ReconnectBaseDelay,
				MaxDelay:    cfg.Engine.ReconnectMaxDelay,
				MaxAttempts: cfg.Engine.ReconnectAttempts,
			})
			deps.Hub.Attach(transport, outboxSize)
			go deps.Hub.Run(ctx)
			go func() {
				// 放棄重連後 hub 改為只通知本 process 的訂閱者
				if err := deps.Hub.Serve(ctx, transport.Run); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("Change transport stopped", zap.Error(err))
				}
			}()
		}
	}

	shared := service.NewDeps(deps, service.Options{
		TicketCacheTTL: cfg.Engine.TicketCacheTTL,
		QuotaCacheTTL:  cfg.Engine.QuotaCacheTTL,
		DuplicateTTL:   cfg.Engine.DuplicateTTL,
	})
	eventService := service.NewEventService(shared)
	ticketService := service.NewTicketService(shared)

	gin.SetMode(cfg.Server.GinMode)
	router := gin.Default()
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})
	handler.NewEventHandler(eventService).RegisterRoutes(router)
	handler.NewTicketHandler(ticketService).RegisterRoutes(router)
	handler.NewChangeHandler(shared.Hub).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// 收到結束訊號時 SSE 連線跟著結束
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
