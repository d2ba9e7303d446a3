package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/ai-chat/internal/ai"
	"github.com/suPer8Hu/ai-chat/internal/chat"
	"github.com/suPer8Hu/ai-chat/internal/config"
	"github.com/suPer8Hu/ai-chat/internal/db"
	"github.com/suPer8Hu/ai-chat/internal/dispatch"
	"github.com/suPer8Hu/ai-chat/internal/httpapi"
	"github.com/suPer8Hu/ai-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-chat/internal/logging"
	"github.com/suPer8Hu/ai-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/ai-chat/internal/store/redisstore"
	"github.com/suPer8Hu/ai-chat/internal/stream"
)

func fatal(msg string, err error) {
	slog.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		fatal("connect database", err)
	}
	if err := db.Migrate(gdb); err != nil {
		fatal("migrate", err)
	}

	ledger := chat.NewService(chat.NewRepo(gdb), cfg.DefaultProvider, cfg.DefaultModel)

	// Redis is optional: without it watchers poll and rate limiting is off.
	var (
		updates handlers.ChatUpdates
		limiter middleware.RateLimiter
		orchOps []stream.Option
	)
	rds := redisstore.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		slog.Warn("redis unavailable", slog.String("addr", cfg.RedisAddr), slog.String("error", err.Error()))
		_ = rds.Close()
	} else {
		defer rds.Close()
		updates, limiter = rds, rds
		orchOps = append(orchOps, stream.WithNotifier(rds))
	}
	cancelPing()

	var scheduler dispatch.Scheduler
	var inline *dispatch.InlineScheduler
	switch cfg.DispatchMode {
	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			fatal("rabbit publisher", err)
		}
		defer pub.Close()
		scheduler = dispatch.NewQueueScheduler(pub)
	default:
		reg := ai.NewDefaultRegistry(cfg.ProviderSettings())
		inline = dispatch.NewInlineScheduler(stream.New(reg, ledger, orchOps...))
		scheduler = inline
	}

	h := handlers.NewHandler(gdb, cfg, ledger, dispatch.NewDispatcher(ledger, scheduler), updates)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server started", slog.String("addr", cfg.HTTPAddr), slog.String("dispatch", cfg.DispatchMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("listen", err)
		}
	}()

	<-ctx.Done()
	slog.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", slog.String("error", err.Error()))
	}
	if inline != nil {
		// let in-flight runs finalize their messages
		inline.Wait()
	}
}
