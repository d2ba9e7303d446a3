package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/ai-chat/internal/ai"
	"github.com/suPer8Hu/ai-chat/internal/chat"
	"github.com/suPer8Hu/ai-chat/internal/config"
	"github.com/suPer8Hu/ai-chat/internal/db"
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
	ledger := chat.NewService(chat.NewRepo(gdb), cfg.DefaultProvider, cfg.DefaultModel)

	reg := ai.NewDefaultRegistry(cfg.ProviderSettings())

	var opts []stream.Option
	rds := redisstore.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		slog.Warn("redis unavailable, watchers will poll", slog.String("error", err.Error()))
		_ = rds.Close()
	} else {
		defer rds.Close()
		opts = append(opts, stream.WithNotifier(rds))
	}
	cancelPing()

	orch := stream.New(reg, ledger, opts...)

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency)
	if err != nil {
		fatal("rabbit consumer", err)
	}
	defer consumer.Close()

	msgs, err := consumer.Deliveries()
	if err != nil {
		fatal("consume", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("worker started", slog.String("queue", cfg.RabbitQueue), slog.Int("concurrency", concurrency))

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, orch, workerID, d)
			}
		}(i)
	}

	// dispatcher
	err = feed(ctx, msgs, jobs)
	close(jobs)
	wg.Wait()
	if err != nil {
		fatal("consume", err)
	}
	slog.Info("worker stopped")
}

var errDeliveriesClosed = errors.New("delivery channel closed")

// feed hands deliveries to the pool until ctx is done. A delivery that cannot be
// handed off before shutdown stays unacked and is redelivered by the broker.
func feed(ctx context.Context, msgs <-chan amqp.Delivery, jobs chan<- amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case d, ok := <-msgs:
			if !ok {
				return errDeliveriesClosed
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// handleDelivery acks every run that was executed, whatever its outcome: failures
// are already written to the message as the apology text. Undecodable bodies go to the DLQ.
func handleDelivery(ctx context.Context, orch *stream.Orchestrator, workerID int, d amqp.Delivery) {
	run, err := rabbitmq.DecodeRun(d.Body)
	if err != nil {
		slog.Warn("bad run message", slog.Int("worker", workerID), slog.String("error", err.Error()))
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	// runs finish even while shutting down so no message is left streaming
	state := orch.Execute(context.WithoutCancel(ctx), run)
	cost := time.Since(start)

	slog.Info("run finished",
		slog.Int("worker", workerID),
		slog.Uint64("message_id", run.MessageID),
		slog.Uint64("generation", run.Generation),
		slog.String("state", state.String()),
		slog.Duration("cost", cost),
	)

	if err := d.Ack(false); err != nil {
		slog.Error("ack failed", slog.Int("worker", workerID), slog.Uint64("message_id", run.MessageID), slog.String("error", err.Error()))
	}
}
