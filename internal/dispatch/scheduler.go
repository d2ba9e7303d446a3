package dispatch

import (
	"context"
	"sync"

	"github.com/suPer8Hu/ai-chat/internal/stream"
)

// Scheduler starts a run asynchronously. Schedule returns once the run is handed off.
type Scheduler interface {
	Schedule(ctx context.Context, run stream.Run) error
}

// InlineScheduler executes each run on its own goroutine in this process.
// Runs are detached from the caller's context: closing the request does not stop them.
type InlineScheduler struct {
	orch *stream.Orchestrator
	wg   sync.WaitGroup
}

func NewInlineScheduler(orch *stream.Orchestrator) *InlineScheduler {
	return &InlineScheduler{orch: orch}
}

func (s *InlineScheduler) Schedule(ctx context.Context, run stream.Run) error {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.orch.Execute(ctx, run)
	}()
	return nil
}

// Wait blocks until every scheduled run has finished.
func (s *InlineScheduler) Wait() {
	s.wg.Wait()
}

// RunPublisher hands runs to an out-of-process worker.
type RunPublisher interface {
	PublishRun(ctx context.Context, run stream.Run) error
}

// QueueScheduler publishes runs for cmd/worker to execute.
type QueueScheduler struct {
	pub RunPublisher
}

func NewQueueScheduler(pub RunPublisher) *QueueScheduler {
	return &QueueScheduler{pub: pub}
}

func (s *QueueScheduler) Schedule(ctx context.Context, run stream.Run) error {
	return s.pub.PublishRun(ctx, run)
}
