package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"projectzero/internal/queue"
)

const (
	DefaultWorkerCount     = 2
	DefaultBatchSize       = 10
	DefaultBlockTimeout    = 5 * time.Second
	DefaultHandlerAttempts = 3
	DefaultRetryDelay      = 200 * time.Millisecond
	DefaultClaimIdle       = 2 * time.Minute

	readErrorBackoff = time.Second
)

// EventHandler is implemented by *Handler.
type EventHandler interface {
	HandleEvent(ctx context.Context, event queue.Event) error
}

type ManagerConfig struct {
	WorkerCount  int
	BatchSize    int64
	BlockTimeout time.Duration // XREADGROUP block

	// HandlerAttempts bounds how often a failing event is retried in place before
	// it is acked and dropped.
	HandlerAttempts uint
	RetryDelay      time.Duration

	// ClaimIdle is how long an entry must sit unacked with another consumer
	// before worker 1 takes it over.
	ClaimIdle time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		WorkerCount:     DefaultWorkerCount,
		BatchSize:       DefaultBatchSize,
		BlockTimeout:    DefaultBlockTimeout,
		HandlerAttempts: DefaultHandlerAttempts,
		RetryDelay:      DefaultRetryDelay,
		ClaimIdle:       DefaultClaimIdle,
	}
}

// Stats counts events since Start.
type Stats struct {
	Handled int64
	Dropped int64
}

// Manager runs a pool of consumers on the feed stream. Every worker owns a
// consumer name that is stable across restarts, so entries it read but never
// acked come back to it as pending.
type Manager struct {
	consumer queue.Consumer
	handler  EventHandler
	cfg      ManagerConfig

	handled atomic.Int64
	dropped atomic.Int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(consumer queue.Consumer, handler EventHandler, cfg ManagerConfig) *Manager {
	def := DefaultManagerConfig()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = def.BlockTimeout
	}
	if cfg.HandlerAttempts == 0 {
		cfg.HandlerAttempts = def.HandlerAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = def.ClaimIdle
	}
	return &Manager{consumer: consumer, handler: handler, cfg: cfg}
}

// Start creates the consumer group and launches the workers. They run until Stop
// or until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.consumer.EnsureGroup(ctx, queue.StreamFeed, queue.ConsumerGroupFeed); err != nil {
		return err
	}

	ctx, m.cancel = context.WithCancel(ctx)
	for id := 1; id <= m.cfg.WorkerCount; id++ {
		m.wg.Add(1)
		go m.work(ctx, id)
	}
	log.Printf("[Manager] %d workers consuming stream=%s group=%s",
		m.cfg.WorkerCount, queue.StreamFeed, queue.ConsumerGroupFeed)
	return nil
}

// Stop cancels the workers and waits for the batch in flight.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	s := m.Stats()
	log.Printf("[Manager] Stopped: handled=%d dropped=%d", s.Handled, s.Dropped)
}

func (m *Manager) Stats() Stats {
	return Stats{Handled: m.handled.Load(), Dropped: m.dropped.Load()}
}

func (m *Manager) work(ctx context.Context, id int) {
	defer m.wg.Done()
	name := fmt.Sprintf("worker-%d", id)

	// replay what this consumer read before a crash
	for ctx.Err() == nil {
		pending, err := m.consumer.ReadPending(ctx, queue.StreamFeed, queue.ConsumerGroupFeed, name, m.cfg.BatchSize)
		if err != nil {
			log.Printf("[%s] Reading pending entries: %v", name, err)
			break
		}
		if len(pending) == 0 {
			break
		}
		m.process(ctx, name, pending)
	}

	var lastClaim time.Time
	for ctx.Err() == nil {
		if id == 1 && time.Since(lastClaim) >= m.cfg.ClaimIdle {
			lastClaim = time.Now()
			m.claimOrphans(ctx, name)
		}

		batch, err := m.consumer.Read(ctx, queue.StreamFeed, queue.ConsumerGroupFeed, name,
			m.cfg.BatchSize, m.cfg.BlockTimeout)
		if err != nil {
			log.Printf("[%s] Read: %v", name, err)
			select {
			case <-ctx.Done():
			case <-time.After(readErrorBackoff):
			}
			continue
		}
		m.process(ctx, name, batch)
	}
}

// claimOrphans processes entries stuck with consumers that no longer run.
func (m *Manager) claimOrphans(ctx context.Context, name string) {
	orphans, err := m.consumer.Claim(ctx, queue.StreamFeed, queue.ConsumerGroupFeed, name,
		m.cfg.ClaimIdle, m.cfg.BatchSize)
	if err != nil {
		log.Printf("[%s] Claim: %v", name, err)
		return
	}
	if len(orphans) > 0 {
		log.Printf("[%s] Claimed %d orphaned entries", name, len(orphans))
		m.process(ctx, name, orphans)
	}
}

// process acks each entry once its handler succeeded or gave up. An entry cut off
// by shutdown stays unacked and is replayed on the next start.
func (m *Manager) process(ctx context.Context, worker string, batch []queue.Message) {
	for _, msg := range batch {
		err := m.deliver(ctx, msg.Event)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.dropped.Add(1)
			log.Printf("[%s] Dropping %s (%s): %v", worker, msg.ID, msg.Event.Type, err)
		} else {
			m.handled.Add(1)
		}
		if err := m.consumer.Ack(ctx, queue.StreamFeed, queue.ConsumerGroupFeed, msg.ID); err != nil {
			log.Printf("[%s] Ack %s: %v", worker, msg.ID, err)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, event queue.Event) error {
	return retry.Do(
		func() error { return m.handler.HandleEvent(ctx, event) },
		retry.Attempts(m.cfg.HandlerAttempts),
		retry.Delay(m.cfg.RetryDelay),
		retry.MaxJitter(max(m.cfg.RetryDelay/2, time.Millisecond)),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, ErrUnknownEvent) }),
	)
}
