package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/lastvalue/internal/api"
	"github.com/rickgao/lastvalue/internal/batch"
	"github.com/rickgao/lastvalue/internal/config"
	"github.com/rickgao/lastvalue/internal/engine"
	"github.com/rickgao/lastvalue/internal/model"
)

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Service is the engine surface commands are applied to.
type Service interface {
	StartBatch(ctx context.Context, batchID string) (batch.Info, error)
	UploadData(ctx context.Context, batchID string, records []model.Observation) (batch.Info, error)
	CompleteBatch(ctx context.Context, batchID string) (engine.CommitSummary, error)
	CancelBatch(ctx context.Context, batchID string) (batch.Info, batch.Status, error)
}

// Stats holds consumer counters.
type Stats struct {
	Received  int64
	Applied   int64
	Rejected  int64
	Malformed int64
	Errors    int64
}

// NewReader builds a consumer-group reader from cfg. Offsets are committed
// explicitly after each command is applied.
func NewReader(cfg config.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	})
}

// Consumer reads commands from a Reader and applies them in order.
type Consumer struct {
	reader Reader
	svc    Service
	logger *slog.Logger

	statsMu sync.Mutex
	stats   Stats

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a Consumer.
func NewConsumer(reader Reader, svc Service, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader: reader,
		svc:    svc,
		logger: logger,
	}
}

// Start begins consuming in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()

	c.logger.Info("ingest consumer started")
	return nil
}

// Stop cancels consumption and closes the reader.
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("stopping ingest consumer")

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("ingest consumer stop timed out")
		return ctx.Err()
	}

	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("close reader: %w", err)
	}

	s := c.Stats()
	c.logger.Info("ingest consumer stopped",
		"received", s.Received,
		"applied", s.Applied,
		"rejected", s.Rejected,
	)
	return nil
}

// Stats returns current counters.
func (c *Consumer) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Consumer) run() {
	for {
		m, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.count(func(s *Stats) { s.Errors++ })
			c.logger.Error("kafka fetch failed", "error", err)
			continue
		}

		if err := c.Handle(c.ctx, m); err != nil {
			// Only cancellation reaches here; leave the offset uncommitted so
			// the command is redelivered to the next consumer.
			return
		}

		if err := c.reader.CommitMessages(c.ctx, m); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.count(func(s *Stats) { s.Errors++ })
			c.logger.Error("kafka commit failed",
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err,
			)
		}
	}
}

// Handle applies one message. It returns an error only when ctx is done;
// malformed and rejected commands are logged and counted.
func (c *Consumer) Handle(ctx context.Context, m kafka.Message) error {
	c.count(func(s *Stats) { s.Received++ })

	cmd, err := ParseCommand(m.Value)
	if err != nil {
		c.count(func(s *Stats) { s.Malformed++ })
		c.logger.Warn("skipping malformed command",
			"partition", m.Partition,
			"offset", m.Offset,
			"error", err,
		)
		return nil
	}

	err = c.apply(ctx, cmd)
	switch {
	case err == nil:
		c.count(func(s *Stats) { s.Applied++ })
		c.logger.Debug("command applied", "action", cmd.Action, "batch_id", cmd.BatchID)
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		c.count(func(s *Stats) { s.Rejected++ })
		c.logger.Warn("command rejected",
			"action", cmd.Action,
			"batch_id", cmd.BatchID,
			"offset", m.Offset,
			"error", err,
		)
		return nil
	}
}

func (c *Consumer) apply(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case ActionStart:
		_, err := c.svc.StartBatch(ctx, cmd.BatchID)
		return err
	case ActionUpload:
		obs, err := api.ToObservations(cmd.Records)
		if err != nil {
			return err
		}
		_, err = c.svc.UploadData(ctx, cmd.BatchID, obs)
		return err
	case ActionComplete:
		_, err := c.svc.CompleteBatch(ctx, cmd.BatchID)
		return err
	case ActionCancel:
		_, _, err := c.svc.CancelBatch(ctx, cmd.BatchID)
		return err
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

func (c *Consumer) count(f func(*Stats)) {
	c.statsMu.Lock()
	f(&c.stats)
	c.statsMu.Unlock()
}
