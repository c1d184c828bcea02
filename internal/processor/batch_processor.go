package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dealtracker/server/config"
	"dealtracker/server/internal/models"
	"dealtracker/server/internal/queue"
)

// DealStore persists a batch of deals atomically.
type DealStore interface {
	SaveDeals(ctx context.Context, deals []*models.Deal) error
}

// BatchProcessor drains the deal queue into the store
type BatchProcessor struct {
	store  DealStore
	logger *logrus.Logger
	config *config.Config
	queue  *queue.DealQueue
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(store DealStore, queue *queue.DealQueue, config *config.Config, logger *logrus.Logger) *BatchProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		store:  store,
		queue:  queue,
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the queue and starts its workers
func (p *BatchProcessor) Start() {
	p.queue.Subscribe(p.processBatch)
	p.queue.Start(p.config.BatchProcessing.ProcessorCount)
}

// Stop drains queued batches, then aborts any retry still waiting
func (p *BatchProcessor) Stop() {
	p.queue.Close()
	p.cancel()
}

// Submit splits deals into batches of at most MaxBatchSize and queues them.
// It returns the number of batches queued.
func (p *BatchProcessor) Submit(deals []*models.Deal) (int, error) {
	size := p.config.BatchProcessing.MaxBatchSize
	if size <= 0 {
		size = len(deals)
	}

	batches := 0
	for start := 0; start < len(deals); start += size {
		end := min(start+size, len(deals))
		if err := p.queue.Push(deals[start:end]); err != nil {
			return batches, err
		}
		batches++
	}
	return batches, nil
}

// processBatch stores a single batch of deals with retry logic
func (p *BatchProcessor) processBatch(batch []*models.Deal) error {
	attempts := p.config.BatchProcessing.MaxRetries + 1
	delay := time.Duration(p.config.BatchProcessing.RetryDelay) * time.Second

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			p.logger.Infof("Retrying batch processing, attempt %d of %d", attempt, attempts)
			select {
			case <-p.ctx.Done():
				return fmt.Errorf("batch processing cancelled: %w", p.ctx.Err())
			case <-time.After(delay):
			}
		}

		err = p.store.SaveDeals(p.ctx, batch)
		if err == nil {
			p.logger.Infof("Successfully processed batch of %d deals", len(batch))
			return nil
		}

		p.logger.Errorf("Batch processing failed: %v", err)
	}

	return fmt.Errorf("failed to process batch after %d attempts: %w", attempts, err)
}
