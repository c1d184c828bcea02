package queue

import (
	"errors"
	"sync"

	"dealtracker/server/internal/models"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// DealQueue is an in-memory queue of parsed deal batches awaiting storage
type DealQueue struct {
	items    chan []*models.Deal
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	workers  sync.WaitGroup
	logger   *logrus.Logger
	handlers []func([]*models.Deal) error
}

// NewDealQueue creates a new deal queue with the specified buffer size
func NewDealQueue(bufferSize int, logger *logrus.Logger) *DealQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &DealQueue{
		items:    make(chan []*models.Deal, bufferSize),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func([]*models.Deal) error, 0),
	}
}

// Push adds a batch of deals to the queue without blocking
func (q *DealQueue) Push(deals []*models.Deal) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- deals:
		q.logger.WithField("batch_size", len(deals)).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe adds a handler function that will be called for each batch
func (q *DealQueue) Subscribe(handler func([]*models.Deal) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches workers that hand each batch to every handler. A batch is
// taken by exactly one worker.
func (q *DealQueue) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.workers.Add(1)
		go q.process()
	}
}

func (q *DealQueue) process() {
	defer q.workers.Done()
	for batch := range q.items {
		q.processBatch(batch)
	}
}

// processBatch sends the batch to all subscribed handlers
func (q *DealQueue) processBatch(batch []*models.Deal) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).WithField("batch_size", len(batch)).Error("Handler failed to process batch")
		}
	}
}

// Close stops accepting batches and waits for queued ones to be handled
func (q *DealQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.items)
	q.mu.Unlock()

	q.workers.Wait()
	return nil
}

// Len returns the current number of batches in the queue
func (q *DealQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *DealQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
