package queue

import (
	"errors"
	"sync"
	"testing"

	"dealtracker/server/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNewDealQueue(t *testing.T) {
	q := NewDealQueue(10, logrus.New())
	assert.NotNil(t, q)
	assert.Equal(t, 10, q.maxSize)
	assert.False(t, q.IsClosed())
}

func TestDealQueue_Push(t *testing.T) {
	q := NewDealQueue(2, logrus.New())

	// Test successful push
	deals := []*models.Deal{{ExternalRef: "row-1"}}
	err := q.Push(deals)
	assert.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	// Test queue full
	_ = q.Push(deals)
	err = q.Push(deals)
	assert.Equal(t, ErrQueueFull, err)

	// Test closed queue
	q.Close()
	err = q.Push(deals)
	assert.Equal(t, ErrQueueClosed, err)
}

func TestDealQueue_Subscribe(t *testing.T) {
	q := NewDealQueue(10, logrus.New())

	var processed []*models.Deal
	var mu sync.Mutex
	q.Subscribe(func(deals []*models.Deal) error {
		mu.Lock()
		processed = append(processed, deals...)
		mu.Unlock()
		return nil
	})
	q.Start(1)

	err := q.Push([]*models.Deal{{ExternalRef: "row-1"}, {ExternalRef: "row-2"}})
	assert.NoError(t, err)

	// Close drains the queue before returning
	assert.NoError(t, q.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, processed, 2)
	assert.Equal(t, "row-1", processed[0].ExternalRef)
	assert.Equal(t, "row-2", processed[1].ExternalRef)
}

func TestDealQueue_Close(t *testing.T) {
	q := NewDealQueue(10, logrus.New())

	// Test first close
	err := q.Close()
	assert.NoError(t, err)
	assert.True(t, q.IsClosed())

	// Test second close (should be no-op)
	err = q.Close()
	assert.NoError(t, err)
}

func TestDealQueue_EachBatchHandledOnce(t *testing.T) {
	q := NewDealQueue(100, logrus.New())

	var mu sync.Mutex
	seen := make(map[string]int)
	q.Subscribe(func(deals []*models.Deal) error {
		mu.Lock()
		defer mu.Unlock()
		for _, d := range deals {
			seen[d.ExternalRef]++
		}
		return nil
	})
	q.Start(4)

	for i := 0; i < 50; i++ {
		ref := string(rune('a'+i%26)) + string(rune('a'+i/26))
		assert.NoError(t, q.Push([]*models.Deal{{ExternalRef: ref}}))
	}
	assert.NoError(t, q.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 50)
	for ref, count := range seen {
		assert.Equal(t, 1, count, ref)
	}
}

func TestDealQueue_ProcessBatch(t *testing.T) {
	q := NewDealQueue(10, logrus.New())

	var mu sync.Mutex
	processedBatches := 0

	// Add multiple handlers; a failing one does not stop the others
	for i := 0; i < 3; i++ {
		q.Subscribe(func(deals []*models.Deal) error {
			mu.Lock()
			processedBatches++
			mu.Unlock()
			if i == 0 {
				return errors.New("handler failed")
			}
			return nil
		})
	}
	q.Start(1)

	err := q.Push([]*models.Deal{{ExternalRef: "row-1"}})
	assert.NoError(t, err)
	assert.NoError(t, q.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, processedBatches)
}
