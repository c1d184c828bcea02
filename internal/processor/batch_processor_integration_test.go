package processor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealtracker/server/config"
	"dealtracker/server/internal/database"
	"dealtracker/server/internal/models"
	"dealtracker/server/internal/queue"
)

func setupTestDB(tb testing.TB) *database.Database {
	tb.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewDatabase("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared", logger)
	require.NoError(tb, err)
	require.NoError(tb, db.RunMigrations(context.Background()))
	tb.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBatchProcessingIntegration(t *testing.T) {
	db := setupTestDB(t)
	cfg := &config.Config{}
	cfg.BatchProcessing.ProcessorCount = 2
	cfg.BatchProcessing.MaxRetries = 3
	cfg.BatchProcessing.MaxBatchSize = 100
	logger := logrus.New()

	dealQueue := queue.NewDealQueue(10, logger)
	processor := NewBatchProcessor(db, dealQueue, cfg, logger)
	processor.Start()

	testDeals := []*models.Deal{
		{ExternalRef: "row-1", Name: "Riverside Flats", City: "Austin", State: "TX", PostalCode: "78701"},
		{ExternalRef: "row-2", Name: "Uptown Tower", MarketName: "Dallas-Fort Worth", PostalCode: "75201"},
	}
	_, err := processor.Submit(testDeals)
	require.NoError(t, err)

	// Stop drains every queued batch before returning
	processor.Stop()

	deals, err := db.ListDeals(context.Background())
	require.NoError(t, err)
	require.Len(t, deals, 2)
	for _, deal := range deals {
		assert.NotNil(t, deal.MarketID, "deal %s should be linked to a market", deal.ExternalRef)
	}

	markets, err := db.ListMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)
	for _, m := range markets {
		assert.Equal(t, 1, m.PostalCodeCount)
		assert.Equal(t, 1, m.DealCount)
	}
}

func TestBatchProcessingWithConcurrency(t *testing.T) {
	db := setupTestDB(t)
	cfg := &config.Config{}
	cfg.BatchProcessing.ProcessorCount = 4
	cfg.BatchProcessing.MaxRetries = 3
	cfg.BatchProcessing.MaxBatchSize = 20
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	dealQueue := queue.NewDealQueue(50, logger)
	processor := NewBatchProcessor(db, dealQueue, cfg, logger)
	processor.Start()

	markets := []string{"Austin, TX", "Austin", "austin tx", "Dallas", "Denver, CO"}

	var wg sync.WaitGroup
	for i, market := range markets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]*models.Deal, 20)
			for j := range batch {
				batch[j] = &models.Deal{
					ExternalRef: fmt.Sprintf("row-%d-%d", i, j),
					Name:        fmt.Sprintf("Deal %d-%d", i, j),
					MarketName:  market,
				}
			}
			_, err := processor.Submit(batch)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	processor.Stop()

	deals, err := db.ListDeals(context.Background())
	require.NoError(t, err)
	assert.Len(t, deals, 100) // 5 batches * 20 deals

	// The three Austin spellings converge on one identity
	summaries, err := db.ListMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, summaries, 3)
}
