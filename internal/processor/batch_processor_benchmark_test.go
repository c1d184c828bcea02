package processor

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"dealtracker/server/config"
	"dealtracker/server/internal/models"
	"dealtracker/server/internal/queue"
)

var benchmarkMarkets = []string{"Austin, TX", "Dallas, TX", "Denver, CO", "Phoenix, AZ", "Nashville, TN"}

func generateTestDeals(count int, run int) []*models.Deal {
	deals := make([]*models.Deal, count)
	for i := range deals {
		deals[i] = &models.Deal{
			ExternalRef: fmt.Sprintf("bench-%d-%d", run, i),
			Name:        fmt.Sprintf("Deal %d", i),
			MarketName:  benchmarkMarkets[i%len(benchmarkMarkets)],
			PostalCode:  fmt.Sprintf("%05d", 10000+i%500),
		}
	}
	return deals
}

func BenchmarkBatchProcessing(b *testing.B) {
	batchSizes := []int{10, 50, 100}
	dealCounts := []int{500, 2000}

	for _, batchSize := range batchSizes {
		for _, dealCount := range dealCounts {
			b.Run(fmt.Sprintf("BatchSize_%d_Deals_%d", batchSize, dealCount), func(b *testing.B) {
				db := setupTestDB(b)
				cfg := &config.Config{}
				cfg.BatchProcessing.ProcessorCount = 4
				cfg.BatchProcessing.MaxRetries = 3
				cfg.BatchProcessing.MaxBatchSize = batchSize
				logger := logrus.New()
				logger.SetLevel(logrus.WarnLevel) // Reduce logging noise during benchmarks

				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					b.StopTimer()
					deals := generateTestDeals(dealCount, i)
					dealQueue := queue.NewDealQueue(dealCount/batchSize+1, logger)
					processor := NewBatchProcessor(db, dealQueue, cfg, logger)
					processor.Start()
					b.StartTimer()

					_, err := processor.Submit(deals)
					require.NoError(b, err)
					processor.Stop()
				}
				b.StopTimer()

				stored, err := db.ListDeals(context.Background())
				require.NoError(b, err)
				require.Len(b, stored, dealCount*b.N)
			})
		}
	}
}

func BenchmarkSaveDeals(b *testing.B) {
	db := setupTestDB(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		require.NoError(b, db.SaveDeals(ctx, generateTestDeals(100, i)))
	}
}
