package dispatch

import (
	"time"

	"mailcourier/internal/models"
)

// SplitBatches breaks a recipient list into bounded batches with staggered
// delays. Order is preserved: concatenating the batches reproduces the
// original list. Batch 1 fires immediately and each later batch is pushed
// back by one stagger interval.
func SplitBatches(recipients []string, size int, stagger time.Duration) []models.Batch {
	if len(recipients) == 0 || size <= 0 {
		return nil
	}
	total := (len(recipients) + size - 1) / size
	batches := make([]models.Batch, 0, total)
	for i := 0; i < total; i++ {
		lo := i * size
		hi := lo + size
		if hi > len(recipients) {
			hi = len(recipients)
		}
		batches = append(batches, models.Batch{
			Number:     i + 1,
			Total:      total,
			Recipients: recipients[lo:hi],
			Delay:      time.Duration(i) * stagger,
		})
	}
	return batches
}
