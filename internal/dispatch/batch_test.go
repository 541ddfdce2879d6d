package dispatch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func addresses(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("tenant%d@example.com", i)
	}
	return out
}

func TestSplitBatchesSizing(t *testing.T) {
	recipients := addresses(120)
	batches := SplitBatches(recipients, 50, 50*time.Second)

	require.Len(t, batches, 3)
	require.Len(t, batches[0].Recipients, 50)
	require.Len(t, batches[1].Recipients, 50)
	require.Len(t, batches[2].Recipients, 20)

	require.Equal(t, time.Duration(0), batches[0].Delay)
	require.Equal(t, 50*time.Second, batches[1].Delay)
	require.Equal(t, 100*time.Second, batches[2].Delay)

	for i, b := range batches {
		require.Equal(t, i+1, b.Number)
		require.Equal(t, 3, b.Total)
	}
}

func TestSplitBatchesPreservesOrder(t *testing.T) {
	recipients := addresses(173)
	batches := SplitBatches(recipients, 50, 50*time.Second)

	var rejoined []string
	for _, b := range batches {
		rejoined = append(rejoined, b.Recipients...)
	}
	require.Equal(t, recipients, rejoined, "no loss, duplication, or reordering")
}

func TestSplitBatchesSmallList(t *testing.T) {
	batches := SplitBatches(addresses(2), 50, 50*time.Second)
	require.Len(t, batches, 1)
	require.Equal(t, time.Duration(0), batches[0].Delay)
	require.Equal(t, 1, batches[0].Number)
	require.Equal(t, 1, batches[0].Total)
}

func TestSplitBatchesExactMultiple(t *testing.T) {
	batches := SplitBatches(addresses(100), 50, 50*time.Second)
	require.Len(t, batches, 2)
	require.Len(t, batches[1].Recipients, 50)
}

func TestSplitBatchesEmpty(t *testing.T) {
	require.Nil(t, SplitBatches(nil, 50, 50*time.Second))
}
