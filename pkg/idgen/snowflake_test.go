package idgen

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflake_GenerateUnique(t *testing.T) {
	g, err := NewSnowflake(3)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, g.Generate())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestSnowflake_Monotonic(t *testing.T) {
	g, err := NewSnowflake(1)
	require.NoError(t, err)

	prev := g.Generate()
	for i := 0; i < 10000; i++ {
		next := g.Generate()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestNewSnowflake_RejectsWorkerID(t *testing.T) {
	_, err := NewSnowflake(-1)
	assert.Error(t, err)
	_, err = NewSnowflake(maxWorkerID + 1)
	assert.Error(t, err)
}

func TestGenerateNo_Prefixes(t *testing.T) {
	assert.True(t, strings.HasPrefix(GenerateInvestmentNo(), PrefixInvestment))
	assert.True(t, strings.HasPrefix(GenerateWithdrawalNo(), PrefixWithdrawal))
	assert.True(t, strings.HasPrefix(GenerateEntryNo(), PrefixEntry))
	assert.NotEqual(t, GenerateEntryNo(), GenerateEntryNo())
}
