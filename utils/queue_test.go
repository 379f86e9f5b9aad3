package utils

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frames [][]byte

func TestQueueOrdering(t *testing.T) {
	const N = 1 << 8
	const K = 1 << 3

	queue := NewQueue[frames](1<<20, 16)
	defer queue.Close()

	var wg sync.WaitGroup
	for k := 0; k < K; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			i := uint64(k) << 32
			for n := uint64(0); n < N; n++ {
				var b [8]byte
				binary.LittleEndian.PutUint64(b[:], i|n)
				assert.Nil(t, queue.Drain(context.Background(), frames{b[:]}))
			}
		}(k)
	}

	check := [K]int{}
	for got := 0; got < N*K; {
		nums, err := queue.Feed(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, len(nums), 16)
		for _, num := range nums {
			j := binary.LittleEndian.Uint64(num)
			k := int(j >> 32)
			n := int(j & 0xffffffff)
			assert.Equal(t, check[k], n)
			check[k] = n + 1
			got++
		}
	}
	wg.Wait()
	assert.Zero(t, queue.Size())
}

func TestQueueOverflow(t *testing.T) {
	queue := NewQueue[frames](4, 0)
	defer queue.Close()
	require.NoError(t, queue.Drain(context.Background(), frames{{1, 2, 3}}))
	assert.ErrorIs(t, queue.Drain(context.Background(), frames{{4, 5}}), ErrOverflow)
	assert.Equal(t, 3, queue.Size())

	got, err := queue.Feed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, frames{{1, 2, 3}}, got)
	assert.NoError(t, queue.Drain(context.Background(), frames{{4, 5}}))
}

func TestQueueFeedWaits(t *testing.T) {
	queue := NewQueue[frames](16, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := queue.Feed(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		queue.Close()
	}()
	_, err = queue.Feed(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueueClosed(t *testing.T) {
	queue := NewQueue[frames](16, 1)
	assert.Nil(t, queue.Close())
	assert.ErrorIs(t, queue.Drain(context.Background(), frames{{1}}), ErrClosed)
	_, err := queue.Feed(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEwma(t *testing.T) {
	a := NewEwma(0.5)
	a.Add(2)
	assert.Equal(t, 2.0, a.Val())
	a.Add(4)
	assert.Equal(t, 3.0, a.Val())
}
