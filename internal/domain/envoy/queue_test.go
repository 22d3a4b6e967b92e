package envoy

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()
	assert.True(t, q.Empty())

	for i := 1; i <= 5; i++ {
		q.Push(i)
	}
	assert.False(t, q.Empty())

	for i := 1; i <= 5; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
	assert.True(t, q.Empty())
}

func TestQueueConcurrentProducersConsumers(t *testing.T) {
	const producers, perProducer = 8, 500

	q := NewQueue[int]()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}

	var (
		mu  sync.Mutex
		got []int
	)
	consumersDone := make(chan struct{})
	var cwg sync.WaitGroup
	for c := 0; c < 4; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				v, ok := q.Pop()
				if ok {
					mu.Lock()
					got = append(got, v)
					mu.Unlock()
					continue
				}
				select {
				case <-consumersDone:
					// Producers are finished; drain whatever is left.
					for {
						v, ok := q.Pop()
						if !ok {
							return
						}
						mu.Lock()
						got = append(got, v)
						mu.Unlock()
					}
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(consumersDone)
	cwg.Wait()

	require.Len(t, got, producers*perProducer)
	sort.Ints(got)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueuePerProducerOrder(t *testing.T) {
	const producers, perProducer = 4, 1000

	type item struct{ producer, seq int }
	q := NewQueue[item]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(item{producer: p, seq: i})
			}
		}(p)
	}
	wg.Wait()

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	for {
		it, ok := q.Pop()
		if !ok {
			break
		}
		require.Greater(t, it.seq, last[it.producer], "producer %d reordered", it.producer)
		last[it.producer] = it.seq
	}
	for p := range last {
		assert.Equal(t, perProducer-1, last[p])
	}
}
