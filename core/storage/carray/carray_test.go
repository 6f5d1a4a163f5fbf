package carray

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

var errJoinFailed = errors.New("carray_test: simulated reserve failure")

// sequentialReserve hands out back-to-back byte ranges starting at 0,
// serializing callers behind a mutex the way a real log's tail pointer
// would be serialized without the consolidation array in front of it.
func sequentialReserve() (ReserveFunc, func() int64) {
	var mu sync.Mutex
	var end int64
	fn := func(totalBytes int64) (startPos, newEnd, newBase, oldEnd int64, err error) {
		mu.Lock()
		defer mu.Unlock()
		start := end
		end += totalBytes
		return start, end, 0, start, nil
	}
	return fn, func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return end
	}
}

func TestCArray_SingleJoinerIsItsOwnLeader(t *testing.T) {
	reserve, _ := sequentialReserve()
	c := New(reserve, 0)

	g, err := c.Join(16)
	require.NoError(t, err)
	require.True(t, g.IsLeader())

	start, end, err := g.Position()
	require.NoError(t, err)
	require.Equal(t, int64(0), start)
	require.Equal(t, int64(16), end)

	require.NoError(t, g.Expose())
	require.Equal(t, int64(16), c.DurableEnd())
}

func TestCArray_ConcurrentJoinersGetDisjointRanges(t *testing.T) {
	reserve, _ := sequentialReserve()
	c := New(reserve, 0)

	const n = 64
	const size = 8

	var wg sync.WaitGroup
	ranges := make([][2]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := c.Join(size)
			require.NoError(t, err)
			start, end, err := g.Position()
			require.NoError(t, err)
			ranges[i] = [2]int64{start, end}
			require.NoError(t, g.Expose())
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(n*size), c.DurableEnd())

	seen := make(map[int64]bool, n)
	for _, r := range ranges {
		require.Equal(t, size, int(r[1]-r[0]), "every member's range must be exactly its own size")
		for b := r[0]; b < r[1]; b++ {
			require.False(t, seen[b], "byte offset %d claimed by more than one joiner", b)
			seen[b] = true
		}
	}
	require.Len(t, seen, n*size)
}

func TestCArray_DurableEndNeverRegresses(t *testing.T) {
	reserve, _ := sequentialReserve()
	c := New(reserve, 0)

	var wg sync.WaitGroup
	var maxObserved atomic.Int64
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := c.Join(4)
			require.NoError(t, err)
			require.NoError(t, g.Expose())
			cur := c.DurableEnd()
			for {
				prev := maxObserved.Load()
				if cur <= prev || maxObserved.CompareAndSwap(prev, cur) {
					break
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(32*4), c.DurableEnd())
}

func TestCArray_ReserveErrorPropagatesToEveryMember(t *testing.T) {
	boom := require.New(t)
	failing := func(totalBytes int64) (int64, int64, int64, int64, error) {
		return 0, 0, 0, 0, errJoinFailed
	}
	c := New(failing, 0)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Join(4)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		boom.ErrorIs(err, errJoinFailed)
	}
}

func TestCArray_SlotsRetireAndAreReused(t *testing.T) {
	reserve, tail := sequentialReserve()
	c := New(reserve, 0)

	for i := 0; i < AllSlotCount*2; i++ {
		g, err := c.Join(1)
		require.NoError(t, err)
		require.NoError(t, g.Expose())
	}
	require.Equal(t, tail(), c.DurableEnd())
}
