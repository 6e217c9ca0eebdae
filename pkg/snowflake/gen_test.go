package snowflake

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineID(t *testing.T) {
	for i := 0; i <= serverMax; i++ {
		assert.Equal(t, i, New(i).MachineID())
	}
}

func TestNew_PanicsOutOfRange(t *testing.T) {
	assert.Panics(t, func() { New(-1) })
	assert.Panics(t, func() { New(serverMax + 1) })
}

func TestNextMonotonic(t *testing.T) {
	g := New(10)
	out := make([]uint64, 10000)

	for i := range out {
		out[i] = g.Next()
	}

	// ensure they are all distinct and increasing
	for i := range out[1:] {
		if out[i] >= out[i+1] {
			t.Fatal("bad entries:", out[i], out[i+1])
		}
	}
}

func TestMachineIDOf(t *testing.T) {
	for _, machine := range []int{0, 1, 7, 512, serverMax} {
		g := New(machine)
		for i := 0; i < 100; i++ {
			id := g.Next()
			require.Equal(t, machine, MachineIDOf(id))
			require.Zero(t, id>>63, "sign bit must stay clear")
		}
	}
}

func TestAdvance(t *testing.T) {
	const ms = uint64(1000)
	base := ms << timeShift

	assert.Equal(t, base+1, advance(base, 0), "sequence increments")
	assert.Equal(t, base+1, advance(base, ms), "same millisecond increments")
	assert.Equal(t, (ms+5)<<timeShift, advance(base|7, ms+5), "new millisecond resets the sequence")

	// a full sequence borrows the next millisecond instead of carrying into
	// the machine bits
	full := base | sequenceMask
	next := advance(full, 0)
	assert.Equal(t, (ms+1)<<timeShift, next)
	assert.Zero(t, next&(serverMax<<serverShift))
	assert.Greater(t, next, full)
}

func TestTimeOf(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := New(3).Next()
	assert.True(t, TimeOf(id).After(before))
	assert.True(t, TimeOf(id).Before(time.Now().Add(time.Second)))
}

func TestNextParallelDistinct(t *testing.T) {
	g := New(42)
	var (
		mu   sync.Mutex
		seen = make(map[uint64]struct{})
		wg   sync.WaitGroup
		dups int64
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := g.Next()
				mu.Lock()
				if _, ok := seen[id]; ok {
					atomic.AddInt64(&dups, 1)
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, dups)
	assert.Len(t, seen, 8000)
}

var blackhole uint64 // to make sure the g.Next calls are not removed

func BenchmarkNext(b *testing.B) {
	g := New(10)

	for i := 0; i < b.N; i++ {
		blackhole += g.Next()
	}
}
