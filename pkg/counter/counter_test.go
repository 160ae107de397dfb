package counter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncDec(t *testing.T) {
	c := New()

	assert.Equal(t, 1, c.Inc("worker", 1))
	assert.Equal(t, 2, c.Inc("worker", 1))
	assert.Equal(t, 1, c.Dec("worker", 1))
	assert.Equal(t, 0, c.Dec("worker", 1))
	assert.Equal(t, 0, c.Dec("worker", 1), "Dec below zero stays at zero")
}

func TestIncDecByAmount(t *testing.T) {
	c := New()

	assert.Equal(t, 5, c.Inc("worker", 5))
	assert.Equal(t, 8, c.Inc("worker", 3))
	assert.Equal(t, 2, c.Dec("worker", 6))
	assert.Equal(t, 0, c.Dec("worker", 10), "Dec by more than the current value stays at zero")
}

func TestValueAndTotal(t *testing.T) {
	c := New()
	c.Inc("worker", 1)
	c.Inc("worker", 1)
	c.Inc("gpu", 1)

	assert.Equal(t, 2, c.Value("worker"))
	assert.Equal(t, 1, c.Value("gpu"))
	assert.Equal(t, 0, c.Value("unknown"))
	assert.Equal(t, 3, c.Total())
}

func TestBreakdownIsASnapshot(t *testing.T) {
	c := New()
	c.Inc("worker", 1)

	snap := c.Breakdown()
	c.Inc("worker", 1)

	assert.Equal(t, 1, snap["worker"])
	assert.Equal(t, 2, c.Value("worker"))
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc("worker", 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, c.Value("worker"))
}
