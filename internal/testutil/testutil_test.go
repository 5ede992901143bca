package testutil

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/trigdb/internal/param"
)

func TestManualClockAdvance(t *testing.T) {
	c := NewManualClock(1000)
	assert.EqualValues(t, 1000, c.Now())
	assert.EqualValues(t, 1250, c.Advance(250*time.Millisecond))
	c.Set(10)
	assert.EqualValues(t, 10, c.Now())
}

func TestFixedKeyGeneratorSequence(t *testing.T) {
	g := NewFixedKeyGenerator("obj")
	assert.Equal(t, "obj-1", g.Generate())
	assert.Equal(t, "obj-2", g.Generate())
	g.Reset()
	assert.Equal(t, "obj-1", g.Generate())

	assert.Equal(t, "key-1", NewFixedKeyGenerator("").Generate())
}

func TestFixedKeyGeneratorConcurrent(t *testing.T) {
	g := NewFixedKeyGenerator("k")
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(g.Generate(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
}

func TestRecordingEnv(t *testing.T) {
	log := &CallLog{}
	a := NewRecordingEnv(1, log)
	b := NewRecordingEnv(2, log)

	require.NoError(t, a.Invoke("onA", param.Set{"x": param.Number(1)}))
	b.FailOn("onB", errors.New("boom"))
	assert.EqualError(t, b.Invoke("onB", nil), "boom")

	assert.Equal(t, []string{"onA"}, a.Callbacks())
	calls := log.Calls()
	require.Len(t, calls, 2)
	assert.EqualValues(t, 1, calls[0].Env)
	assert.EqualValues(t, 2, calls[1].Env)
	assert.Equal(t, param.Number(1), calls[0].Params["x"])

	b.FailOn("onB", nil)
	assert.NoError(t, b.Invoke("onB", nil))
}
