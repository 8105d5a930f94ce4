package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingRunner struct {
	mu   sync.Mutex
	seen []string
}

func (c *countingRunner) Run(_ context.Context, unit WorkUnit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, unit.TaskID)
	return nil
}

func TestPoolDrainsUntilChannelCloses(t *testing.T) {
	runner := &countingRunner{}
	pool := NewPool(runner, 3, testLogger())

	units := make(chan WorkUnit, 10)
	for i := 0; i < 10; i++ {
		units <- WorkUnit{TaskID: "t", UserID: "u"}
	}
	close(units)

	done := make(chan struct{})
	go func() {
		pool.Run(context.Background(), units)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not drain")
	}
	assert.Len(t, runner.seen, 10)
}
