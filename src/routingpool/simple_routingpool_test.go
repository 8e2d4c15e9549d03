package routingpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_AllWorkersRun(t *testing.T) {
	var seen [4]atomic.Bool
	p := NewSimpleRoutingPool(context.Background(), 4, func(ctx context.Context, worker uint32) error {
		seen[worker].Store(true)
		return nil
	})
	require.NoError(t, p.Start())
	require.NoError(t, p.Stop())
	for i := range seen {
		assert.True(t, seen[i].Load(), "worker %d", i)
	}
}

func TestPool_ErrorCancelsOthers(t *testing.T) {
	boom := errors.New("boom")
	p := NewSimpleRoutingPool(context.Background(), 3, func(ctx context.Context, worker uint32) error {
		if worker == 0 {
			return boom
		}
		<-ctx.Done()
		return nil
	})
	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Stop(), boom)
}

func TestPool_StopWithoutStart(t *testing.T) {
	p := NewSimpleRoutingPool(context.Background(), 1, func(context.Context, uint32) error { return nil })
	assert.NoError(t, p.Stop())
}
