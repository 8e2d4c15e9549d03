// 实现了一个最简单的协程池：每个worker一个goroutine，worker由调用方指定
// 任一worker返回错误时，其余worker的ctx被取消
// 后续如果需要优化任务分配方式，则需要重新此实现（包括worker）即可
package routingpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type SimpleRoutingPool struct {
	ctx      context.Context
	size     uint32
	workerFn func(ctx context.Context, worker uint32) error

	group *errgroup.Group
}

func NewSimpleRoutingPool(ctx context.Context, size uint32, workerFn func(context.Context, uint32) error) RoutingPool {
	return &SimpleRoutingPool{
		ctx:      ctx,
		size:     size,
		workerFn: workerFn,
	}
}

func (s *SimpleRoutingPool) Start() error {
	group, ctx := errgroup.WithContext(s.ctx)
	s.group = group
	var i uint32
	for ; i != s.size; i++ {
		worker := i
		group.Go(func() error {
			return s.workerFn(ctx, worker)
		})
	}
	return nil
}

func (s *SimpleRoutingPool) Stop() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}
