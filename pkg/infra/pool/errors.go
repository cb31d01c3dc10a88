package pool

import "errors"

var (
	// ErrPoolClosed 工作池已释放，不再接受任务。
	ErrPoolClosed = errors.New("pool: closed")

	// ErrInvalidPoolConfig 配置不合法，例如容量不为正数。
	ErrInvalidPoolConfig = errors.New("pool: invalid config")

	// ErrPoolOverload 非阻塞模式下所有 worker 都在忙。
	ErrPoolOverload = errors.New("pool: overloaded")
)
