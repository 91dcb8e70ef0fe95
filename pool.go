package taskrunner

import (
	"context"
	"sync"
	"time"

	"github.com/concore-go/concore/core"
)

// =============================================================================
// Global Thread Pool Helper (Singleton)
// =============================================================================

var (
	globalSystem *core.TaskSystem
	globalMu     sync.Mutex
)

// InitGlobalThreadPool initializes the global TaskSystem with the given
// number of workers. It starts the pool immediately. Calling it again before
// ShutdownGlobalThreadPool is a no-op.
func InitGlobalThreadPool(workers int) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalSystem != nil {
		return
	}
	globalSystem = core.NewTaskSystem(&core.TaskSystemConfig{WorkerCount: workers})
}

// GetGlobalThreadPool returns the global TaskSystem.
// It panics if InitGlobalThreadPool has not been called.
func GetGlobalThreadPool() *core.TaskSystem {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalSystem == nil {
		panic("GlobalThreadPool not initialized. Call InitGlobalThreadPool() first.")
	}
	return globalSystem
}

// ShutdownGlobalThreadPool drains and stops the global TaskSystem, waiting
// up to 30 seconds for in-flight and queued work to finish.
func ShutdownGlobalThreadPool() {
	globalMu.Lock()
	sys := globalSystem
	globalSystem = nil
	globalMu.Unlock()

	if sys == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = sys.ShutdownGraceful(ctx)
}

// CreateSerializer builds a Serializer posting through the global pool's
// GlobalExecutor. This is the recommended way to get sequential,
// lock-free-for-owned-state execution without managing a TaskSystem
// yourself.
func CreateSerializer() *Serializer {
	pool := GetGlobalThreadPool()
	return core.NewSerializer(pool, pool.GlobalExecutor(), nil, nil)
}

// CreateNSerializer builds an NSerializer admitting up to n concurrent
// tasks, posting through the global pool.
func CreateNSerializer(n int) *NSerializer {
	pool := GetGlobalThreadPool()
	return core.NewNSerializer(pool, n, pool.GlobalExecutor(), nil, nil)
}

// CreateRWSerializer builds an RWSerializer posting through the global pool.
func CreateRWSerializer() *RWSerializer {
	pool := GetGlobalThreadPool()
	return core.NewRWSerializer(pool, pool.GlobalExecutor(), nil, nil)
}
