package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/concore-go/concore/core"
)

var (
	runWorkers  int
	runDuration time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a worker pool and keep it busy for a fixed duration",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "worker count (0 = GOMAXPROCS)")
	runCmd.Flags().DurationVar(&runDuration, "duration", 5*time.Second, "how long to run before shutting down")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := &core.TaskSystemConfig{WorkerCount: runWorkers}
	sys := core.NewTaskSystem(cfg)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deadline := time.After(runDuration)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	var submitted int64
	var mu sync.Mutex

loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-sigCtx.Done():
			break loop
		case <-tick.C:
			for i := 0; i < 16; i++ {
				sys.Enqueue(func(ctx context.Context) {
					time.Sleep(time.Millisecond)
					mu.Lock()
					submitted++
					mu.Unlock()
				})
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sys.ShutdownGraceful(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	mu.Lock()
	fmt.Printf("ran %v across %d workers, submitted %d tasks, final stats: %+v\n", runDuration, sys.WorkerCount(), submitted, sys.Stats())
	mu.Unlock()
	return nil
}
