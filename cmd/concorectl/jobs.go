package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/concore-go/concore/core"
	"github.com/concore-go/concore/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job-queue commands",
}

var jobsDemoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Submit a handful of demo jobs through an in-memory job manager",
	RunE:  runJobsDemo,
}

func init() {
	jobsCmd.AddCommand(jobsDemoCmd)
	rootCmd.AddCommand(jobsCmd)
}

type greetArgs struct {
	Name string
}

func runJobsDemo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sys := core.NewTaskSystem(&core.TaskSystemConfig{})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sys.ShutdownGraceful(shutdownCtx)
	}()

	control := core.NewSerializer(sys, nil, nil, nil)
	io := core.NewNSerializer(sys, 4, nil, nil, nil)
	execution := jobs.NewExecutorRunner(ctx, sys.GlobalExecutor())
	defer execution.Shutdown()

	manager := jobs.NewManager(control, io, execution, jobs.NewMemoryJobStore(), jobs.NewJSONSerializer())
	manager.SetLogger(core.NewPrefixedLogger("jobs", core.NewDefaultLogger()))

	done := make(chan struct{}, 3)
	if err := jobs.RegisterHandler(manager, "greet", func(ctx context.Context, a greetArgs) error {
		fmt.Printf("hello, %s\n", a.Name)
		done <- struct{}{}
		return nil
	}); err != nil {
		return err
	}

	names := []string{"alice", "bob", "carol"}
	for i, name := range names {
		id := fmt.Sprintf("demo-%d", i)
		if err := manager.SubmitJob(ctx, id, "greet", greetArgs{Name: name}, core.DefaultTaskTraits()); err != nil {
			return err
		}
	}

	for range names {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			fmt.Println("timed out waiting for a job")
		}
	}

	for i := range names {
		job, err := manager.GetJob(ctx, fmt.Sprintf("demo-%d", i))
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", job.ID, job.Status)
	}
	controlStats, ioStats := manager.Stats()
	fmt.Printf("control=%+v io=%+v\n", controlStats, ioStats)
	return nil
}
