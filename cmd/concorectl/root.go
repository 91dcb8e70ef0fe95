// Command concorectl is a small operational CLI around the concore
// work-stealing runtime: run a bare pool for a fixed duration, serve its
// Prometheus metrics, or drive the job-queue demo.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "concorectl",
	Short: "Operate a concore work-stealing pool",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
