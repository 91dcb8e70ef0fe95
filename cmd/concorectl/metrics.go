package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/concore-go/concore/core"
	metricsexporter "github.com/concore-go/concore/observability/prometheus"
)

var metricsAddr string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Run a pool and serve its Prometheus metrics until interrupted",
	RunE:  runMetrics,
}

func init() {
	metricsCmd.Flags().StringVar(&metricsAddr, "addr", ":9090", "address to serve /metrics on")
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, args []string) error {
	registry := prom.NewRegistry()
	exporter, err := metricsexporter.NewMetricsExporter("concorectl", registry, metricsexporter.ExporterOptions{})
	if err != nil {
		return err
	}

	sys := core.NewTaskSystem(&core.TaskSystemConfig{Metrics: exporter})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: metricsAddr, Handler: mux}

	go func() {
		for {
			sys.Enqueue(func(ctx context.Context) { time.Sleep(time.Millisecond) })
			time.Sleep(50 * time.Millisecond)
		}
	}()

	go func() {
		fmt.Printf("serving metrics on %s/metrics\n", metricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	return sys.ShutdownGraceful(shutdownCtx)
}
