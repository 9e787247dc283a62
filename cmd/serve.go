// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/api"
	"github.com/LeeDigitalWorks/rtastore/pkg/debug"
	"github.com/LeeDigitalWorks/rtastore/pkg/events"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/taskqueue"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type ServeOpts struct {
	IP           string
	HTTPPort     int
	DebugPort    int
	CertFile     string
	KeyFile      string
	MaxChunkSize int64

	EventWorkers   int
	EventRetention time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recording upload server",
	Long: `Start the rtastore server that:
- accepts recording chunks over HTTP and stores them on the storage network
- falls back to the pinning service when the primary path fails
- compiles recording metadata on the final chunk, on request, or after inactivity
- publishes recording lifecycle events to Redis and Kafka`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addPipelineFlags(serveCmd)

	f := serveCmd.Flags()
	f.String("ip", "0.0.0.0", "IP address to bind to")
	f.Int("http_port", 8090, "HTTP port for the recording API")
	f.Int("debug_port", 8095, "Debug HTTP port (metrics, pprof, health)")
	f.String("cert_file", "", "Path to TLS certificate file")
	f.String("key_file", "", "Path to TLS key file")
	f.Int64("max_chunk_size", api.DefaultMaxChunkSize, "Maximum chunk upload size in bytes")
	f.Int("event_workers", 2, "Concurrent event deliveries")
	f.Duration("event_retention", time.Hour, "Keep delivered events in the queue for this long")

	viper.BindPFlags(f)
}

func loadServeOpts(cmd *cobra.Command) ServeOpts {
	fl := NewFlagLoader(cmd)
	return ServeOpts{
		IP:             fl.String("ip"),
		HTTPPort:       fl.Int("http_port"),
		DebugPort:      fl.Int("debug_port"),
		CertFile:       fl.String("cert_file"),
		KeyFile:        fl.String("key_file"),
		MaxChunkSize:   fl.Int64("max_chunk_size"),
		EventWorkers:   fl.Int("event_workers"),
		EventRetention: fl.Duration("event_retention"),
	}
}

func runServe(cmd *cobra.Command, args []string) {
	opts := loadServeOpts(cmd)
	stackOpts, err := loadStackOpts(cmd)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug.SetNotReady()

	emitter, stopEvents, err := startEvents(ctx, stackOpts.Events, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start event delivery")
	}

	stack, err := buildStack(ctx, stackOpts, emitter)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build upload pipeline")
	}
	if err := stack.Coordinator.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start coordinator")
	}

	// Initialize the payment session in the background so the first upload
	// does not pay for it. Failures are retried by the next upload.
	go func() {
		if err := stack.Session.Ensure(ctx); err != nil {
			logger.Warn().Err(err).Msg("payment session not initialized at startup")
		}
	}()

	debugServer := &http.Server{
		Addr:    net.JoinHostPort(opts.IP, fmt.Sprint(opts.DebugPort)),
		Handler: debug.GetMux(),
	}
	go func() {
		logger.Info().Str("addr", debugServer.Addr).Msg("debug server listening")
		if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("debug server failed")
		}
	}()

	apiServer := &http.Server{
		Addr:              net.JoinHostPort(opts.IP, fmt.Sprint(opts.HTTPPort)),
		Handler:           api.NewHandler(stack.Coordinator, api.Config{MaxChunkSize: opts.MaxChunkSize}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().
			Str("addr", apiServer.Addr).
			Bool("tls", opts.CertFile != "").
			Msg("recording API listening")
		var err error
		if opts.CertFile != "" && opts.KeyFile != "" {
			err = apiServer.ListenAndServeTLS(opts.CertFile, opts.KeyFile)
		} else {
			err = apiServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("recording API failed")
			stop()
		}
	}()

	debug.SetReady()
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	debug.SetNotReady()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("recording API shutdown")
	}

	// Completions in flight still emit events, so the worker stops last.
	stack.Close()
	stopEvents()
	_ = debugServer.Shutdown(shutdownCtx)
}

// startEvents builds the emitter and, when publishers are configured, the
// worker that delivers queued events to them. The returned func stops the
// worker and closes the publishers.
func startEvents(ctx context.Context, cfg events.Config, opts ServeOpts) (*events.Emitter, func(), error) {
	noop := func() {}
	if !cfg.Enabled {
		return events.NoopEmitter(), noop, nil
	}

	pubs, err := events.NewPublishers(cfg)
	if err != nil {
		return nil, nil, err
	}
	if len(pubs) == 0 {
		logger.Warn().Msg("events enabled but no publishers configured")
		return events.NoopEmitter(), noop, nil
	}

	queue := taskqueue.NewMemoryQueue(cfg.QueueSize)
	filter := make([]events.EventType, 0, len(cfg.Events))
	for _, e := range cfg.Events {
		filter = append(filter, events.EventType(e))
	}

	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:          "events",
		Queue:       queue,
		Concurrency: opts.EventWorkers,
	})
	handler := events.NewDeliveryHandler(pubs, filter)
	worker.RegisterHandler(handler)
	// Outlives ctx so events from shutdown-time completions are delivered.
	worker.Start(context.WithoutCancel(ctx))

	go func() {
		ticker := time.NewTicker(opts.EventRetention)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := queue.Cleanup(ctx, opts.EventRetention); err != nil {
					logger.Warn().Err(err).Msg("event queue cleanup failed")
				} else if n > 0 {
					logger.Debug().Int("removed", n).Msg("event queue cleanup")
				}
			}
		}
	}()

	debug.RegisterJSON("/debug/events", func(r *http.Request) any {
		stats, err := queue.Stats(r.Context())
		if err != nil {
			return map[string]string{"error": err.Error()}
		}
		return stats
	})

	names := make([]string, 0, len(pubs))
	for _, p := range pubs {
		names = append(names, p.Name())
	}
	logger.Info().Strs("publishers", names).Int("queue_size", cfg.QueueSize).Msg("event delivery started")

	return events.NewEmitter(events.EmitterConfig{
		Queue:   queue,
		Enabled: true,
		Region:  cfg.Region,
	}), func() {
		worker.Stop()
		if err := handler.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close event publishers")
		}
	}, nil
}
