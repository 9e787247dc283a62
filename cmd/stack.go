package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/debug"
	"github.com/LeeDigitalWorks/rtastore/pkg/env"
	"github.com/LeeDigitalWorks/rtastore/pkg/events"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore/mysql"
	"github.com/LeeDigitalWorks/rtastore/pkg/metastore/postgres"
	"github.com/LeeDigitalWorks/rtastore/pkg/network"
	"github.com/LeeDigitalWorks/rtastore/pkg/payment"
	"github.com/LeeDigitalWorks/rtastore/pkg/pinning"
	"github.com/LeeDigitalWorks/rtastore/pkg/pipeline"
	"github.com/LeeDigitalWorks/rtastore/pkg/storage"

	"github.com/spf13/cobra"
)

const (
	NetworkSimulator = "simulator"
	NetworkGateway   = "gateway"

	defaultPrimaryGateway = "https://rtastore.calibration.cdn.example/{cid}"
)

// StackOpts configures the pipeline and everything below it.
type StackOpts struct {
	Store metastore.Config

	Network         string
	Gateway         network.GatewayConfig
	GatewayTemplate string
	MaxServices     int
	ServiceIdle     time.Duration

	Payment  payment.Settings
	Pinning  pinning.Config
	Pipeline pipeline.Config
	Events   events.Config
}

// addStoreFlags registers the metadata store flags on cmd.
func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("store_driver", string(metastore.DriverMemory), "Metadata store (memory, redis, postgres, mysql)")
	f.String("store_dsn", "", "SQL data source name for postgres or mysql")
	f.String("store_redis_addr", "localhost:6379", "Redis address for the redis store")
	f.String("store_redis_password", "", "Redis password")
	f.Int("store_redis_db", 0, "Redis database number")
	f.String("store_redis_prefix", metastore.DefaultRedisPrefix, "Redis key prefix")
	f.Int("store_max_open_conns", metastore.DefaultMaxOpenConns, "Maximum open SQL connections")
}

// addPipelineFlags registers the network, payment, pinning and timing flags.
func addPipelineFlags(cmd *cobra.Command) {
	addStoreFlags(cmd)

	f := cmd.Flags()
	f.String("network", NetworkSimulator, "Storage network client (simulator, gateway)")
	f.String("gateway_addr", "", "Storage network gateway endpoint (ws:// for confirmations)")
	f.String("gateway_token", "", "Bearer token for the gateway")
	f.Duration("gateway_call_timeout", 30*time.Second, "Timeout for unary gateway calls")
	f.String("gateway_template", defaultPrimaryGateway, "Primary retrieval URL template; {cid} is replaced")
	f.Int("max_services", 10_000, "Maximum cached storage services")
	f.Duration("service_idle_expiry", time.Hour, "Drop cached storage services idle for this long")

	f.String("payment_min_escrow", "", "Deposit when escrow falls below this amount (attoFIL)")
	f.String("payment_deposit_amount", "", "Deposit size (attoFIL); defaults to the minimum escrow")
	f.String("payment_min_rate_allowance", "", "Reapprove the service below this rate allowance")
	f.String("payment_min_lockup_allowance", "", "Reapprove the service below this lockup allowance")

	f.String("pinning_backend", pinning.BackendMemory, "Fallback pinning backend (memory, pinata, s3); empty disables fallback")
	f.String("pinning_credential", "", "Pinning service credential (JWT)")
	f.String("pinning_endpoint", "", "Pinning service endpoint")
	f.String("pinning_gateway_template", "", "Fallback retrieval URL template; {cid} is replaced")
	f.Float64("pinning_rate_limit", 0, "Pins per second (0 = unlimited)")

	f.Duration("upload_timeout", pipeline.DefaultUploadTimeout, "Bound on the primary upload path per chunk")
	f.Duration("confirmation_grace", pipeline.DefaultConfirmationGrace, "Wait for a later confirmation stage after the first")
	f.Duration("final_settle_delay", pipeline.DefaultFinalSettleDelay, "Delay before completing after the final chunk")
	f.Duration("auto_complete_after", pipeline.DefaultAutoCompleteAfter, "Complete a recording this long after its last chunk")
	f.Duration("completion_timeout", pipeline.DefaultCompletionTimeout, "Bound on one completion attempt")
	f.Duration("completion_retry", pipeline.DefaultCompletionRetry, "Retry delay after a failed auto-completion")
}

func loadStoreOpts(fl *FlagLoader) metastore.Config {
	cfg := metastore.DefaultConfig(metastore.Driver(fl.String("store_driver")))
	cfg.DSN = fl.String("store_dsn")
	cfg.RedisAddr = fl.String("store_redis_addr")
	cfg.RedisPassword = fl.String("store_redis_password")
	cfg.RedisDB = fl.Int("store_redis_db")
	cfg.RedisPrefix = fl.String("store_redis_prefix")
	if n := fl.Int("store_max_open_conns"); n > 0 {
		cfg.MaxOpenConns = n
	}
	return cfg
}

func loadStackOpts(cmd *cobra.Command) (StackOpts, error) {
	fl := NewFlagLoader(cmd)
	opts := StackOpts{
		Store:   loadStoreOpts(fl),
		Network: fl.String("network"),
		Gateway: network.GatewayConfig{
			Addr:        fl.String("gateway_addr"),
			Token:       fl.String("gateway_token"),
			CallTimeout: fl.Duration("gateway_call_timeout"),
		},
		GatewayTemplate: fl.String("gateway_template"),
		MaxServices:     fl.Int("max_services"),
		ServiceIdle:     fl.Duration("service_idle_expiry"),
		Payment: payment.Settings{
			MinEscrow:          fl.String("payment_min_escrow"),
			DepositAmount:      fl.String("payment_deposit_amount"),
			MinRateAllowance:   fl.String("payment_min_rate_allowance"),
			MinLockupAllowance: fl.String("payment_min_lockup_allowance"),
		},
		Pipeline: pipeline.Config{
			UploadTimeout:     fl.Duration("upload_timeout"),
			ConfirmationGrace: fl.Duration("confirmation_grace"),
			FinalSettleDelay:  fl.Duration("final_settle_delay"),
			AutoCompleteAfter: fl.Duration("auto_complete_after"),
			CompletionTimeout: fl.Duration("completion_timeout"),
			CompletionRetry:   fl.Duration("completion_retry"),
		},
	}

	// Nested sections come from the config file; explicit flags override.
	if err := fl.Section("pinning", &opts.Pinning); err != nil {
		return opts, fmt.Errorf("pinning config: %w", err)
	}
	if err := fl.Section("events", &opts.Events); err != nil {
		return opts, fmt.Errorf("events config: %w", err)
	}
	override := func(name string, dst *string) {
		if fl.changed(name) || *dst == "" {
			*dst = fl.String(name)
		}
	}
	override("pinning_backend", &opts.Pinning.Backend)
	override("pinning_credential", &opts.Pinning.Credential)
	override("pinning_endpoint", &opts.Pinning.Endpoint)
	override("pinning_gateway_template", &opts.Pinning.GatewayTemplate)
	if fl.changed("pinning_rate_limit") || opts.Pinning.RateLimit == 0 {
		opts.Pinning.RateLimit = fl.Float64("pinning_rate_limit")
	}
	opts.Events.Validate()

	if opts.Network == NetworkGateway && opts.Gateway.Addr == "" {
		return opts, errors.New("--gateway_addr is required with --network=gateway")
	}
	if env.IsProduction() && opts.Network == NetworkSimulator {
		logger.Warn().Msg("using the in-process network simulator in production")
	}
	return opts, nil
}

// openStore opens the configured metadata store wrapped with metrics.
func openStore(ctx context.Context, cfg metastore.Config) (metastore.Store, error) {
	var (
		store metastore.Store
		err   error
	)
	switch cfg.Driver {
	case metastore.DriverMemory, "":
		store = metastore.NewMemoryStore()
	case metastore.DriverRedis:
		store, err = metastore.NewRedisStore(ctx, cfg)
	case metastore.DriverPostgres:
		store, err = postgres.Open(ctx, cfg)
	case metastore.DriverMySQL:
		store, err = mysql.Open(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	logger.Info().Str("driver", string(cfg.Driver)).Msg("metadata store opened")
	return metastore.NewMetricsStore(store), nil
}

func openNetwork(ctx context.Context, opts StackOpts) (network.Network, error) {
	switch opts.Network {
	case NetworkSimulator, "":
		logger.Info().Msg("using in-process storage network simulator")
		return network.NewSimulator(network.DefaultSimulatorConfig()), nil
	case NetworkGateway:
		return network.DialGateway(ctx, opts.Gateway)
	default:
		return nil, fmt.Errorf("unknown network %q", opts.Network)
	}
}

// Stack is a wired pipeline and the resources it owns.
type Stack struct {
	Store       metastore.Store
	Network     network.Network
	Session     *payment.Session
	Registry    *storage.Registry
	Pinner      pinning.Pinner
	Coordinator *pipeline.Coordinator
}

// buildStack wires the pipeline. The coordinator is not started.
func buildStack(ctx context.Context, opts StackOpts, emitter *events.Emitter) (*Stack, error) {
	paymentCfg, err := opts.Payment.Parse()
	if err != nil {
		return nil, err
	}

	s := &Stack{}
	if s.Store, err = openStore(ctx, opts.Store); err != nil {
		return nil, err
	}
	if s.Network, err = openNetwork(ctx, opts); err != nil {
		s.Store.Close()
		return nil, err
	}

	s.Pinner, err = pinning.New(opts.Pinning)
	switch {
	case errors.Is(err, pinning.ErrNotConfigured):
		logger.Warn().Msg("no fallback pinning backend configured; primary failures will fail the chunk")
	case err != nil:
		s.Close()
		return nil, err
	}

	s.Session = payment.NewSession(s.Network, paymentCfg)
	s.Registry = storage.NewRegistry(ctx, s.Network, s.Store, storage.Config{
		GatewayTemplate: opts.GatewayTemplate,
		MaxServices:     opts.MaxServices,
		IdleExpiry:      opts.ServiceIdle,
	}, storage.WithProgress(func(recordingID string, phase storage.Phase, detail string) {
		logger.Debug().
			Str("recording_id", recordingID).
			Str("phase", string(phase)).
			Str("detail", detail).
			Msg("storage service progress")
	}))

	s.Coordinator = pipeline.NewCoordinator(pipeline.CoordinatorConfig{
		Config:   opts.Pipeline,
		Session:  s.Session,
		Registry: s.Registry,
		Store:    s.Store,
		Pinner:   s.Pinner,
		Emitter:  emitter,
	})

	debug.RegisterJSON("/debug/payment", func(r *http.Request) any {
		return s.Session.State()
	})
	debug.RegisterJSON("/debug/recordings/deadlines", func(r *http.Request) any {
		pending := s.Coordinator.Deadlines()
		return map[string]any{
			"count":     len(pending),
			"deadlines": pending,
			"services":  s.Registry.Len(),
		}
	})
	debug.RegisterJSON("/debug/recordings/services", func(r *http.Request) any {
		services := s.Registry.Services()
		return map[string]any{
			"count":    len(services),
			"services": services,
		}
	})
	debug.AddReadyCheck("payment", func() bool {
		// Not initialized is fine; a failed last attempt is not.
		return s.Session.State().LastError == "" || s.Session.Initialized()
	})
	return s, nil
}

// Close stops the coordinator and releases everything the stack opened.
func (s *Stack) Close() {
	if s.Coordinator != nil {
		s.Coordinator.Stop()
	}
	if s.Registry != nil {
		s.Registry.Close()
	}
	if s.Pinner != nil {
		if err := s.Pinner.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close pinner")
		}
	}
	if s.Network != nil {
		if err := s.Network.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close network client")
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close metadata store")
		}
	}
}
