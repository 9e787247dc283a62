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

	"github.com/LeeDigitalWorks/rtastore/pkg/debug"
	"github.com/LeeDigitalWorks/rtastore/pkg/logger"
	"github.com/LeeDigitalWorks/rtastore/pkg/network"

	"github.com/filecoin-project/go-state-types/big"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve a simulated storage network over JSON-RPC",
	Long: `Serve the in-process storage network simulator on the gateway protocol so
that several rtastore servers can share one network during development.
Point them at it with --network=gateway --gateway_addr=ws://host:port/rpc/v0.`,
	Run: runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)

	f := gatewayCmd.Flags()
	f.String("gateway_ip", "127.0.0.1", "IP address to bind to")
	f.Int("gateway_port", 8097, "Port for the JSON-RPC endpoint")
	f.String("sim_initial_wallet", "1000000000", "Wallet balance of the simulated identity (attoFIL)")
	f.String("sim_price_per_byte", "0", "Lockup required per uploaded byte (attoFIL)")
	f.Duration("sim_tx_delay", 100*time.Millisecond, "Time until a transaction is final")
	f.Duration("sim_register_delay", 200*time.Millisecond, "Delay from upload to root-registered")
	f.Duration("sim_confirm_delay", 500*time.Millisecond, "Delay from root-registered to root-confirmed")

	viper.BindPFlags(f)
}

func runGateway(cmd *cobra.Command, args []string) {
	fl := NewFlagLoader(cmd)

	cfg := network.DefaultSimulatorConfig()
	var err error
	if cfg.InitialWallet, err = big.FromString(fl.String("sim_initial_wallet")); err != nil {
		logger.Fatal().Err(err).Msg("invalid --sim_initial_wallet")
	}
	if cfg.PricePerByte, err = big.FromString(fl.String("sim_price_per_byte")); err != nil {
		logger.Fatal().Err(err).Msg("invalid --sim_price_per_byte")
	}
	cfg.TxDelay = fl.Duration("sim_tx_delay")
	cfg.RegisterDelay = fl.Duration("sim_register_delay")
	cfg.ConfirmDelay = fl.Duration("sim_confirm_delay")

	sim := network.NewSimulator(cfg)
	defer sim.Close()

	debug.RegisterJSON("/debug/network", func(r *http.Request) any {
		return sim.Stats()
	})

	mux := debug.GetMux()
	mux.Handle("/rpc/v0", network.NewGatewayHandler(sim))

	srv := &http.Server{
		Addr:              net.JoinHostPort(fl.String("gateway_ip"), fmt.Sprint(fl.Int("gateway_port"))),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("simulated storage network gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("gateway server failed")
			stop()
		}
	}()
	debug.SetReady()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
