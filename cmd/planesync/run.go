package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cuemby/planesync/pkg/config"
	"github.com/cuemby/planesync/pkg/events"
	"github.com/cuemby/planesync/pkg/heartbeat"
	"github.com/cuemby/planesync/pkg/log"
	"github.com/cuemby/planesync/pkg/metrics"
	"github.com/cuemby/planesync/pkg/persister"
)

const serverShutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run this management node's sync loop",
	Long: `Run publishes this management node's record to the sync record on every
heartbeat and serves metrics and health endpoints.

With --claim-master the node records itself as master whenever no master is
recorded. On shutdown the node is marked STOPPED and, if it is master, the
master pointer is cleared.`,
	Args: cobra.NoArgs,
	RunE: runNode,
}

func init() {
	runCmd.Flags().String("node-uri", "", "URI other nodes use to reach this node")
	runCmd.Flags().Int("priority", 0, "Node priority")
	runCmd.Flags().Bool("claim-master", false, "Claim the master pointer when none is recorded")
	runCmd.Flags().Duration("heartbeat-interval", 5*time.Second, "Interval between heartbeats")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for /metrics, /health, /ready and /live")

	for key, flag := range map[string]string{
		config.KeyNodeURI:           "node-uri",
		config.KeyNodePriority:      "priority",
		config.KeyClaimMaster:       "claim-master",
		config.KeyHeartbeatInterval: "heartbeat-interval",
		config.KeyMetricsAddr:       "metrics-addr",
	} {
		if err := viper.BindPFlag(key, runCmd.Flags().Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind flag %s: %v\n", flag, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(runCmd)
}

func runNode(cmd *cobra.Command, args []string) error {
	logger := log.WithNodeID(cfg.NodeID)
	metrics.SetIdentity(Version, cfg.NodeID)

	store, err := openStore()
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	eventsDone := make(chan struct{})
	eventsStopped := make(chan struct{})
	go func() {
		defer close(eventsStopped)
		logEvents(log.WithComponent("events"), sub, eventsDone)
	}()

	pcfg := cfg.PersisterConfig()
	pcfg.Events = broker
	p := persister.New(store, pcfg)

	loop := heartbeat.New(p, heartbeat.Config{
		NodeID:      cfg.NodeID,
		Version:     Version,
		URI:         cfg.NodeURI,
		Priority:    cfg.Priority,
		Interval:    cfg.HeartbeatInterval,
		ClaimMaster: cfg.ClaimMaster,
	})

	server := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           newMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	loop.Start()
	logger.Info().
		Str("store", cfg.Store.Driver).
		Str("metrics_addr", cfg.Metrics.Addr).
		Bool("claim_master", cfg.ClaimMaster).
		Dur("interval", cfg.HeartbeatInterval).
		Msg("management node running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("shutting down")
	}

	loop.Stop()
	close(eventsDone)
	<-eventsStopped

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("metrics server did not shut down cleanly")
	}

	logger.Info().Msg("shutdown complete")
	return runErr
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	return mux
}

// logEvents logs every event received on sub until done is closed or sub is
// closed by Unsubscribe
func logEvents(logger zerolog.Logger, sub events.Subscriber, done <-chan struct{}) {
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			logger.Info().
				Str("event", string(ev.Type)).
				Str("node_id", ev.Metadata["node_id"]).
				Msg(ev.Message)
		case <-done:
			return
		}
	}
}
