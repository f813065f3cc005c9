package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/server"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve orchestration sessions over HTTP and websockets",
	Long: `Start an HTTP server that runs one session per request.

Endpoints:
  GET  /healthz      Liveness and the number of running sessions
  POST /api/v1/run   Run a task and return the session result as JSON
  GET  /ws           Websocket: send the task as the first message, then
                     receive progress updates until the session ends

Orchestration limits are reloaded when the config file changes; sessions
already running keep the limits they started with.`,
	RunE: runServe,
}

var (
	serveAddr     string
	serveDrainFor time.Duration
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().DurationVar(&serveDrainFor, "shutdown-timeout", 30*time.Second, "How long to wait for running sessions on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	var saver server.Saver
	if rt.store != nil {
		saver = rt.store
	}
	srv := server.NewFromConfig(cfg.Server, rt.orch, saver, rt.logger)

	watchLimits(rt)

	if err := srv.Start(cfg.Server.Addr); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "relay listening on http://%s\n", srv.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Fprintln(cmd.OutOrStdout(), "shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveDrainFor)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// watchLimits reloads orchestration limits whenever the config file changes.
// Invalid edits are logged and ignored.
func watchLimits(rt *runtime) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := config.Load()
		if err != nil {
			rt.logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		rt.orch.SetLimits(orchestrator.LimitsFromConfig(cfg.Orchestration))
	})
	viper.WatchConfig()
}
