package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nullwarden/warden/pkg/adminapi"
	"github.com/nullwarden/warden/pkg/core"
	"github.com/nullwarden/warden/pkg/log"
	"github.com/nullwarden/warden/pkg/notify"
	"github.com/nullwarden/warden/pkg/runtime"
	"github.com/nullwarden/warden/pkg/store"
	"github.com/nullwarden/warden/pkg/uptimemonitor"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wardend",
	Short: "wardend - container healing supervisor",
	Long: `wardend watches the containers on a single Docker host, evaluates
their health (exit codes, native health checks, custom probes and an
optional external uptime monitor) and restarts or quarantines the ones
that need it.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"wardend version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/wardend", "Directory for config, event log and quarantine state")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the healing supervisor in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		listenAddr, _ := cmd.Flags().GetString("listen")
		webhookURL, _ := cmd.Flags().GetString("webhook-url")
		enablePprof, _ := cmd.Flags().GetBool("enable-pprof")

		log.Info("starting wardend")
		log.WithComponent("main").Info().Str("data_dir", dataDir).Msg("opening state store")

		st, err := store.Open(dataDir)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		rt, err := runtime.New()
		if err != nil {
			return fmt.Errorf("connect to docker daemon: %w", err)
		}
		defer rt.Close()

		mon := uptimemonitor.New(st, &http.Client{Timeout: 10 * time.Second})
		c := core.New(st, rt, mon)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go mon.Run(ctx)
		go c.Run(ctx)

		if webhookURL != "" {
			dispatcher := notify.NewDispatcher(c.Bus, notify.NewWebhookSink(webhookURL))
			go dispatcher.Run(ctx)
			log.WithComponent("main").Info().Str("url", webhookURL).Msg("notification webhook enabled")
		}

		handler := adminapi.NewHandler(c, rt)
		server := &http.Server{Addr: listenAddr, Handler: handler}
		go func() {
			log.WithComponent("main").Info().Str("addr", listenAddr).Msg("admin API listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("admin API server error: %v", err)
			}
		}()

		if enablePprof {
			pprofAddr := "127.0.0.1:6060"
			go func() {
				if err := http.ListenAndServe(pprofAddr, nil); err != nil {
					log.Errorf("profiling server error: %v", err)
				}
			}()
			log.WithComponent("main").Info().Str("addr", pprofAddr).Msg("pprof enabled")
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("admin API shutdown error: %v", err)
		}

		log.Info("shutdown complete")
		return nil
	},
}

func init() {
	runCmd.Flags().String("listen", "127.0.0.1:9090", "Admin API listen address")
	runCmd.Flags().String("webhook-url", "", "Webhook URL events are POSTed to (disabled if empty)")
	runCmd.Flags().Bool("enable-pprof", false, "Expose pprof endpoints on 127.0.0.1:6060")
}
