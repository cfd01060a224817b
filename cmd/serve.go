package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Attendance HTTP API.
Entry and exit photos are posted to /api/v1/attendance/entry and
/api/v1/attendance/exit, identities are enrolled via /api/v1/identities.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	server := web.NewServer(cfg, web.Services{
		Gallery:      eng.gallery,
		Ledger:       eng.ledger,
		Orchestrator: eng.orchestrator,
	}, log.StandardLogger())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-sigChan
		log.Info("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Error during shutdown")
		}
	}()

	start := time.Now()
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	// Start returns as soon as Shutdown begins; wait for in-flight requests.
	<-stopped
	log.WithField("uptime", formatDuration(time.Since(start))).Info("Server stopped")
	return nil
}
