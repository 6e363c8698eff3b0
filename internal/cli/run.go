package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"activitybot/internal/database"
	"activitybot/internal/discord"
	"activitybot/internal/server"
	"activitybot/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and start tracking activity",
	RunE:  runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(cfg.OTLPEndpoint, "activitybot", Version)
	if err != nil {
		slog.Warn("tracing unavailable", slog.Any("err", err))
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	db, err := database.New(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	bot, err := discord.New(cfg, database.NewRepository(db))
	if err != nil {
		return fmt.Errorf("create Discord bot: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bot.Start(ctx); err != nil {
		return err
	}
	defer bot.Stop()

	if cfg.MetricsAddr != "" {
		httpServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           server.New(db, bot, VersionString()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("ops server listening", slog.String("addr", cfg.MetricsAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server failed", slog.Any("err", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down bot")
	return nil
}
