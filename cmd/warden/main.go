package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"

	"github.com/wardenbot/warden/internal/config"
	"github.com/wardenbot/warden/internal/db"
	"github.com/wardenbot/warden/internal/db/sqlite"
	"github.com/wardenbot/warden/internal/infra"
	"github.com/wardenbot/warden/internal/lifecycle"
	"github.com/wardenbot/warden/internal/moderation"
	"github.com/wardenbot/warden/internal/observability"
	"github.com/wardenbot/warden/internal/platform/telegram"
)

func main() {
	cfg := config.Get()
	log.SetFormatter(&config.WdFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.Level(cfg.LogLevel))

	ctx, cancelFunc := context.WithCancel(context.Background())
	defer cancelFunc()

	if err := observability.Init(ctx, cfg.MetricsAddr); err != nil {
		log.WithError(err).Fatalln("cant initialize observability")
	}

	infra.GoRecoverable(-1, "warden_core", func() {
		defer cancelFunc()

		workDir := infra.EnsureWorkDir(cfg.DotPath)
		store, err := sqlite.NewSQLiteClient(ctx, workDir, cfg.DBPath)
		if err != nil {
			log.WithError(err).Fatalln("cant open moderation store")
		}
		defer store.Close()

		botAPI, err := api.NewBotAPI(cfg.PlatformAPIToken)
		if err != nil {
			log.WithError(err).Errorln("cant initialize bot api")
			time.Sleep(1 * time.Second)
			log.Fatalln("exiting")
		}
		adapter := telegram.NewAdapter(botAPI)

		scheduler := moderation.NewSanctionScheduler(store, cfg.Reversal.MaxAttempts, cfg.Reversal.Backoff)
		engine := moderation.NewEngine(
			store,
			adapter,
			scheduler,
			moderation.NewEscalationPolicy(cfg.Escalation.WarnThreshold),
			cfg.BotUserID,
		)
		reporter := moderation.NewReporter(adapter, cfg.Escalation.AuditChannelID, cfg.Escalation.ChannelID)
		scheduler.OnExpire(func(ctx context.Context, sanction *db.PendingSanction) error {
			if err := engine.ReverseExpired(ctx, sanction); err != nil {
				return err
			}
			reporter.ReportReversal(ctx, sanction)
			return nil
		})

		// Start blocks until every reversal that came due while the
		// process was down has been fired; only then is the core ready
		// for the command layer.
		runtime := lifecycle.NewRuntime(scheduler)
		if err := runtime.Start(ctx); err != nil {
			log.WithError(err).Fatalln("cant start moderation core")
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if err := runtime.Stop(stopCtx); err != nil {
				log.WithError(err).Error("unclean shutdown")
			}
		}()
		log.Info("moderation core ready")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sig:
			log.Info("shutting down on signal")
		case <-infra.MonitorExecutable(ctx):
			log.Errorln("executable file was modified")
		case <-ctx.Done():
		}
	})
}
