package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"clawsentry/internal/alerts"
	"clawsentry/internal/budget"
	"clawsentry/internal/config"
	"clawsentry/internal/db"
	"clawsentry/internal/notifier"
	"clawsentry/internal/proxy"
	"clawsentry/internal/ratelimit"
	"clawsentry/internal/report"
	"clawsentry/internal/retention"
	"clawsentry/internal/router"
	"clawsentry/internal/rules"
	"clawsentry/internal/schedule"
	"clawsentry/internal/tail"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db        *db.Repository
	notify    *notifier.Telegram
	pipeline  *alerts.Pipeline
	follower  *tail.Follower
	reporter  *report.Generator
	reportJob *schedule.Daily
	rules     *rules.Updater
	rulesJob  *schedule.Daily
	retention *retention.Service

	httpSrv *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	sqldb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		return nil, err
	}
	repo := db.NewRepository(sqldb)

	n := notifier.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.NotifyTimeout)
	if !n.Enabled() {
		logger.Info("telegram not configured, notifications go to stdout")
	}

	limiter := ratelimit.New(cfg.MaxPerMinute)
	pipeline := alerts.NewPipeline(limiter, n, repo, logger.With("module", "alerts"))

	var routerCfg *router.Config
	if cfg.RouterEnabled {
		routerCfg = router.LoadConfig(cfg.RouterConfigPath, logger.With("module", "router"))
	}
	budgetCfg := budget.Config{}
	if routerCfg != nil {
		budgetCfg = routerCfg.Budgets
	}
	budgetMgr := budget.NewManager(budgetCfg, repo, logger.With("module", "budget"))
	quota := budget.NewQuotaTracker(budgetCfg.MaxPushWithinMinutes)

	guard := proxy.NewGuard(cfg.GuardEnabled, cfg.GuardURL, cfg.GuardThreshold, cfg.GuardStripUnicode, logger.With("module", "guard"))
	p := proxy.NewServer(cfg.UpstreamBase, cfg.UpstreamKey, cfg.UpstreamProvider,
		guard, routerCfg, budgetMgr, quota, logger.With("module", "proxy"))

	app := &App{
		cfg:       cfg,
		log:       logger,
		db:        repo,
		notify:    n,
		pipeline:  pipeline,
		follower:  tail.NewFollower(logger.With("module", "tail")),
		reporter:  report.NewGenerator(cfg.EvePath),
		reportJob: schedule.NewDaily(cfg.DailyReportHour, logger.With("module", "report")),
		rules:     rules.NewUpdater(cfg.RulesURL, cfg.RulesDir, logger.With("module", "rules")),
		rulesJob:  schedule.NewDaily(cfg.RulesUpdateHour, logger.With("module", "rules")),
		retention: retention.NewService(repo, 31, logger.With("module", "retention")),
	}
	app.httpSrv = &http.Server{Addr: cfg.ProxyAddr, Handler: p.Routes()}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	go func() {
		a.log.Info("proxy listening", "addr", a.cfg.ProxyAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("proxy server failed", "err", err)
		}
	}()

	eveLines := make(chan string, 256)
	traceeLines := make(chan string, 256)
	a.follower.Watch(ctx, a.cfg.EvePath, eveLines)
	a.follower.Watch(ctx, a.cfg.TraceePath, traceeLines)

	go a.pipeline.Run(ctx, eveLines, traceeLines)

	go a.reportJob.Run(ctx, func(ctx context.Context) {
		a.pipeline.SendReport(ctx, report.Format(a.reporter.Build()))
	})
	go a.rulesJob.Run(ctx, a.rules.Update)

	retentionTicker := time.NewTicker(6 * time.Hour)
	defer retentionTicker.Stop()
	a.retention.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = a.httpSrv.Shutdown(shutdownCtx)
			cancel()
			return a.db.DB().Close()
		case <-retentionTicker.C:
			a.retention.Run(ctx)
		}
	}
}
