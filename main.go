package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"hunt-concierge/config"
	"hunt-concierge/handlers"
	"hunt-concierge/logger"
	"hunt-concierge/middleware"
	"hunt-concierge/models"
	"hunt-concierge/services"
	"hunt-concierge/utils"
	"hunt-concierge/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log)

	if cfg.Database.URL == "" {
		fatal("DATABASE_URL is not set")
	}
	if cfg.Bridge.BaseURL == "" || cfg.Bridge.Token == "" {
		fatal("BRIDGE_BASE_URL and BRIDGE_TOKEN are required")
	}
	if len(cfg.Hunt.Groups) == 0 {
		fatal("HUNT_GROUPS must list at least one hunt group")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		fatal("failed to connect to database", "err", err)
	}
	if err := db.AutoMigrate(
		&models.Hunt{},
		&models.Task{},
		&models.ParticipantHunt{},
		&models.TaskProgress{},
	); err != nil {
		fatal("failed to migrate database", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc := cfg.Hunt.Location()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(reg)
	msgs := services.NewMessages(loc, cfg.Hunt.GracePeriod)

	catalog := services.NewCatalogService(db)
	if cfg.Hunt.CatalogFile != "" {
		seedCatalog(ctx, catalog, cfg.Hunt.CatalogFile, loc)
	}

	var archive services.ProofArchive
	if cfg.R2.Enabled() {
		store, err := utils.NewR2Store(ctx, utils.R2Options{
			AccountID:       cfg.R2.AccountID,
			AccessKeyID:     cfg.R2.AccessKeyID,
			AccessKeySecret: cfg.R2.AccessKeySecret,
			Bucket:          cfg.R2.Bucket,
			CDNBaseURL:      cfg.R2.CDNBaseURL,
		})
		if err != nil {
			fatal("failed to initialize R2 client", "err", err)
		}
		archive = store
	} else {
		slog.Warn("R2 not configured, accepted photos will not be archived")
	}

	bridge := services.NewBridgeClient(cfg.Bridge.BaseURL, cfg.Bridge.Token, cfg.Bridge.Timeout)
	classifier := services.NewVisionClassifier(cfg.Vision.BaseURL, cfg.Vision.APIKey, cfg.Vision.Model, cfg.Vision.MaxTokens, cfg.Vision.Timeout)
	materializer := services.NewMaterializer(cfg.Hunt.AttachmentTimeout, int64(cfg.Hunt.MaxAttachmentMB)<<20)

	progress := services.NewProgressStore(db, nil)
	submissions := services.NewSubmissionService(progress, classifier, materializer, archive, msgs, metrics, cfg.Vision.Timeout, nil)

	stage := utils.NewExpiringCache[services.StageKey, services.Attachment](nil)
	throttle := services.NewThrottle(cfg.Hunt.SubmissionsPerMinute, cfg.Hunt.SubmissionBurst, nil)
	agent := services.NewHuntAgent(submissions, bridge, msgs, metrics, stage, throttle, services.HuntAgentOptions{
		Handle:   cfg.Hunt.AgentHandle,
		Groups:   cfg.Hunt.Groups,
		StageTTL: cfg.Hunt.StageTTL,
		Location: loc,
	})

	var policy services.AssignmentPolicy = services.FixedGroupPolicy{Group: cfg.Hunt.FixedGroup}
	if cfg.Hunt.AssignmentPolicy == "least_loaded" {
		policy = services.LeastLoadedPolicy{Groups: cfg.Hunt.Groups, Capacity: cfg.Hunt.GroupCapacity}
	}
	assigner := services.NewGroupAssigner(bridge, policy, msgs, metrics)

	dispatcher := services.NewTransitionDispatcher(catalog, bridge, msgs, metrics, cfg.Hunt.Groups,
		cfg.Hunt.TickInterval, cfg.Hunt.GracePeriod, cfg.Hunt.SendTimeout, loc, nil)
	if err := dispatcher.Start(ctx); err != nil {
		fatal("failed to start dispatcher", "err", err)
	}

	go workers.RunHousekeeping(ctx, cfg.Hunt.SweepInterval, stage, throttle, 10*time.Minute)

	events := handlers.NewEventDispatcher(ctx, agent, 2*cfg.Vision.Timeout+cfg.Hunt.AttachmentTimeout)

	app := fiber.New(fiber.Config{
		BodyLimit: (cfg.Hunt.MaxAttachmentMB + 1) << 20,
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics",
		middleware.MetricsAuthMiddleware(cfg.Metrics.User, cfg.Metrics.Pass),
		adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	)

	api := app.Group("/", middleware.BridgeAuthMiddleware(cfg.Bridge.Token))
	handlers.SetupEventRoutes(api, events)
	handlers.SetupHuntRoutes(api, catalog, progress, assigner, loc)

	go func() {
		if err := app.Listen(cfg.Addr()); err != nil {
			slog.Error("server error", "err", err)
			stop()
		}
	}()
	slog.Info("hunt concierge running", "addr", cfg.Addr(), "groups", cfg.Hunt.Groups, "timezone", loc.String())

	<-ctx.Done()
	slog.Info("shutting down")

	if err := dispatcher.Stop(); err != nil {
		slog.Warn("dispatcher shutdown", "err", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Warn("server shutdown", "err", err)
	}
	events.Wait()
}

func seedCatalog(ctx context.Context, catalog *services.CatalogService, path string, loc *time.Location) {
	specs, err := services.LoadCatalogFile(path, loc)
	if err != nil {
		fatal("failed to load hunt catalog", "file", path, "err", err)
	}
	for _, spec := range specs {
		hunt, created, err := catalog.SetupHunt(ctx, spec.Date, spec.Title, spec.Tasks)
		if err != nil {
			fatal("failed to seed hunt", "date", spec.Date, "err", err)
		}
		slog.Info("hunt catalog loaded", "date", hunt.Date, "tasks", hunt.TotalTasks, "created", created)
	}
}

func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
