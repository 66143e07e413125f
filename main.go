package main

import (
	"constancias/config"
	"constancias/database"
	authController "constancias/controllers/auth"
	certificateController "constancias/controllers/certificate"
	appLogger "constancias/logger"
	"constancias/metrics"
	"constancias/models"
	authRoutes "constancias/routers/authRoutes"
	certificateRoutes "constancias/routers/certificateRoutes"
	"constancias/services"
	"constancias/services/issuance"
	"constancias/utils"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

func main() {
	config.LoadConfig()

	zapLogger, err := appLogger.NewLogger(config.AppConfig.AppEnv, config.AppConfig.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	database.ConnectDb()

	if err := authController.EnsureAdmin(database.Database.Db, config.AppConfig.AdminEmail, config.AppConfig.AdminPassword); err != nil {
		zapLogger.Fatal("Failed to create bootstrap admin", zap.Error(err))
	}

	svc := services.New(config.AppConfig, database.Database.Db, zapLogger, metrics.NewCollector())

	var scheduler *cron.Cron
	if config.AppConfig.RosterCron != "" {
		scheduler, err = utils.InitializeRosterScheduler(
			config.AppConfig.RosterCron,
			config.AppConfig.RosterInboxDir,
			config.AppConfig.RosterMaxRowsPerSheet,
			inboxIssuer(svc.Issuer, zapLogger),
		)
		if err != nil {
			zapLogger.Fatal("Failed to start roster scheduler", zap.Error(err))
		}
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 20 * 1024 * 1024, // rosters and batch payloads
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE",        // Allowed HTTP methods
		AllowHeaders: "Content-Type,Authorization", // Allowed headers
	}))

	// Enable the built-in logger middleware to log all requests
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${ip} ${method} ${path} ${status} ${latency}\n",
	}))

	certificateHandler := certificateController.NewCertificateHandler(
		svc.Issuer,
		svc.Registry,
		svc.Renderer,
		svc.Metrics,
		config.AppConfig.RosterMaxRowsPerSheet,
		zapLogger,
	)

	authRoutes.SetupAuthRoutes(app)
	certificateRoutes.SetupCertificateRoutes(app, certificateHandler)

	go func() {
		if err := app.Listen(":" + config.AppConfig.Port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", config.AppConfig.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	// let a running inbox batch finish before the engine and database go away
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	svc.Close()

	if sqlDB, err := database.Database.Db.DB(); err == nil {
		sqlDB.Close()
	}
}

// inboxIssuer runs rosters dropped in the inbox through the batch pipeline.
func inboxIssuer(issuer *issuance.Issuer, zapLogger *zap.Logger) utils.RosterIssuer {
	return func(ctx context.Context, file string, records []models.CertificateRecord) error {
		outcomes, err := issuer.IssueBatch(issuance.WithSource(ctx, "inbox"), records)
		if err != nil {
			return err
		}
		summary := certificateController.Summarize(outcomes)
		zapLogger.Info("Roster issued",
			zap.String("file", file),
			zap.Int("total", summary.Total),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
		)
		return nil
	}
}
