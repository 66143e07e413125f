// Package services wires the issuance pipeline to its backing services.
package services

import (
	"constancias/config"
	"constancias/metrics"
	"constancias/services/issuance"
	"constancias/services/registry"
	"constancias/services/render"
	"constancias/services/storage"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Services struct {
	Registry *registry.Registry
	Renderer *render.Engine
	Store    *storage.Store
	Issuer   *issuance.Issuer
	Metrics  *metrics.Collector
}

func New(cfg *config.Config, db *gorm.DB, logger *zap.Logger, mc *metrics.Collector) *Services {
	reg := registry.New(db, cfg.SaltRound, logger)
	engine := render.NewEngine(cfg.GotenbergURL, time.Duration(cfg.RenderTimeoutSeconds)*time.Second, logger)
	store := storage.NewAzureStore(storage.Credentials{
		AccountName:   cfg.AzureAccountName,
		AccountKey:    cfg.AzureAccountKey,
		ContainerName: cfg.AzureContainerName,
	}, logger)

	issuer := issuance.NewIssuer(issuance.Deps{
		Counter:       reg,
		Renderer:      engine,
		Store:         store,
		Registry:      reg,
		Journal:       reg,
		Codes:         issuance.NewCodeAllocator(cfg.CUVPrefix),
		VerifyBaseURL: cfg.VerifyBaseURL,
		Metrics:       mc,
		Logger:        logger,
	})

	return &Services{
		Registry: reg,
		Renderer: engine,
		Store:    store,
		Issuer:   issuer,
		Metrics:  mc,
	}
}

// Close releases the render engine. Call once at shutdown.
func (s *Services) Close() {
	s.Renderer.Close()
}
