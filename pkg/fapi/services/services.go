package services

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/flockml/flock/pkg/broker"
	"github.com/flockml/flock/pkg/fapi/config"
	"github.com/flockml/flock/pkg/fapi/services/auth"
	"github.com/flockml/flock/pkg/flog"
	"github.com/flockml/flock/pkg/frunner"
	"github.com/flockml/flock/pkg/fstore"
	"github.com/flockml/flock/pkg/orchestrator"
	"github.com/flockml/flock/pkg/registry"
)

type Services struct {
	Auth         *auth.AuthService
	Registry     registry.Registry
	Orchestrator *orchestrator.Orchestrator
}

func NewServices(cfg *config.EnvConfig, db *bun.DB, log *flog.Logger) (*Services, error) {
	users := registry.NewBunUsers(db)
	authSvc := auth.NewAuthService(users, time.Duration(cfg.TokenTTL)*time.Second, cfg.AdminPassword, log)

	reg := registry.NewBunRegistry(db)

	var artifacts fstore.Store
	if cfg.S3Endpoint != "" {
		store, err := fstore.NewS3Store(fstore.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		artifacts = store
	}

	orc := orchestrator.New(orchestrator.Options{
		Registry:  reg,
		Launcher:  frunner.NewLocalLauncher(cfg.ServerArgv(), cfg.ClientArgv()),
		Dialer:    broker.RedisDialer(cfg.RedisPassword, cfg.RedisDB),
		Artifacts: artifacts,
		Logger:    log,
		Wait: broker.WaitConfig{
			PollInterval: time.Duration(cfg.FitStartPollSeconds) * time.Second,
			MaxRetries:   cfg.FitStartMaxRetries,
		},
		LogDir:         cfg.LogDir,
		ClientUsername: cfg.AdminUsername,
	})

	return &Services{
		Auth:         authSvc,
		Registry:     reg,
		Orchestrator: orc,
	}, nil
}
