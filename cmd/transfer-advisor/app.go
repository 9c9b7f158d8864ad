// cmd/transfer-advisor/app.go
package main

import (
	"context"
	"fmt"
	"time"

	"transfer-advisor/internal/api"
	"transfer-advisor/internal/common/config"
	"transfer-advisor/internal/common/database"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/common/observability"
	"transfer-advisor/internal/exclusions"
	"transfer-advisor/internal/fallback"
	"transfer-advisor/internal/hospitals"
	"transfer-advisor/internal/interactionlog"
	"transfer-advisor/internal/llm"
	"transfer-advisor/internal/pipeline"
	"transfer-advisor/internal/review"

	"go.uber.org/zap"
)

// app holds everything the subcommands share.
type app struct {
	cfg      *config.Config
	zapLog   *zap.Logger
	log      logger.Logger
	obs      *observability.Observability
	pipeline *pipeline.Pipeline
	notifier pipeline.ReviewNotifier
	checks   map[string]api.Check
	closers  []func()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	a := &app{
		cfg:    cfg,
		zapLog: zapLog,
		log:    logger.NewZapAdapter(zapLog),
		checks: map[string]api.Check{},
	}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	obs, err := observability.New(cfg.App.Name, nil)
	if err != nil {
		return fmt.Errorf("observability init failed: %w", err)
	}
	a.obs = obs
	a.closers = append(a.closers, obs.Shutdown)

	interactions := interactionlog.Disabled()
	if cfg.InteractionLog.Enabled {
		sink, err := interactionlog.OpenFileSink(cfg.InteractionLog.Directory, time.Now())
		if err != nil {
			return err
		}
		interactions = interactionlog.New(sink, a.log)
		a.closers = append(a.closers, func() { _ = sink.Close() })
	}

	gateway, err := llm.NewGateway(llm.OptionsFromConfig(cfg.LLM), interactions, a.log)
	if err != nil {
		return fmt.Errorf("llm gateway init failed: %w", err)
	}

	rules, err := fallback.NewRecommender(
		fallback.CampusTableFromConfig(cfg.Pipeline.CampusTable),
		cfg.Pipeline.CampusNames,
		a.log,
	)
	if err != nil {
		return err
	}

	deps := pipeline.Dependencies{
		Completer:           gateway,
		Observability:       obs,
		Logger:              a.log,
		Rules:               rules,
		ReviewThreshold:     cfg.Pipeline.ReviewConfidenceThreshold,
		DisagreementPenalty: cfg.Pipeline.DisagreementPenalty,
	}

	if deps.Directory, err = a.hospitalDirectory(ctx); err != nil {
		return err
	}
	if deps.Census, err = a.censusStore(ctx); err != nil {
		return err
	}
	if deps.Exclusions, err = a.exclusionSource(ctx); err != nil {
		return err
	}

	notifier, err := review.NewFromConfig(ctx, cfg.Notifications, a.log)
	if err != nil {
		return err
	}
	if notifier != nil {
		a.notifier = notifier
		deps.Notifier = notifier
	}

	a.pipeline, err = pipeline.New(deps)
	if err != nil {
		return err
	}

	a.log.Info("pipeline ready", map[string]interface{}{
		"model":            gateway.Model(),
		"hospital_source":  cfg.Collaborators.HospitalSource,
		"census_source":    cfg.Collaborators.CensusSource,
		"exclusion_source": cfg.Collaborators.ExclusionSource,
		"notifications":    cfg.Notifications.Enabled(),
	})
	return nil
}

func (a *app) hospitalDirectory(ctx context.Context) (hospitals.Directory, error) {
	switch a.cfg.Collaborators.HospitalSource {
	case "file":
		return hospitals.NewFileDirectory(a.cfg.Collaborators.HospitalsFile)
	case "postgres":
		var pg *database.PostgresClient
		err := retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(a.cfg.Database.Postgres)
			if err != nil {
				return err
			}
			if err := pg.Ping(ctx); err != nil {
				_ = pg.Close()
				return err
			}
			return nil
		}, 5, 2*time.Second, a.log, "PostgreSQL connection")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = pg.Close() })
		a.checks["postgres"] = pg.Ping
		return hospitals.NewPostgresDirectory(pg, a.log), nil
	}
	return nil, nil
}

func (a *app) censusStore(ctx context.Context) (hospitals.CensusStore, error) {
	if a.cfg.Collaborators.CensusSource != "redis" {
		return nil, nil
	}
	rdb := database.NewRedis(a.cfg.Database.Redis)
	err := retryWithBackoff(func() error {
		return rdb.Ping(ctx)
	}, 5, 2*time.Second, a.log, "Redis connection")
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	a.checks["redis"] = rdb.Ping

	ttl := time.Duration(a.cfg.Database.Redis.CensusTTL) * time.Second
	return hospitals.NewRedisCensusStore(rdb, ttl, a.log), nil
}

func (a *app) exclusionSource(ctx context.Context) (exclusions.Source, error) {
	switch a.cfg.Collaborators.ExclusionSource {
	case "file":
		return exclusions.NewFileSource(a.cfg.Collaborators.ExclusionsFile)
	case "elasticsearch":
		var es *database.ElasticsearchClient
		err := retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(a.cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.ExclusionsReady(ctx)
		}, 5, 2*time.Second, a.log, "Elasticsearch connection")
		if err != nil {
			return nil, err
		}
		a.checks["elasticsearch"] = es.ExclusionsReady
		return exclusions.NewElasticsearchSource(es, es.ExclusionIndex, a.log), nil
	}
	return nil, nil
}

func (a *app) server() *api.Server {
	return api.NewServer(api.Options{
		Port:         a.cfg.Server.Port,
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeout) * time.Millisecond,
		Version:      version,
	}, a.pipeline, a.notifier, a.checks, a.log)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.zapLog.Sync()
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}
