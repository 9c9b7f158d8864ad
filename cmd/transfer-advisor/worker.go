// cmd/transfer-advisor/worker.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transfer-advisor/internal/common/camunda"
	"transfer-advisor/internal/common/config"
	rt "transfer-advisor/internal/workers/transfer/recommend-transfer"
	rtr "transfer-advisor/internal/workers/transfer/request-transfer-review"
	"transfer-advisor/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/spf13/cobra"
)

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the Zeebe job workers alongside the health and metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var client zbc.Client
			err = retryWithBackoff(func() error {
				var err error
				client, err = camunda.Connect(ctx, a.cfg.Camunda.BrokerAddress, 10*time.Second)
				return err
			}, 10, 2*time.Second, a.log, "Zeebe client initialization")
			if err != nil {
				return err
			}
			a.checks["zeebe"] = func(ctx context.Context) error {
				return camunda.HealthCheck(ctx, client, 5*time.Second)
			}

			reg, err := loadRegistry(a.cfg.Camunda.RegistryPath)
			if err != nil {
				_ = client.Close()
				return err
			}

			workers := a.startWorkers(client, reg)
			serveErr := a.server().Run(ctx)

			a.log.Info("shutdown signal received, stopping workers", nil)
			for _, w := range workers {
				w.Close()
			}
			if err := client.Close(); err != nil {
				a.log.Error("error closing Zeebe client", map[string]interface{}{"error": err.Error()})
			}
			a.log.Info("worker stopped gracefully", nil)
			return serveErr
		},
	}
}

func (a *app) startWorkers(client zbc.Client, reg *registry.ActivityRegistry) []*camunda.Worker {
	var workers []*camunda.Worker

	if wcfg := a.workerConfig(rt.TaskType); wcfg.Enabled {
		handler := rt.NewHandler(&rt.Config{
			Timeout: time.Duration(wcfg.Timeout) * time.Millisecond,
		}, a.pipeline, a.log)
		workers = append(workers, camunda.NewWorker(client, rt.TaskType, wcfg.MaxJobsActive,
			time.Duration(wcfg.Timeout)*time.Millisecond, a.validated(reg, rt.TaskType, handler), a.log))
	} else {
		a.log.Info("worker disabled", map[string]interface{}{"taskType": rt.TaskType})
	}

	if wcfg := a.workerConfig(rtr.TaskType); wcfg.Enabled {
		handler := rtr.NewHandler(&rtr.Config{
			Timeout: time.Duration(wcfg.Timeout) * time.Millisecond,
		}, a.notifier, a.log)
		workers = append(workers, camunda.NewWorker(client, rtr.TaskType, wcfg.MaxJobsActive,
			time.Duration(wcfg.Timeout)*time.Millisecond, a.validated(reg, rtr.TaskType, handler), a.log))
	} else {
		a.log.Info("worker disabled", map[string]interface{}{"taskType": rtr.TaskType})
	}

	return workers
}

// workerConfig falls back to the camunda defaults for task types absent from
// the workers section.
func (a *app) workerConfig(taskType string) config.WorkerConfig {
	wcfg, ok := a.cfg.Workers[taskType]
	if !ok {
		wcfg = config.WorkerConfig{Enabled: true}
	}
	if wcfg.MaxJobsActive == 0 {
		wcfg.MaxJobsActive = a.cfg.Camunda.MaxJobsActive
	}
	if wcfg.Timeout == 0 {
		wcfg.Timeout = a.cfg.Camunda.Timeout
	}
	return wcfg
}

// loadRegistry returns nil when no registry is configured.
func loadRegistry(path string) (*registry.ActivityRegistry, error) {
	if path == "" {
		return nil, nil
	}
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load activity registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (a *app) validated(reg *registry.ActivityRegistry, taskType string, handler camunda.JobHandler) camunda.JobHandler {
	if reg == nil {
		return handler
	}
	activity, ok := reg.Find(taskType)
	if !ok {
		a.log.Warn("task type missing from activity registry", map[string]interface{}{"taskType": taskType})
		return handler
	}
	schema, err := activity.Input()
	if err != nil {
		// Validate already compiled every schema.
		return handler
	}
	return camunda.WithInputSchema(handler, schema, a.log)
}
