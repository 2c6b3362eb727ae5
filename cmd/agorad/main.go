package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"OpenAgora/internal/api"
	"OpenAgora/internal/catalog"
	"OpenAgora/internal/config"
	"OpenAgora/internal/escrow"
	"OpenAgora/internal/job"
	"OpenAgora/internal/ledger"
	"OpenAgora/internal/observability/alerting"
	"OpenAgora/internal/observability/metrics"
	"OpenAgora/internal/orchestrator"
	"OpenAgora/internal/selection"
	"OpenAgora/pkg/logger"
)

// main 是 OpenAgora 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agorad 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGORA_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agora.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}

	if cfg.Runtime.DataDir != "" {
		if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
			return err
		}
	}

	var agentStore catalog.Store
	var book ledger.Ledger
	var jobStore job.Store
	switch cfg.Storage.Driver {
	case "", "memory":
		agentStore = catalog.NewMemoryStore()
		book = ledger.NewMemoryLedger()
		jobStore = job.NewMemoryStore()
	case "mysql":
		store, err := catalog.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		agentStore = store
		ml, err := ledger.NewMySQLLedger(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		book = ml
		js, err := job.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		jobStore = js
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
	defer func() {
		if jobStore != nil {
			_ = jobStore.Close()
		}
	}()

	if cfg.Market.SeedAgentsPath != "" {
		defs, err := catalog.LoadSeedDefinitions(cfg.Market.SeedAgentsPath)
		if err != nil {
			return err
		}
		applied, err := catalog.ApplySeeds(ctx, agentStore, defs)
		if err != nil {
			return err
		}
		logger.L().Info("已加载内置智能体", "count", applied)
	}

	profiles := selection.ProfileDefinitions{}
	if cfg.Market.ProfilesPath != "" {
		loaded, err := selection.LoadProfiles(cfg.Market.ProfilesPath)
		if err != nil {
			return err
		}
		profiles = loaded
	}

	var jobQueue job.Queue
	switch cfg.JobQueue.Driver {
	case "", "memory":
		jobQueue = job.NewMemoryQueue(1024)
	case "redis":
		queue, err := job.NewRedisQueue(job.RedisQueueConfig{
			Address:   cfg.JobQueue.Redis.Address,
			Password:  cfg.JobQueue.Redis.Password,
			DB:        cfg.JobQueue.Redis.DB,
			Queue:     cfg.JobQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.JobQueue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		jobQueue = queue
	case "rabbitmq":
		queue, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        cfg.JobQueue.RabbitMQ.URL,
			Queue:      cfg.JobQueue.RabbitMQ.Queue,
			Prefetch:   cfg.JobQueue.RabbitMQ.Prefetch,
			Durable:    cfg.JobQueue.RabbitMQ.Durable,
			AutoDelete: cfg.JobQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		jobQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.JobQueue.Driver)
	}
	defer func() {
		if jobQueue != nil {
			if err := jobQueue.Close(); err != nil {
				logger.L().Warn("关闭任务队列失败", "error", err)
			}
		}
	}()

	wallets := escrow.NewWallets(cfg.Market.Wallets)
	escrowManager := escrow.NewManager(agentStore, book, wallets)

	selector := selection.NewEngine(agentStore)
	engine := orchestrator.NewEngine(selector, escrowManager,
		orchestrator.NewHTTPDispatcher(&http.Client{Timeout: cfg.Market.DispatchTimeout()}),
		orchestrator.WithDispatchTimeout(cfg.Market.DispatchTimeout()),
		orchestrator.WithDefaultWeights(profiles.Resolve(cfg.Market.DefaultProfile)),
	)

	jobService := job.NewService(jobStore, jobQueue, cfg.Storage.JobRetries)
	processor := job.NewProcessor(engine, jobStore, jobQueue, jobQueue,
		job.WithWorkerCount(cfg.JobQueue.Worker),
		job.WithProcessorLogger(logger.Named("processor")),
		job.WithAlertDispatcher(alerting.NewFanout(&alerting.LogNotifier{})),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", "error", err)
		}
	}()

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, jobService, agentStore, book, wallets, profiles)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
