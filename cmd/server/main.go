package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"alerthub/api/server"
	"alerthub/internal/alert"
	"alerthub/internal/bus"
	"alerthub/internal/config"
	"alerthub/internal/database"
	"alerthub/internal/elasticsearch"
	"alerthub/internal/ingest"
	"alerthub/internal/knowledge"
	"alerthub/internal/logger"
	"alerthub/internal/metrics"
	"alerthub/internal/rules"
	"alerthub/internal/sources"
	"alerthub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "etc/config.yaml", "Path to configuration file")
	version    = "1.0.0"
)

func main() {
	flag.Parse()

	// 加载配置
	var cfg *config.Config

	// 优先从配置文件加载，如果失败则从环境变量加载
	if _, err := os.Stat(*configFile); err == nil {
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			fmt.Printf("Failed to load config from file: %v\n", err)
			fmt.Println("Falling back to environment variables...")
			cfg = config.Load()
		}
	} else {
		fmt.Println("Config file not found, loading from environment variables...")
		cfg = config.Load()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志系统
	if err := logger.Init(cfg.Logger.Level, cfg.Logger.Output, cfg.Logger.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting alerthub",
		zap.String("version", version),
		zap.String("config_file", *configFile),
	)

	// 初始化数据库
	if err := database.InitDB(database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	db := database.GetDB()

	logger.Info("Database initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.String("database", cfg.Database.DBName),
		zap.Bool("row_locks", database.SupportsRowLocks(db)),
	)

	if cfg.Database.Seed {
		if err := database.Seed(db); err != nil {
			logger.Warn("Failed to seed database", zap.Error(err))
		}
	}

	// 初始化 Elasticsearch（如果启用）
	esClient, err := elasticsearch.NewClient(cfg.Elasticsearch)
	if err != nil {
		logger.Fatal("Failed to initialize Elasticsearch", zap.Error(err))
	}
	if esClient != nil {
		if err := esClient.CreateIndexTemplate(context.Background()); err != nil {
			logger.Warn("Failed to create index template", zap.Error(err))
		}
	} else {
		logger.Info("Elasticsearch is disabled")
	}

	// 事件总线（如果启用）
	publisher, err := bus.Connect(cfg.NATS)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer publisher.Close()
	if publisher == nil {
		logger.Info("NATS event bus is disabled")
	}

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// 派发审计日志
	if dir := cfg.Engine.DispatchLogDir; dir != "" {
		if err := logger.InitDispatchLog(dir); err != nil {
			logger.Warn("Dispatch log disabled", zap.Error(err))
			cfg.Engine.DispatchLogDir = ""
		}
	}

	st := store.New(db)
	dispatcher := alert.NewDispatcher(
		alert.WithEmailSender(alert.NewSMTPSender(cfg.SMTP)),
		alert.WithWebhookTimeout(cfg.Engine.WebhookTimeout()),
		alert.WithAuditDir(cfg.Engine.DispatchLogDir),
		alert.WithMetrics(m),
	)
	engine := rules.NewEngine(st, dispatcher,
		rules.WithSuggester(knowledge.NewSuggester(st)),
		rules.WithEngineMetrics(m),
	)
	opts := []ingest.Option{
		ingest.WithEvaluator(engine),
		ingest.WithMetrics(m),
		ingest.WithDedupWindow(cfg.Engine.DedupWindow()),
	}
	if esClient != nil {
		opts = append(opts, ingest.WithIndexer(esClient))
	}
	if publisher != nil {
		opts = append(opts, ingest.WithPublisher(publisher))
	}
	pipeline := ingest.NewPipeline(db, opts...)

	gin.SetMode(gin.ReleaseMode)
	httpServer := server.NewServer(server.Options{
		Config:   cfg,
		Store:    st,
		Pipeline: pipeline,
		Sources:  sources.NewRegistry(),
		ES:       esClient,
		Gatherer: registry,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 配置热加载：目前只有日志级别无需重启
	if _, err := os.Stat(*configFile); err == nil {
		go func() {
			current := cfg.Logger.Level
			err := config.Watch(ctx, *configFile, func(next *config.Config) {
				if next.Logger.Level == current {
					return
				}
				if err := logger.SetLevel(next.Logger.Level); err != nil {
					logger.Warn("Failed to apply log level", zap.Error(err))
					return
				}
				logger.Info("Log level changed", zap.String("level", next.Logger.Level))
				current = next.Logger.Level
			})
			if err != nil {
				logger.Warn("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	logger.Info("Starting HTTP server", zap.String("address", httpAddr))
	if err := httpServer.Run(ctx, httpAddr); err != nil {
		logger.Error("HTTP server failed", zap.Error(err))
	}

	logger.Info("alerthub stopped")
}
