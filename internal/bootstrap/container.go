package bootstrap

import (
	"context"
	"fmt"
	"log"
	"strings"

	"araquem/internal/config"
	"araquem/internal/controller"
	"araquem/internal/pkg/logger"
	"araquem/internal/repository/contract"
	"araquem/internal/repository/implementation"
	"araquem/internal/repository/memory"
	"araquem/internal/service"
	"araquem/pkg/cache"
	"araquem/pkg/database"
	"araquem/pkg/embedding"
	"araquem/pkg/executor"
	"araquem/pkg/llm/factory"
	"araquem/pkg/narrator"
	"araquem/pkg/orchestrator"
	"araquem/pkg/planner"
	"araquem/pkg/policy"
	"araquem/pkg/presenter"
	"araquem/pkg/rag"

	pktNats "araquem/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	AskController    controller.IAskController
	OpsController    controller.IOpsController
	HealthController controller.IHealthController

	// Background services, started by main
	ConsumerService service.IConsumerService
	PolicyStore     *policy.Store

	Logger logger.ILogger

	closers []func()
}

// NewContainer wires the pipeline. Only the policy tree and the tabular
// DSN are required; every other dependency degrades with a warning.
func NewContainer(cfg *config.Config) (*Container, error) {
	// 1. Core facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	c := &Container{Logger: sysLogger}

	policyStore, err := policy.NewStore(cfg.Policies.DataDir, sysLogger)
	if err != nil {
		return nil, fmt.Errorf("load policies from %s: %w", cfg.Policies.DataDir, err)
	}
	c.PolicyStore = policyStore

	exec, err := executor.New(executor.Config{
		DSN:              cfg.Database.Connection,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, sysLogger)
	if err != nil {
		return nil, err
	}

	// 2. Cache backend: Redis when configured, in-process otherwise
	var backend cache.Backend
	if cfg.Cache.RedisURL != "" {
		rdb := cache.NewRedisClient(cfg.Cache.RedisURL)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
		backend = cache.NewRedisBackend(rdb)
		c.closers = append(c.closers, func() { _ = rdb.Close() })
	} else {
		backend = cache.NewMemoryBackend()
		log.Printf("[INFO] REDIS_URL not set, using in-process cache")
	}
	readThrough := cache.New(backend, cfg.App.BuildID, sysLogger)

	// 3. Retrieval
	embedder, err := embedding.NewProvider(cfg.RAG.EmbeddingProvider, cfg.RAG.EmbeddingServiceURL, cfg.RAG.EmbeddingModel, cfg.RAG.EmbeddingAPIKey)
	if err != nil {
		return nil, fmt.Errorf("initialize embedding provider: %w", err)
	}
	log.Printf("[INFO] Using embedding provider: %s (%s)", cfg.RAG.EmbeddingProvider, embedder.Model())
	vectorStore, vectorDB, err := newVectorStore(cfg)
	if err != nil {
		log.Printf("[WARN] Vector store unavailable: %v", err)
	}
	// a nil store folds every retrieval into rag.enabled=false, reason=error
	ragBuilder := rag.NewBuilder(vectorStore, embedder, sysLogger)

	// 4. LLM and narrator
	llmProvider, err := factory.NewLLMProvider(cfg.LLM.Provider, cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.APIKey)
	if err != nil {
		return nil, fmt.Errorf("initialize LLM provider: %w", err)
	}
	if llmProvider != nil {
		log.Printf("[INFO] Using LLM Provider: %s (%s)", llmProvider.Name(), cfg.LLM.Model)
	} else {
		log.Printf("[INFO] No LLM provider configured, answers stay deterministic")
	}

	var shadowSink narrator.ShadowSink
	if cfg.Events.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.Events.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			shadowSink = narrator.NewPublisherSink(natsPub)
			c.closers = append(c.closers, natsPub.Close)
		}
	}
	if shadowSink == nil {
		shadowSink = narrator.NewLogSink(logger.NewIsolatedLogger(cfg.App.ShadowLogPath))
	}
	narr := narrator.NewNarrator(llmProvider, shadowSink, sysLogger)

	// 5. Pipeline
	plan := planner.NewPlanner(policyStore, ragBuilder, sysLogger)
	lastRefs := memory.NewLastReferenceRepository()
	orch := orchestrator.NewOrchestrator(policyStore, plan, exec, readThrough, ragBuilder, lastRefs, sysLogger)
	pres := presenter.NewPresenter(ragBuilder, policyStore, narr, sysLogger)

	// 6. Analytics bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermillLogger,
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	var analyticsRepo contract.AnalyticsRepository
	var analyticsDB *gorm.DB
	if cfg.Database.AnalyticsConnection != "" {
		analyticsDB, err = database.NewGormDBFromDSN(cfg.Database.AnalyticsConnection, cfg.Database.MaxOpenConns, !cfg.IsProduction())
		if err != nil {
			log.Printf("[WARN] Analytics database unavailable: %v", err)
		} else {
			analyticsRepo = implementation.NewAnalyticsRepository(analyticsDB)
			if err := analyticsRepo.Migrate(context.Background()); err != nil {
				log.Printf("[WARN] Failed to migrate analytics tables: %v", err)
			}
		}
	}

	// 7. Services
	analyticsService := service.NewAnalyticsService(pubSub, cfg.Events.AnalyticsTopic, sysLogger)
	quotaService := service.NewQuotaService(backend, sysLogger)
	askService := service.NewAskService(policyStore, orch, pres, quotaService, analyticsService, sysLogger)
	qualityService := service.NewQualityService(policyStore, plan, sysLogger)

	deps := service.HealthDeps{
		Database:      exec,
		Cache:         backend,
		LLMConfigured: narr.Configured(),
		BuildID:       cfg.App.BuildID,
	}
	if vectorStore != nil {
		deps.VectorStore = vectorStore
	}
	if analyticsDB != nil {
		deps.Analytics = gormPinger{db: analyticsDB}
	}
	if vectorDB != nil && vectorDB != analyticsDB {
		c.closers = append(c.closers, closeGorm(vectorDB))
	}
	if analyticsDB != nil {
		c.closers = append(c.closers, closeGorm(analyticsDB))
	}
	opsService := service.NewOpsService(policyStore, readThrough, deps, sysLogger)

	c.ConsumerService = service.NewConsumerService(pubSub, cfg.Events.AnalyticsTopic, analyticsRepo, sysLogger)

	// 8. Controllers
	c.AskController = controller.NewAskController(askService)
	c.OpsController = controller.NewOpsController(opsService, qualityService, cfg.Ops.Token)
	c.HealthController = controller.NewHealthController(opsService)

	return c, nil
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// newVectorStore picks the JSONL file store or pgvector from the URL scheme.
func newVectorStore(cfg *config.Config) (rag.Store, *gorm.DB, error) {
	url := cfg.RAG.VectorStoreURL
	switch {
	case url == "":
		return nil, nil, fmt.Errorf("VECTOR_STORE_URL is empty")
	case strings.HasPrefix(url, "file://"):
		return rag.NewFileStore(strings.TrimPrefix(url, "file://")), nil, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		db, err := database.NewGormDBFromDSN(url, cfg.Database.MaxOpenConns, false)
		if err != nil {
			return nil, nil, err
		}
		return rag.NewPgvectorStore(db), db, nil
	default:
		return rag.NewFileStore(url), nil, nil
	}
}

type gormPinger struct {
	db *gorm.DB
}

func (p gormPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func closeGorm(db *gorm.DB) func() {
	return func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
