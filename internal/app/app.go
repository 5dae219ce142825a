// Package app builds the process-wide singleton graph: one store, one broker,
// one LLM gateway, shared by every worker slot and service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"

	blobpg "github.com/GwonsooLee/argoitny-sub004/internal/adapter/blob/postgres"
	"github.com/GwonsooLee/argoitny-sub004/internal/adapter/fetch"
	"github.com/GwonsooLee/argoitny-sub004/internal/adapter/llm"
	"github.com/GwonsooLee/argoitny-sub004/internal/adapter/queue/redpanda"
	"github.com/GwonsooLee/argoitny-sub004/internal/adapter/runner"
	storepg "github.com/GwonsooLee/argoitny-sub004/internal/adapter/store/postgres"
	"github.com/GwonsooLee/argoitny-sub004/internal/config"
	"github.com/GwonsooLee/argoitny-sub004/internal/domain"
	"github.com/GwonsooLee/argoitny-sub004/internal/service/testcases"
	"github.com/GwonsooLee/argoitny-sub004/internal/service/usage"
	"github.com/GwonsooLee/argoitny-sub004/internal/usecase"
)

// App holds the initialized dependency graph.
type App struct {
	Cfg config.Config
	Log *slog.Logger

	Pool        *pgxpool.Pool
	Redis       *redis.Client
	KafkaClient *kgo.Client

	Table  *storepg.Table
	Blobs  *blobpg.Store
	Broker *redpanda.Producer

	Users    domain.UserRepository
	Plans    domain.PlanRepository
	Problems domain.ProblemRepository
	Jobs     domain.JobRepository
	Progress domain.ProgressRepository
	History  domain.HistoryRepository
	Usage    domain.UsageRepository

	TestCases domain.TestCaseStore
	Limiter   domain.RateLimiter
	Gateway   *llm.Gateway
	Fetcher   domain.Fetcher
	Runner    domain.Runner

	Execute     *usecase.ExecuteService
	Register    *usecase.RegisterService
	JobsSvc     *usecase.JobService
	HistorySvc  *usecase.HistoryService
	Hints       *usecase.HintService
	PlansSvc    *usecase.PlanService
}

// Init connects the infrastructure, runs migrations, and wires the services.
func Init(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	op := "app.init"

	pool, err := storepg.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	if err := storepg.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	if err := blobpg.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=%s: redis ping: %w", op, err)
	}

	kafkaClient, err := redpanda.NewProducerClient(cfg.KafkaBrokers)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}
	if err := redpanda.EnsureQueueTopics(ctx, kafkaClient, cfg.WorkerQueues); err != nil {
		pool.Close()
		_ = rdb.Close()
		kafkaClient.Close()
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}

	blobs := blobpg.NewStore(pool)
	table := storepg.NewTable(pool).WithBlobStore(blobs)
	broker := redpanda.NewProducer(kafkaClient, rdb)

	a := &App{
		Cfg:         cfg,
		Log:         log,
		Pool:        pool,
		Redis:       rdb,
		KafkaClient: kafkaClient,
		Table:       table,
		Blobs:       blobs,
		Broker:      broker,
		Users:       storepg.NewUserRepo(table),
		Plans:       storepg.NewPlanRepo(table),
		Problems:    storepg.NewProblemRepo(table),
		Jobs:        storepg.NewJobRepo(table),
		Progress:    storepg.NewProgressRepo(table),
		History:     storepg.NewHistoryRepo(table),
		Usage:       storepg.NewUsageRepo(table),
	}

	a.TestCases = testcases.NewStore(blobs, a.Problems, cfg.TestCaseGzipLevel, cfg.TestCaseMaxCount)
	a.Limiter = usage.NewLimiter(a.Plans, a.Usage, usage.NewCountCache(rdb, usage.CacheTTLs{
		Negative:   cfg.RateLimitNegativeTTL,
		UnderLimit: cfg.RateLimitCacheTTL,
		AtLimit:    cfg.RateLimitAtLimitTTL,
	}))
	a.Gateway = buildGateway(cfg)
	a.Fetcher = fetch.NewClient(cfg.FetchTimeout, cfg.FetchMaxRetries)
	a.Runner = runner.NewClient(cfg.RunnerURL, cfg.RunnerDefaultTimeout)

	a.Execute = usecase.NewExecuteService(a.Problems, a.Broker, a.Limiter)
	a.Register = usecase.NewRegisterService(a.Jobs, a.Problems, a.Plans, a.Broker)
	a.JobsSvc = usecase.NewJobService(a.Jobs, a.Progress, a.Broker)
	a.HistorySvc = usecase.NewHistoryService(a.History)
	a.Hints = usecase.NewHintService(a.History, a.Limiter)
	a.PlansSvc = usecase.NewPlanService(a.Plans)

	if err := a.seedPlans(ctx); err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("op=%s: %w", op, err)
	}

	log.Info("application initialized",
		slog.String("env", cfg.AppEnv),
		slog.Int("pool_size", cfg.PoolSize()),
		slog.Any("queues", cfg.WorkerQueues))
	return a, nil
}

func buildGateway(cfg config.Config) *llm.Gateway {
	providers := []llm.Provider{
		llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			Model:           cfg.LLMModel,
			Temperature:     cfg.LLMTemperature,
			ReasoningEffort: cfg.LLMReasoningEffort,
			Verbosity:       cfg.LLMVerbosity,
			Timeout:         cfg.LLMTimeout,
			BackoffInitial:  cfg.LLMBackoffInitialInterval,
			BackoffMax:      cfg.LLMBackoffMaxInterval,
			MaxAttempts:     cfg.LLMMaxAttempts,
		}),
	}
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:      cfg.AnthropicAPIKey,
			Model:       cfg.AnthropicModel,
			Temperature: cfg.LLMTemperature,
			Timeout:     cfg.LLMTimeout,
			MaxAttempts: cfg.LLMMaxAttempts,
		}))
	}
	return llm.NewGateway(cfg.LLMProvider, providers...)
}

// NewConsumer joins the worker consumer group for the configured queues.
func (a *App) NewConsumer() (*redpanda.Consumer, error) {
	visibility := map[string]time.Duration{}
	for _, q := range a.Cfg.WorkerQueues {
		visibility[q] = a.Cfg.VisibilityTimeout(q)
	}
	return redpanda.NewConsumer(a.Cfg.KafkaBrokers, a.Cfg.WorkerConsumerGroupID,
		a.Cfg.WorkerQueues, visibility, a.Cfg.BrokerMaxRetries)
}

// Shutdown releases every connection. Safe to call after a partial Init.
func (a *App) Shutdown() {
	if a.KafkaClient != nil {
		a.KafkaClient.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
