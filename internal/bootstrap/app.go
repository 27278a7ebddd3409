package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/gorm"

	"gopherai-cochat/internal/ai"
	"gopherai-cochat/internal/app"
	"gopherai-cochat/internal/broker"
	"gopherai-cochat/internal/cache"
	"gopherai-cochat/internal/config"
	"gopherai-cochat/internal/logger"
	mysqlClient "gopherai-cochat/internal/platform/mysql"
	rabbitmqClient "gopherai-cochat/internal/platform/rabbitmq"
	redisClient "gopherai-cochat/internal/platform/redis"
	"gopherai-cochat/internal/repository"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection
	Tracer *sdktrace.TracerProvider

	Broker     broker.Broker
	Cache      *cache.TranscriptCache
	Completion app.CompletionSource

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log := logger.Init(logger.Config{
		Service:   cfg.App.Name,
		Version:   cfg.Log.Version,
		Env:       cfg.App.Env,
		Backend:   logger.Backend(cfg.Log.Backend),
		Level:     logger.ParseLevel(cfg.Log.Level),
		AddSource: cfg.Log.AddSource,
	})

	a := &App{Config: cfg, Logger: log, Tracer: logger.InitTracing(), StartedAt: time.Now()}

	a.MySQL, err = mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := repository.AutoMigrate(a.MySQL); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Cache = cache.NewTranscriptCache(
		a.Redis,
		time.Duration(cfg.Redis.TranscriptTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.TranscriptDirtyTTLSeconds)*time.Second,
	)

	if err := a.openBroker(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Completion = ai.NewOpenAICompatibleClient()

	log.Info("bootstrap complete",
		"broker", cfg.Broker.Backend,
		"llm_model", cfg.LLM.Model,
		"llm_configured", cfg.LLM.APIKey != "",
	)
	return a, nil
}

func (a *App) openBroker(ctx context.Context) error {
	switch a.Config.Broker.Backend {
	case config.BrokerMemory:
		a.Broker = broker.NewMemory()
	case config.BrokerRedis:
		a.Broker = broker.NewRedis(a.Redis)
	case config.BrokerRabbitMQ:
		conn, err := rabbitmqClient.New(ctx, a.Config.RabbitMQ.URL, a.Config.App.Name)
		if err != nil {
			return err
		}
		a.MQConn = conn
		b, err := broker.NewRabbitMQ(conn, a.Config.RabbitMQ.Exchange)
		if err != nil {
			return fmt.Errorf("open rabbitmq broker failed: %w", err)
		}
		a.Broker = b
	default:
		return fmt.Errorf("unknown broker backend %q", a.Config.Broker.Backend)
	}
	return nil
}

// RelayConfig maps the llm and relay sections onto the relay service.
func (a *App) RelayConfig() app.RelayConfig {
	return app.RelayConfig{
		LLM: ai.ChatConfig{
			BaseURL: a.Config.LLM.BaseURL,
			APIKey:  a.Config.LLM.APIKey,
			Model:   a.Config.LLM.Model,
		},
		SystemPrompt:      a.Config.LLM.SystemPrompt,
		MaxContext:        a.Config.LLM.MaxContextMessage,
		InactivityTimeout: a.Config.InactivityTimeout(),
		FinalizeTimeout:   a.Config.FinalizeTimeout(),
		FragmentBuffer:    a.Config.Relay.FragmentBuffer,
	}
}

func (a *App) Close() error {
	var closeErr error
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Tracer != nil {
		if err := a.Tracer.Shutdown(context.Background()); err != nil {
			closeErr = err
		}
	}
	return closeErr
}
