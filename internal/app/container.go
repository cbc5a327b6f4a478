package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/predictive-dialer/internal/config"
	"github.com/acme/predictive-dialer/internal/infra/db"
	"github.com/acme/predictive-dialer/internal/infra/redis"
	"github.com/acme/predictive-dialer/internal/queue"
	"github.com/acme/predictive-dialer/internal/repository"
	pgrepo "github.com/acme/predictive-dialer/internal/repository/postgres"
	scyllarepo "github.com/acme/predictive-dialer/internal/repository/scylla"
	"github.com/acme/predictive-dialer/internal/service/compliance"
	"github.com/acme/predictive-dialer/internal/service/concurrency"
	dialersvc "github.com/acme/predictive-dialer/internal/service/dialer"
	"github.com/acme/predictive-dialer/internal/telephony"
	telephonyMock "github.com/acme/predictive-dialer/internal/telephony/mock"
	"github.com/acme/predictive-dialer/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		publishers   *publishers
		gateway      telephony.Gateway
		limiter      *concurrency.DialSlotLimiter
		controller   *dialersvc.Controller
	}
}

type repositories struct {
	Campaigns repository.CampaignRepository
	Targets   repository.TargetRecordRepository
	Agents    repository.AgentRepository
	Attempts  repository.DialAttemptRepository
	DNC       repository.DNCRepository
	History   repository.AttemptHistoryStore
}

type publishers struct {
	Audit  *queue.AuditPublisher
	Events *queue.EventPublisher
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Campaigns: pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Targets:   pgrepo.NewTargetRecordRepository(c.Postgres.DB()),
			Agents:    pgrepo.NewAgentRepository(c.Postgres.DB()),
			Attempts:  pgrepo.NewDialAttemptRepository(c.Postgres.DB()),
			DNC:       pgrepo.NewDNCRepository(c.Postgres.DB()),
			History:   scyllarepo.NewAttemptHistoryStore(c.Scylla.Session()),
		}

		pubs := &publishers{
			Audit:  queue.NewAuditPublisher(c.Kafka, c.Config.Kafka.AuditTopic),
			Events: queue.NewEventPublisher(c.Kafka, c.Config.Kafka.EventsTopic),
		}

		gateway := telephonyMock.NewProvider(c.Config.CallBridge, pubs.Events)

		limiter := concurrency.NewDialSlotLimiter(
			c.Redis.Inner(),
			c.Config.Dialer.MaxConcurrentDials,
			c.Config.Dialer.SlotTTL,
		)

		gate := compliance.NewGate(
			repos.DNC,
			c.Config.Compliance.DNCEnabled,
			c.Config.Compliance.MaxAttempts,
		)

		controller := dialersvc.NewController(
			repos.Campaigns,
			repos.Targets,
			repos.Agents,
			repos.Attempts,
			repos.History,
			gate,
			gateway,
			pubs.Audit,
			limiter,
			dialersvc.Config{
				Pacing: dialersvc.PacingPolicy{
					DialRatio:          c.Config.Dialer.DialRatio,
					MaxConcurrentDials: c.Config.Dialer.MaxConcurrentDials,
				},
				DialTimeout:     c.Config.CallBridge.RequestTimeout,
				DefaultCallerID: c.Config.Dialer.DefaultCallerID,
				Overflow:        dialersvc.OverflowPolicy(c.Config.Dialer.OverflowPolicy),
			},
			c.Logger,
		)

		c.components.repositories = repos
		c.components.publishers = pubs
		c.components.gateway = gateway
		c.components.limiter = limiter
		c.components.controller = controller
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Publishers exposes Kafka publishers.
func (c *Container) Publishers() *publishers {
	c.initComponents()
	return c.components.publishers
}

// Gateway exposes the telephony gateway.
func (c *Container) Gateway() telephony.Gateway {
	c.initComponents()
	return c.components.gateway
}

// Controller exposes the dialer queue controller.
func (c *Container) Controller() *dialersvc.Controller {
	c.initComponents()
	return c.components.controller
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.publishers; p != nil {
		if p.Audit != nil {
			if err := p.Audit.Close(); err != nil {
				errs = append(errs, fmt.Errorf("audit publisher close: %w", err))
			}
		}
		if p.Events != nil {
			if err := p.Events.Close(); err != nil {
				errs = append(errs, fmt.Errorf("event publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.AuditTopic, c.Config.Kafka.EventsTopic}
	return c.Kafka.EnsureTopics(ctx, topics, 48, 1)
}
