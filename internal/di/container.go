package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/vinylogix/api/internal/platform/config"
	"github.com/vinylogix/api/internal/platform/idempotency"
	"github.com/vinylogix/api/internal/platform/jobs"
	"github.com/vinylogix/api/internal/platform/observability"
	"github.com/vinylogix/api/internal/repositories"
	"github.com/vinylogix/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Ledger    services.StockLedgerService
	Alerts    services.LowStockDeduplicator
	Tenants   services.TenantService
	Allocator services.OrderNumberAllocator
	Orders    services.OrderService
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	// Notifier is nil when no shipment publisher was supplied.
	Notifier *services.ShipmentQueue
	Sweeper  *jobs.SweepScheduler
	// RequestKeys stores Idempotency-Key outcomes for mutating tenant requests.
	RequestKeys idempotency.Store
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	logger    *zap.Logger
	publisher services.ShipmentNoticePublisher
	meters    metric.MeterProvider
	clock     func() time.Time
	startedAt time.Time
	keys      idempotency.Store
}

// WithLogger sets the zap logger bound into service event logging and the scheduler.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithShipmentPublisher enables the shipment notice queue backed by publisher.
func WithShipmentPublisher(publisher services.ShipmentNoticePublisher) Option {
	return func(o *containerOptions) {
		o.publisher = publisher
	}
}

// WithMeterProvider overrides the OpenTelemetry meter provider used for ledger counters.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *containerOptions) {
		o.meters = provider
	}
}

// WithClock overrides the clock handed to every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// WithStartedAt records the process start time reported by health endpoints.
func WithStartedAt(startedAt time.Time) Option {
	return func(o *containerOptions) {
		o.startedAt = startedAt
	}
}

// WithRequestKeyStore sets the Idempotency-Key store. The default keeps keys in memory.
func WithRequestKeyStore(store idempotency.Store) Option {
	return func(o *containerOptions) {
		o.keys = store
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore registry,
// while tests and local runs can supply the in-memory one.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}
	if options.clock == nil {
		options.clock = time.Now
	}
	if options.startedAt.IsZero() {
		options.startedAt = options.clock().UTC()
	}

	metrics, err := observability.NewLedgerMetrics(options.meters)
	if err != nil {
		return nil, fmt.Errorf("build ledger metrics: %w", err)
	}

	c := &Container{
		Config:       cfg,
		Repositories: reg,
		RequestKeys:  options.keys,
	}
	if c.RequestKeys == nil {
		c.RequestKeys = idempotency.NewMemoryStore()
	}

	if options.publisher != nil {
		queue, err := services.NewShipmentQueue(services.ShipmentQueueDeps{
			Publisher:      options.publisher,
			Workers:        cfg.Notifications.Workers,
			QueueSize:      cfg.Notifications.QueueSize,
			MaxAttempts:    cfg.Notifications.MaxAttempts,
			InitialBackoff: cfg.Notifications.InitialBackoff,
			MaxBackoff:     cfg.Notifications.MaxBackoff,
			PublishTimeout: cfg.Notifications.PublishTimeout,
			Metrics:        metrics,
			Logger:         observability.EventLogger(options.logger),
		})
		if err != nil {
			return nil, fmt.Errorf("build shipment queue: %w", err)
		}
		c.Notifier = queue
	}

	svc, err := buildServices(ctx, reg, cfg, options, metrics, c.Notifier)
	if err != nil {
		if c.Notifier != nil {
			_ = c.Notifier.Close(ctx)
		}
		return nil, err
	}
	c.Services = svc

	sweeper, err := jobs.NewSweepScheduler(svc.Alerts, jobs.SweepSchedulerOptions{
		Schedule: cfg.Alerts.SweepSchedule,
		Logger:   options.logger.Named("low-stock-sweep"),
	})
	if err != nil {
		if c.Notifier != nil {
			_ = c.Notifier.Close(ctx)
		}
		return nil, fmt.Errorf("build sweep scheduler: %w", err)
	}
	c.Sweeper = sweeper

	return c, nil
}

// Close stops the sweep, drains queued shipment notices and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Sweeper != nil {
		if err := c.Sweeper.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop sweep scheduler: %w", err))
		}
	}
	if c.Notifier != nil {
		if err := c.Notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain shipment notices: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, options containerOptions, metrics services.LedgerMetrics, notifier *services.ShipmentQueue) (Services, error) {
	var svc Services
	logger := observability.EventLogger(options.logger)

	alerts, err := services.NewLowStockDeduplicator(services.LowStockDeduplicatorDeps{
		Alerts:           reg.LowStockAlerts(),
		Stock:            reg.Stock(),
		Tenants:          reg.Tenants(),
		DefaultThreshold: cfg.Alerts.DefaultThreshold,
		SweepConcurrency: cfg.Alerts.SweepConcurrency,
		Metrics:          metrics,
		Clock:            options.clock,
		Logger:           logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build low stock deduplicator: %w", err)
	}
	svc.Alerts = alerts

	ledger, err := services.NewStockLedgerService(services.StockLedgerServiceDeps{
		Stock:   reg.Stock(),
		Alerts:  alerts,
		Metrics: metrics,
		Clock:   options.clock,
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock ledger service: %w", err)
	}
	svc.Ledger = ledger

	tenants, err := services.NewTenantService(services.TenantServiceDeps{
		Counters:         reg.Counters(),
		Tenants:          reg.Tenants(),
		Alerts:           alerts,
		Stock:            reg.Stock(),
		DefaultThreshold: cfg.Alerts.DefaultThreshold,
		Padding:          cfg.Ledger.OrderNumberPadding,
		Clock:            options.clock,
		Logger:           logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build tenant service: %w", err)
	}
	svc.Tenants = tenants

	allocator, err := services.NewOrderNumberAllocator(services.OrderNumberAllocatorDeps{
		Counters:     reg.Counters(),
		MaxAttempts:  cfg.Ledger.AllocatorMaxAttempts,
		InitialDelay: cfg.Ledger.AllocatorInitialDelay,
		Logger:       logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order number allocator: %w", err)
	}
	svc.Allocator = allocator

	orderDeps := services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Ledger:    ledger,
		Allocator: allocator,
		Alerts:    alerts,
		Metrics:   metrics,
		Clock:     options.clock,
		Logger:    logger,
	}
	if notifier != nil {
		orderDeps.Notifier = notifier
	}
	orders, err := services.NewOrderService(orderDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	if healthRepo := reg.Health(); healthRepo != nil {
		systemDeps := services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            options.clock,
			Build: services.BuildInfo{
				Version:     cfg.App.Version,
				CommitSHA:   cfg.App.CommitSHA,
				Environment: cfg.App.Environment,
				StartedAt:   options.startedAt,
			},
		}
		if notifier != nil {
			systemDeps.Notifier = notifier
		}
		systemSvc, err := services.NewSystemService(systemDeps)
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
