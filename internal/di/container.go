package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/productshop/api/internal/platform/config"
	"github.com/productshop/api/internal/platform/metrics"
	"github.com/productshop/api/internal/platform/observability"
	"github.com/productshop/api/internal/repositories"
	"github.com/productshop/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout services.CheckoutService
	Orders   services.OrderService
	System   services.SystemService
}

// Container wires repositories, services and messaging for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Metrics      *metrics.Registry
	Events       services.OrderEventPublisher

	closers []func(context.Context) error
}

type containerOptions struct {
	logger  *zap.Logger
	clock   func() time.Time
	build   services.BuildInfo
	events  services.OrderEventPublisher
	metrics *metrics.Registry
	checks  []repositories.DependencyCheck
}

// Option customises container construction.
type Option func(*containerOptions)

func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithEventPublisher overrides the publisher selected from configuration.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.events = publisher
	}
}

func WithMetrics(registry *metrics.Registry) Option {
	return func(o *containerOptions) {
		o.metrics = registry
	}
}

// WithHealthChecks adds readiness probes next to the registry ping.
func WithHealthChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *containerOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// NewContainer constructs the runtime dependencies on top of an opened registry. Tests
// supply the memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{
		Config:       cfg,
		Repositories: reg,
		Metrics:      o.metrics,
	}

	c.Events = o.events
	if c.Events == nil {
		publisher, err := NewEventPublisher(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("build event publisher: %w", err)
		}
		c.Events = publisher
	}
	if closer, ok := c.Events.(io.Closer); ok {
		c.closers = append(c.closers, func(context.Context) error { return closer.Close() })
	}

	svc, err := buildServices(cfg, reg, c.Events, c.Metrics, o)
	if err != nil {
		_ = c.closeAll(ctx)
		return nil, err
	}
	c.Services = svc
	return c, nil
}

// Close releases publishers before the registry so in-flight events can flush.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	errs := []error{c.closeAll(ctx)}
	if c.Repositories != nil {
		errs = append(errs, c.Repositories.Close(ctx))
	}
	return errors.Join(errs...)
}

func (c *Container) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildServices(cfg config.Config, reg repositories.Registry, events services.OrderEventPublisher, registry *metrics.Registry, o containerOptions) (Services, error) {
	var orderMetrics services.OrderMetrics
	if registry != nil {
		orderMetrics = registry
	}
	logger := observability.ServiceLogger(o.logger)

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Catalog:    reg.Catalog(),
		Inventory:  reg.Inventory(),
		Orders:     reg.Orders(),
		Members:    reg.Members(),
		UnitOfWork: reg,
		Shipping: services.ShippingPolicy{
			FreeThreshold: cfg.Orders.FreeShippingThreshold,
			FlatFee:       cfg.Orders.ShippingFee,
		},
		Limits: services.PricingLimits{
			MaxLines:    cfg.Orders.MaxLines,
			MaxQuantity: cfg.Orders.MaxQuantity,
		},
		Clock:   o.clock,
		Events:  events,
		Metrics: orderMetrics,
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:       reg.Orders(),
		Inventory:    reg.Inventory(),
		UnitOfWork:   reg,
		ReturnWindow: cfg.Orders.ReturnWindow,
		Clock:        o.clock,
		Events:       events,
		Metrics:      orderMetrics,
		Logger:       logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	storageName := cfg.Storage.Backend
	if storageName == "" {
		storageName = "storage"
	}
	checks := append([]repositories.DependencyCheck{{
		Name:  storageName,
		Check: reg.Ping,
	}}, o.checks...)
	healthRepo, err := repositories.NewDependencyHealthRepository(checks,
		repositories.WithDependencyClock(o.clock),
		repositories.WithDependencyTimeout(probeTimeout),
	)
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            o.clock,
		Build:            o.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return Services{Checkout: checkout, Orders: orders, System: system}, nil
}
