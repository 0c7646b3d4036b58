package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/paperleaf/bookstore/internal/callback"
	"github.com/paperleaf/bookstore/internal/domain/coupon"
	"github.com/paperleaf/bookstore/internal/domain/order"
	"github.com/paperleaf/bookstore/internal/notify"
	"github.com/paperleaf/bookstore/internal/repository"
	"github.com/paperleaf/bookstore/pkg/health"
	"github.com/paperleaf/bookstore/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the operational HTTP listener, and
// handles graceful shutdown. It is the single wiring point for the service.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("ops_addr", cfg.OpsAddr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	bookRepo := repository.NewBookRepository(pool)
	courierRepo := repository.NewCourierRepository(pool)
	addressRepo := repository.NewAddressRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	gatewayRepo := repository.NewGatewayRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)

	// Event publisher: RabbitMQ when configured, otherwise silent.
	var events order.EventPublisher = notify.Noop{}
	if cfg.AMQP.URL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return errors.Wrap(err, "create event publisher")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				lg.Warn("Event publisher close failed", zap.Error(err))
			}
		}()
		events = publisher
	}

	// Checkout engine.
	orderService, err := order.NewService(order.Config{
		AdminEmail:   cfg.Store.AdminEmail,
		StoreBaseURL: cfg.Store.StoreBaseURL,
		Currency:     cfg.Store.Currency,
	}, order.Deps{
		Books:          bookRepo,
		Couriers:       courierRepo,
		Addresses:      addressRepo,
		Coupons:        couponRepo,
		Gateways:       gatewayRepo,
		Orders:         orderRepo,
		Evaluator:      coupon.NewEvaluator(orderRepo),
		Tx:             repository.NewTxManager(pool),
		Events:         events,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// Payment capture consumer: places orders from gateway notifications.
	if cfg.AMQP.URL != "" {
		consumer, err := callback.NewConsumer(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.CallbackQueue, orderService)
		if err != nil {
			return errors.Wrap(err, "create payment capture consumer")
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				lg.Warn("Consumer close failed", zap.Error(err))
			}
		}()
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("Payment capture consumer stopped", zap.Error(err))
			}
		}()
	}

	// Operational listener: health probes only.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.OpsAddr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.OpsAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
