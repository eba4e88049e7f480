package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/qkart/internal/cache"
	"github.com/xenking/qkart/internal/domain/checkout"
	"github.com/xenking/qkart/internal/domain/coupon"
	"github.com/xenking/qkart/internal/domain/loyalty"
	"github.com/xenking/qkart/internal/domain/order"
	"github.com/xenking/qkart/internal/domain/payment"
	"github.com/xenking/qkart/internal/gateway/stripe"
	"github.com/xenking/qkart/internal/handler"
	"github.com/xenking/qkart/internal/notify"
	"github.com/xenking/qkart/internal/repository"
	"github.com/xenking/qkart/pkg/health"
	"github.com/xenking/qkart/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the mail worker,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Optional Redis for webhook de-duplication.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = cache.NewClient(ctx, cfg.RedisURL); err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
	}

	// Health check service.
	healthSvc := health.New(lg.Named("health"))
	healthSvc.Add(health.Check{Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second, Fn: health.PingCheck(pool)})
	if rdb != nil {
		// De-duplication and rate limiting fail open without Redis.
		healthSvc.Add(health.Check{Name: "redis", Kind: health.Readiness, Timeout: 2 * time.Second, Optional: true,
			Fn: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	healthSvc.Add(health.Check{Name: "goroutines", Kind: health.Liveness, Fn: health.GoroutineCountCheck(10000)})
	healthSvc.Add(health.Check{Name: "gc-pause", Kind: health.Liveness, Fn: health.GCPauseCheck(time.Second)})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	tx := repository.NewTransactor(pool)
	customerRepo := repository.NewCustomerRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	productRepo := repository.NewProductRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	loyaltyRepo := repository.NewLoyaltyRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Order confirmation mail.
	var (
		notifier checkout.Notifier = notify.Noop{}
		mailer   *notify.Mailer
	)
	if cfg.Mail.Host != "" {
		mailer, err = notify.NewMailer(notify.Config{
			Host:      cfg.Mail.Host,
			Port:      cfg.Mail.Port,
			Username:  cfg.Mail.Username,
			Password:  cfg.Mail.Password,
			From:      cfg.Mail.From,
			QueueSize: cfg.Mail.QueueSize,
		})
		if err != nil {
			return errors.Wrap(err, "create mailer")
		}
		notifier = mailer
	} else {
		lg.Info("Mail host not configured, order confirmations disabled")
	}

	// Domain services.
	couponValidator := coupon.NewRepoValidator(couponRepo)
	couponService := coupon.NewService(couponRepo)
	ledger := loyalty.NewLedger(loyaltyRepo, tx)
	orderService := order.NewService(orderRepo, tx)

	checkoutService, err := checkout.NewService(checkout.Deps{
		Tx:        tx,
		Customers: customerRepo,
		Carts:     cartRepo,
		Products:  productRepo,
		Orders:    orderRepo,
		Coupons:   couponValidator,
		Loyalty:   ledger,
		Notifier:  notifier,
	}, checkout.Options{
		DeliveryDays:   cfg.Checkout.DeliveryDays,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}

	paymentOpts := payment.Options{Currency: cfg.Stripe.Currency}
	if rdb != nil {
		paymentOpts.Deduper = cache.NewEventDeduper(rdb, cfg.Stripe.EventTTL)
	} else {
		lg.Warn("Redis not configured, webhook events are not de-duplicated")
	}
	paymentService := payment.NewService(
		stripe.New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret),
		paymentRepo,
		orderService,
		tx,
		paymentOpts,
	)

	// HTTP handlers.
	h := handler.NewHandler(handler.Services{
		Checkout:  checkoutService,
		Orders:    orderService,
		Coupons:   couponService,
		Validator: couponValidator,
		Loyalty:   ledger,
		Payments:  paymentService,
	}, handler.NewAuthenticator([]byte(cfg.JWT.Secret), apikeyRepo, []byte(cfg.APIKeyPepper)))

	router := h.Routes(
		httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
		httpmiddleware.Labeler(httpmiddleware.ChiRoute),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	var limiter httpmiddleware.Limiter
	if rdb != nil {
		limiter = cache.NewRateLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		mem := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go mem.Run(ctx)
		limiter = mem
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:          cfg.CORS.Origins,
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(limiter, httpmiddleware.ClientIP),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("qkart-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	if mailer != nil {
		g.Go(func() error {
			return mailer.Run(gctx)
		})
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
