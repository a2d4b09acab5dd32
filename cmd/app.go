package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/activation"
	"github.com/frahmantamala/enrollment-payments/internal/audit"
	"github.com/frahmantamala/enrollment-payments/internal/core/events"
	"github.com/frahmantamala/enrollment-payments/internal/core/lock"
	"github.com/frahmantamala/enrollment-payments/internal/core/money"
	"github.com/frahmantamala/enrollment-payments/internal/enrollment"
	enrollmentpg "github.com/frahmantamala/enrollment-payments/internal/enrollment/postgres"
	"github.com/frahmantamala/enrollment-payments/internal/notification"
	"github.com/frahmantamala/enrollment-payments/internal/payment"
	paymentpg "github.com/frahmantamala/enrollment-payments/internal/payment/postgres"
	"github.com/frahmantamala/enrollment-payments/internal/paymentgateway"
	"github.com/frahmantamala/enrollment-payments/internal/webhook"
	webhookpg "github.com/frahmantamala/enrollment-payments/internal/webhook/postgres"
)

// App holds the wired core shared by the server, the workers and the maintenance commands.
type App struct {
	Config     *internal.Config
	Logger     *slog.Logger
	SQL        *sql.DB
	DB         *sqlx.DB
	Gorm       *gorm.DB
	Redis      *redis.Client
	Bus        *events.EventBus
	Codec      money.Codec
	Gateways   *paymentgateway.Registry
	Audit      *audit.Recorder
	Payments   *payment.Service
	Enrollment *enrollment.Service
	Dispatcher *webhook.Dispatcher
	stream     *notification.Stream
}

func buildApp(cfg *internal.Config, lg *slog.Logger) (*App, error) {
	sqlDB, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}

	app := &App{
		Config: cfg,
		Logger: lg,
		SQL:    sqlDB,
		DB:     sqlx.NewDb(sqlDB, "pgx"),
		Gorm:   gormDB,
		Bus:    events.NewEventBus(lg),
		Codec:  money.NewCodec(cfg.Payment.MinorExponent),
	}

	var locker lock.Locker = lock.NewMemory()
	if cfg.Redis.Enabled {
		app.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		locker = lock.NewRedis(app.Redis, "enrollment-payments:")
	}

	app.Gateways = buildGateways(cfg.Payment, lg)
	app.Audit = audit.NewRecorder(gormDB, lg)

	enrollmentRepo := enrollmentpg.NewEnrollmentRepository(gormDB)
	engine := activation.NewEngine(enrollmentRepo, app.Audit, lg)
	app.Enrollment = enrollment.NewService(gormDB, enrollmentRepo, app.Audit, app.Codec, lg)

	paymentRepo := paymentpg.NewPaymentRepository(gormDB)
	ledger := payment.NewLedger(gormDB, paymentRepo, engine, app.Audit, app.Bus, lg)
	app.Payments = payment.NewService(paymentRepo, ledger, engine, app.Gateways, app.Audit, app.Codec, payment.ServiceConfig{
		Currency:      cfg.Payment.Currency,
		CallbackURL:   cfg.Payment.CallbackURL,
		VerifyTimeout: cfg.Payment.VerifyTimeout,
		Retry: paymentgateway.RetryPolicy{
			MaxAttempts:    cfg.Payment.Retry.MaxAttempts,
			InitialBackoff: cfg.Payment.Retry.InitialBackoff,
			MaxBackoff:     cfg.Payment.Retry.MaxBackoff,
		},
	}, lg)

	app.Dispatcher = webhook.NewDispatcher(
		webhookpg.NewEventRepository(gormDB),
		app.Gateways,
		app.Payments,
		ledger,
		app.Audit,
		locker,
		cfg.Webhook.ProcessingLease,
		lg,
	)

	app.registerNotifications()
	return app, nil
}

func buildGateways(cfg internal.PaymentConfig, lg *slog.Logger) *paymentgateway.Registry {
	var gateways []paymentgateway.Gateway
	if cfg.Paystack.Enabled {
		gateways = append(gateways, paymentgateway.NewPaystack(paymentgateway.PaystackConfig{
			BaseURL:       cfg.Paystack.BaseURL,
			SecretKey:     cfg.Paystack.SecretKey,
			WebhookSecret: cfg.Paystack.WebhookSecret,
			Timeout:       cfg.VerifyTimeout,
		}, lg))
	}
	if cfg.Razorpay.Enabled {
		gateways = append(gateways, paymentgateway.NewRazorpay(paymentgateway.RazorpayConfig{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			Timeout:       cfg.VerifyTimeout,
		}, lg))
	}
	return paymentgateway.NewRegistry(cfg.DefaultGateway, gateways...)
}

// registerNotifications subscribes mail and stream hooks for the channels that are switched on.
func (a *App) registerNotifications() {
	var mailer notification.Mailer
	if a.Config.Notification.SMTP.Enabled {
		mailer = notification.NewEmailSender(a.Config.Notification.SMTP, a.Logger)
	}

	var streamer notification.Streamer
	if a.Config.Notification.Kafka.Enabled {
		a.stream = notification.NewStream(notification.NewKafkaWriter(a.Config.Notification.Kafka), a.Config.Notification.Kafka, a.Logger)
		streamer = a.stream
	}

	if mailer == nil && streamer == nil {
		a.Logger.Info("notifications disabled")
		return
	}
	notification.NewHooks(mailer, streamer, a.Codec, a.Logger).Register(a.Bus)
}

// Close waits for in-flight event handlers before releasing connections.
func (a *App) Close() {
	a.Bus.Wait()
	if a.stream != nil {
		if err := a.stream.Close(); err != nil {
			a.Logger.Error("kafka writer close error", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Error("redis close error", "error", err)
		}
	}
	if err := a.SQL.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}
}

func (a *App) redisPing(ctx context.Context) error {
	return a.Redis.Ping(ctx).Err()
}

// initDB opens the pgx pool shared by gorm and sqlx.
func initDB(cfg internal.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
