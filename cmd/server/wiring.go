package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	expiryhandler "trainflow/internal/expiry/handler"
	"trainflow/internal/expiry/lock"
	expirymetrics "trainflow/internal/expiry/metrics"
	"trainflow/internal/expiry/scan"
	"trainflow/internal/expiry/scheduler"
	jwttoken "trainflow/internal/jwt_token"
	notificationhandler "trainflow/internal/notification/handler"
	notificationservice "trainflow/internal/notification/service"
	notificationstore "trainflow/internal/notification/store"
	"trainflow/internal/platform/config"
	"trainflow/internal/platform/kafka"
	"trainflow/internal/platform/metrics"
	"trainflow/internal/platform/postgres"
	"trainflow/internal/platform/postgres/migrations"
	redisclient "trainflow/internal/platform/redis"
	renewalhandler "trainflow/internal/renewal/handler"
	renewalmetrics "trainflow/internal/renewal/metrics"
	renewalservice "trainflow/internal/renewal/service"
	renewalstore "trainflow/internal/renewal/store"
	training "trainflow/internal/training/models"
	trainingstore "trainflow/internal/training/store"
	audit "trainflow/pkg/platform/audit"
	"trainflow/pkg/platform/audit/publisher"
	kafkaaudit "trainflow/pkg/platform/audit/store/kafka"
	memoryaudit "trainflow/pkg/platform/audit/store/memory"
	postgresaudit "trainflow/pkg/platform/audit/store/postgres"
	"trainflow/pkg/platform/circuit"
	authmw "trainflow/pkg/platform/middleware/auth"
	"trainflow/pkg/platform/middleware/logging"
	"trainflow/pkg/platform/middleware/metadata"
	"trainflow/pkg/platform/middleware/requestid"
	"trainflow/pkg/platform/middleware/requesttime"
	"trainflow/pkg/platform/tx"
)

// trainingStore is everything the process needs from certification, course and
// user persistence.
type trainingStore interface {
	renewalservice.CertificationStore
	renewalservice.CourseStore
	scan.CertificationStore
	scan.UserDirectory
	trainingstore.Writer
}

type notificationStore interface {
	renewalservice.Notifier
	scan.NotificationStore
	notificationservice.Store
}

type stores struct {
	training      trainingStore
	renewals      renewalservice.RequestStore
	notifications notificationStore
	tx            tx.Runner
	audit         audit.Store
	db            *sql.DB
}

type app struct {
	router    http.Handler
	scheduler *scheduler.Scheduler
	closers   []func()
	// checks are probed by /healthz, keyed by dependency name.
	checks map[string]func(context.Context) error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{checks: map[string]func(context.Context) error{}}
	reg := metrics.NewRegistry()

	st, err := buildStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if st.db != nil {
		a.closers = append(a.closers, func() { _ = st.db.Close() })
		a.checks["postgres"] = st.db.PingContext
	}

	if cfg.Server.SeedDemoData {
		if err := seedDemo(ctx, cfg, st.training, log); err != nil {
			a.close()
			return nil, err
		}
	}

	auditSink, err := buildAuditPublisher(ctx, cfg, st, reg, log, a)
	if err != nil {
		a.close()
		return nil, err
	}

	renewals, err := renewalservice.New(st.renewals, st.training, st.training, st.training, st.notifications,
		renewalservice.WithTxRunner(st.tx),
		renewalservice.WithAuditSink(auditSink),
		renewalservice.WithLogger(log),
		renewalservice.WithMetrics(renewalmetrics.New(reg)),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	job, err := buildScanJob(ctx, cfg, st, reg, log, a)
	if err != nil {
		a.close()
		return nil, err
	}
	if cfg.Scan.Enabled {
		a.scheduler = scheduler.New(job, scheduler.Config{
			InitialDelay: cfg.Scan.InitialDelay,
			Interval:     cfg.Scan.Interval,
		}, log)
	}

	validator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer))

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(logging.Recovery(log))
	r.Use(logging.Logger(log))

	r.Get("/healthz", healthHandler(a.checks, log))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(validator, log))
		renewalhandler.New(renewals, log).Register(r)
		notificationhandler.New(notificationservice.New(st.notifications, notificationservice.WithLogger(log)), log).Register(r)
		expiryhandler.New(job, log).Register(r)
	})
	a.router = r
	return a, nil
}

func buildStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	if cfg.Server.Storage != config.StoragePostgres {
		log.Info("using in-memory storage")
		return &stores{
			training:      trainingstore.NewInMemory(),
			renewals:      renewalstore.NewInMemory(),
			notifications: notificationstore.NewInMemory(),
			tx:            tx.NewLocalRunner(),
			audit:         memoryaudit.NewInMemoryStore(),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.ApplyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("using postgres storage")
	return &stores{
		training:      trainingstore.NewPostgres(db),
		renewals:      renewalstore.NewPostgres(db),
		notifications: notificationstore.NewPostgres(db),
		tx:            tx.NewSQLRunner(db, cfg.Database.TxTimeout),
		audit:         postgresaudit.New(db),
		db:            db,
	}, nil
}

// buildAuditPublisher sends workflow logs to Kafka when brokers are configured,
// falling back to the storage backend while the broker is unavailable.
func buildAuditPublisher(ctx context.Context, cfg config.Config, st *stores, reg prometheus.Registerer, log *slog.Logger, a *app) (*publisher.Publisher, error) {
	opts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithMetrics(metrics.NewAudit(reg)),
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return publisher.New(st.audit, opts...), nil
	}

	kcfg := kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Kafka.AuditTopic,
		ProduceTimeout: cfg.Kafka.ProduceTimeout,
	}
	client, err := kafka.NewProducer(ctx, kcfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	if err := kafka.EnsureTopic(ctx, client, kcfg); err != nil {
		return nil, err
	}

	opts = append(opts,
		publisher.WithFallback(st.audit),
		publisher.WithBreaker(circuit.New("audit-kafka")),
	)
	return publisher.New(kafkaaudit.New(timeoutProducer{client, cfg.Kafka.ProduceTimeout}, cfg.Kafka.AuditTopic), opts...), nil
}

// timeoutProducer bounds each synchronous produce.
type timeoutProducer struct {
	client  *kgo.Client
	timeout time.Duration
}

func (p timeoutProducer) ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.client.ProduceSync(ctx, records...)
}

func buildScanJob(ctx context.Context, cfg config.Config, st *stores, reg prometheus.Registerer, log *slog.Logger, a *app) (*scheduler.Job, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	m := expirymetrics.New(reg)

	scanCfg := scan.DefaultConfig()
	scanCfg.Thresholds = cfg.Scan.Thresholds
	scanCfg.Location = loc
	scanCfg.ItemTimeout = cfg.Scan.ItemTimeout
	if cfg.Scan.EscalateWithin > 0 {
		scanCfg.EscalationWindow = time.Duration(cfg.Scan.EscalateWithin) * 24 * time.Hour
	}
	scanner, err := scan.New(st.training, st.training, st.training, st.notifications,
		scan.WithConfig(scanCfg),
		scan.WithLogger(log),
		scan.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	lockOpts := []lock.Option{lock.WithLogger(log)}
	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		a.closers = append(a.closers, func() { _ = rc.Close() })
		a.checks["redis"] = rc.Health
		lockOpts = append(lockOpts, lock.WithRedis(rc, lock.DefaultKey, cfg.Scan.LeaseTTL))
		log.Info("expiry scan lease enabled", "ttl", cfg.Scan.LeaseTTL)
	}
	return scheduler.NewJob(scanner, lock.New(lockOpts...), m, log), nil
}

func seedDemo(ctx context.Context, cfg config.Config, w trainingstore.Writer, log *slog.Logger) error {
	if cfg.Server.Storage == config.StoragePostgres {
		log.Warn("SEED_DEMO_DATA is ignored with postgres storage")
		return nil
	}
	demo, err := trainingstore.SeedDemo(ctx, w, time.Now())
	if err != nil {
		return fmt.Errorf("seed demo data: %w", err)
	}

	// Development tokens so the demo crew can call the API right away.
	issuer := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer)
	crew := append([]training.User{demo.Employee, demo.Manager, demo.Officer}, demo.Foremen...)
	for _, u := range crew {
		token, err := issuer.GenerateAccessToken(u.ID, u.TenantID, string(u.Role), 12*time.Hour)
		if err != nil {
			return fmt.Errorf("issue demo token: %w", err)
		}
		log.Info("demo user", "name", u.DisplayName, "role", u.Role, "token", token)
	}
	log.Info("demo data seeded",
		"tenant_id", demo.TenantID,
		"certifications", len(demo.Certifications),
	)
	return nil
}

func healthHandler(checks map[string]func(context.Context) error, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
				http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
