package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optout/internal/audit"
	"optout/internal/captcha"
	consenthandler "optout/internal/consent/handler"
	consentmetrics "optout/internal/consent/metrics"
	consentservice "optout/internal/consent/service"
	consentstore "optout/internal/consent/store"
	"optout/internal/jwttoken"
	"optout/internal/lookup"
	"optout/internal/notification"
	"optout/internal/platform/config"
	"optout/internal/platform/database"
	"optout/internal/platform/health"
	"optout/internal/platform/kafka"
	"optout/internal/platform/kafka/producer"
	"optout/internal/platform/redis"
	"optout/internal/verification/codes"
	"optout/internal/verification/gate"
	verificationhandler "optout/internal/verification/handler"
	verificationmetrics "optout/internal/verification/metrics"
	"optout/internal/verification/service"
	verificationstore "optout/internal/verification/store"
	"optout/pkg/platform/middleware/auth"
	"optout/pkg/platform/middleware/metadata"
	"optout/pkg/platform/middleware/request"
	"optout/pkg/platform/middleware/requesttime"
	"optout/pkg/platform/tracer"
)

// infra holds optional backing services. Each is nil when unconfigured, in which case the
// in-memory or log-based fallback is used.
type infra struct {
	db       *database.Pool
	redis    *redis.Client
	producer *producer.Producer
}

func buildInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}
	pool, err := database.Open(ctx, database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	in.db = pool
	if pool == nil {
		log.Warn("DATABASE_URL not set; using in-memory stores")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		in.Close(log)
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	in.redis = rc
	if rc == nil {
		log.Warn("REDIS_URL not set; captcha replay guard is process-local")
	}

	if cfg.Kafka.Brokers != "" {
		prod, err := producer.New(producer.Config{
			Brokers:         cfg.Kafka.Brokers,
			Acks:            cfg.Kafka.Acks,
			Retries:         cfg.Kafka.Retries,
			DeliveryTimeout: cfg.Kafka.DeliveryTimeout,
		}, log)
		if err != nil {
			in.Close(log)
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		in.producer = prod
	}
	return in, nil
}

func (in *infra) RecordStats() {
	if in.db != nil {
		in.db.RecordStats()
	}
	in.redis.RecordPoolStats()
}

func (in *infra) Close(log *slog.Logger) {
	if in.producer != nil {
		if err := in.producer.Close(); err != nil {
			log.Error("close kafka producer", "error", err)
		}
	}
	if err := in.redis.Close(); err != nil {
		log.Error("close redis", "error", err)
	}
	if in.db != nil {
		if err := in.db.Close(); err != nil {
			log.Error("close database", "error", err)
		}
	}
}

type app struct {
	jwt          *jwttoken.JWTService
	lookup       *lookup.Client
	auditor      *audit.Publisher
	verification *service.Service
	consent      *consentservice.Service
}

func buildApp(cfg config.Server, in *infra, log *slog.Logger) (*app, error) {
	policy := cfg.Verification
	tr := tracer.NewOTel()

	var auditStore audit.Store = audit.NewInMemoryStore()
	if in.producer != nil {
		auditStore = audit.NewKafkaStore(in.producer, cfg.Kafka.AuditTopic)
	}
	auditor := audit.NewPublisher(auditStore, audit.WithAsyncBuffer(1024), audit.WithPublisherLogger(log))

	lookupClient := lookup.New(lookup.Config{
		BaseURL:          cfg.Lookup.BaseURL,
		APIKey:           cfg.Lookup.APIKey,
		Timeout:          cfg.Lookup.Timeout,
		FailureThreshold: cfg.Lookup.FailureThreshold,
		Cooldown:         cfg.Lookup.Cooldown,
	}, lookup.WithTracer(tr), lookup.WithLogger(log))

	trustGate := gate.New(buildCaptcha(cfg, in, log), policy.WorkflowRoles)

	var (
		patients  service.Store
		decisions consentservice.DecisionStore
		patientDB consentservice.PatientStore
		txRunner  consentservice.TxRunner
	)
	if in.db != nil {
		pg := verificationstore.NewPostgres(in.db.DB())
		patients, patientDB = pg, pg
		decisions = consentstore.NewPostgres(in.db.DB())
		txRunner = consentservice.NewSQLTx(in.db.DB())
	} else {
		mem := verificationstore.NewInMemory()
		patients, patientDB = mem, mem
		decisions = consentstore.NewInMemory()
		txRunner = consentservice.NewShardedTx()
	}

	lifecycle := codes.NewLifecycle(
		codes.DigitGenerator{Length: policy.CodeLength},
		codes.BcryptHasher{Cost: policy.BcryptCost},
		policy.CodeTTL,
	)
	verification, err := service.New(patients, lookupClient, buildNotifier(cfg, in, tr, log), trustGate, lifecycle,
		service.Config{
			MaxRetries:        policy.MaxRetries,
			MaxVerifyAttempts: policy.MaxVerifyAttempts,
			CodeLength:        policy.CodeLength,
			WorkflowRoles:     policy.WorkflowRoles,
			AdminRoles:        policy.AdminRoles,
		},
		service.WithLogger(log),
		service.WithMetrics(verificationmetrics.New()),
		service.WithTracer(tr),
		service.WithAuditPublisher(auditor),
	)
	if err != nil {
		auditor.Close()
		return nil, fmt.Errorf("build verification service: %w", err)
	}

	consent, err := consentservice.New(patientDB, decisions, txRunner, trustGate, lifecycle,
		consentservice.Config{DecisionWindow: policy.DecisionWindow, WorkflowRoles: policy.WorkflowRoles},
		consentservice.WithLogger(log),
		consentservice.WithMetrics(consentmetrics.New()),
		consentservice.WithTracer(tr),
		consentservice.WithAuditPublisher(auditor),
	)
	if err != nil {
		auditor.Close()
		return nil, fmt.Errorf("build consent service: %w", err)
	}

	return &app{
		jwt:          jwttoken.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.TokenTTL),
		lookup:       lookupClient,
		auditor:      auditor,
		verification: verification,
		consent:      consent,
	}, nil
}

func buildCaptcha(cfg config.Server, in *infra, log *slog.Logger) *captcha.Validator {
	var verifier captcha.Verifier
	if cfg.Captcha.Secret == "" {
		log.Warn("CAPTCHA_SECRET not set; accepting the dev captcha token only")
		verifier = captcha.StaticVerifier{Token: cfg.Captcha.DevToken}
	} else {
		verifier = captcha.NewSiteVerifyClient(cfg.Captcha.VerifyURL, cfg.Captcha.Secret, cfg.Captcha.Timeout, nil)
	}

	var replay captcha.ReplayGuard
	if in.redis != nil {
		replay = captcha.NewRedisReplayGuard(in.redis.Client, cfg.Captcha.ReplayTTL)
	} else {
		replay = captcha.NewMemoryReplayGuard(cfg.Captcha.ReplayTTL, time.Now)
	}
	return captcha.NewValidator(verifier, replay, log)
}

func buildNotifier(cfg config.Server, in *infra, tr tracer.Tracer, log *slog.Logger) *notification.Router {
	opts := []notification.RouterOption{notification.WithTracer(tr), notification.WithLogger(log)}
	n := cfg.Notification
	switch {
	case n.Transport == "kafka" && in.producer != nil:
		opts = append(opts, notification.WithAllChannels(notification.NewKafkaSender(in.producer, cfg.Kafka.NotificationTopic)))
	case n.Transport == "direct":
		if n.Twilio.AccountSID != "" {
			opts = append(opts, notification.WithSender(notification.ChannelSMS,
				notification.NewTwilioSMSSender(n.Twilio.AccountSID, n.Twilio.AuthToken, n.Twilio.FromNumber)))
		}
		if n.SMTP.Host != "" {
			opts = append(opts, notification.WithSender(notification.ChannelEmail,
				notification.NewSMTPEmailSender(n.SMTP.Host, n.SMTP.Port, n.SMTP.Username, n.SMTP.Password, n.SMTP.From)))
		}
	default:
		opts = append(opts, notification.WithAllChannels(notification.NewLogSender(log, cfg.Environment == "dev")))
	}
	return notification.NewRouter(opts...)
}

func buildRouter(cfg config.Server, in *infra, a *app, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(log))
	r.Use(metadata.NewMiddleware(metadata.Config{TrustedProxies: metadata.ParseTrustedProxies(cfg.TrustedProxies)}).Handler)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(log))
	r.Use(request.Latency(request.NewMetrics()))

	h := health.New(cfg.Environment)
	h.RegisterCheck("patient_registry", a.lookup.Health)
	if in.db != nil {
		h.RegisterCheck("database", in.db.Health)
	}
	if in.redis != nil {
		h.RegisterCheck("redis", in.redis.Health)
	}
	if in.producer != nil {
		h.RegisterCheck("kafka", kafka.NewHealthChecker(cfg.Kafka.Brokers).Check)
	}
	h.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	optionalStaff := auth.OptionalStaff(a.jwt, log)
	requireStaff := auth.RequireStaff(a.jwt, log)
	r.Group(func(r chi.Router) {
		r.Use(request.ContentTypeJSON)
		r.Use(request.BodyLimit(64 << 10))
		verificationhandler.New(a.verification, log).Register(r, optionalStaff, requireStaff)
		consenthandler.New(a.consent, log).Register(r, optionalStaff, requireStaff)
	})
	return r
}
