package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"octo/internal/config"
	"octo/internal/infra/crypto"
	"octo/internal/infra/db"
	httpinfra "octo/internal/infra/http"
	"octo/internal/infra/logging"
	"octo/internal/infra/metrics"
	"octo/internal/infra/notify"
	"octo/internal/infra/peer"
	"octo/internal/infra/policyopa"
	"octo/internal/infra/ratelimit"
	"octo/internal/infra/resolver"
	"octo/internal/usecase"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.FromEnv()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("octod exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	self, key, err := cfg.Identity()
	if err != nil {
		return err
	}
	if key == nil {
		logger.Warn("no signing key configured; outgoing envelopes are unsigned")
	}

	store, err := db.NewStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	repos := store.Repositories()

	collector := metrics.NewCollector(metrics.DefaultNamespace, logger)
	policy := cfg.TrustPolicy()
	transport := peer.New(cfg.PeerTimeout)

	registry := usecase.NewNodeRegistry(repos.Nodes, policy, logger)
	if cfg.FederationEnabled {
		if _, err := repos.Nodes.Upsert(ctx, self); err != nil {
			return err
		}
	}
	validator, err := usecase.NewEnvelopeValidator(policy, self.RID, key, registry, crypto.NewService(), logger, collector)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()
	}

	var admission usecase.IntakePolicy
	if cfg.IntakePolicyPath != "" {
		engine, err := policyopa.NewEngineFromPath(ctx, cfg.IntakePolicyPath)
		if err != nil {
			return err
		}
		logger.Info("intake policy loaded",
			zap.String("path", cfg.IntakePolicyPath),
			zap.String("policy_hash", engine.PolicyHash()),
		)
		admission = engine
	}
	var matcher usecase.EntityResolver
	if cfg.ResolverURL != "" {
		matcher = resolver.NewHTTPResolver(cfg.ResolverURL, cfg.PeerTimeout)
	}
	var notifier usecase.IntakeNotifier
	if redisClient != nil {
		notifier = notify.NewRedisNotifier(redisClient, cfg.IntakeNotifyChannel)
	}

	queue := usecase.NewEventQueue(self.RID, repos.Events, repos.Edges, repos.Shares, cfg.DefaultEventTTL, logger, collector)
	delivery := usecase.NewDeliveryEngine(queue, repos.Edges, repos.Nodes, transport, validator, usecase.RetryPolicy{
		MaxAttempts:  cfg.WebhookMaxAttempts,
		InitialDelay: cfg.WebhookInitialBackoff,
	}, logger, collector)
	publisher := usecase.NewPublisher(queue, delivery, logger)
	xrefs := usecase.NewCrossReferenceService(repos.XRefs, matcher, logger)
	intake := usecase.NewIntakeService(repos.Intake, cfg.CommonsRID, admission, xrefs, notifier, logger, collector)
	ledger := usecase.NewShareLedger(repos.Shares, queue, delivery, registry, logger)
	handshake := usecase.NewHandshaker(self, registry, validator, transport, logger)
	peerService := usecase.NewPeerService(validator, queue, intake, repos.Edges, repos.Nodes, logger)

	deps := httpinfra.ServerDeps{
		Self:      self,
		DBMode:    store.Mode,
		Handshake: handshake,
		Publisher: publisher,
		Edges:     usecase.NewEdgeRegistry(repos.Edges, repos.Nodes, logger),
		Nodes:     registry,
		Ledger:    ledger,
		Intake:    intake,
		XRefs:     xrefs,
		Metrics:   collector,
		Logger:    logger,
	}
	if cfg.FederationEnabled {
		deps.Peer = peerService
	}
	if redisClient != nil {
		limiter := ratelimit.NewRedisLimiter(redisClient, nil)
		if err := limiter.Ping(ctx); err != nil {
			if cfg.RateLimitFailClosed {
				return fmt.Errorf("redis rate limiter: %w", err)
			}
			logger.Warn("redis unreachable at startup, rate limiting fails open", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		deps.RateLimiter = limiter
	} else {
		deps.RateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{MaxKeys: cfg.RateLimitMaxKeys})
	}
	srv := httpinfra.NewServer(cfg, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		queue.RunCompaction(gctx, cfg.CompactInterval)
		return nil
	})
	if cfg.FederationEnabled {
		poller := usecase.NewPoller(self.RID, repos.Edges, repos.Nodes, transport, validator, intake, cfg.PollInterval, cfg.PollPageSize, logger)
		g.Go(func() error { return poller.Run(gctx) })
	}

	logger.Info("octod started",
		zap.String("node_rid", self.RID),
		zap.String("db_mode", store.Mode),
		zap.Bool("federation", cfg.FederationEnabled),
		zap.Bool("strict", policy.Strict()),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("octod stopped")
	return nil
}
