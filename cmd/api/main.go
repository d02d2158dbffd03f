package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"univote/config"
	"univote/internal/handler"
	"univote/internal/mail"
	"univote/internal/otp"
	"univote/internal/redis"
	"univote/internal/repository"
	"univote/internal/server"
	"univote/internal/services"
	"univote/internal/storage"
	"univote/internal/websocket"
	"univote/pkg/database"
	"univote/pkg/events"
	"univote/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppEnv)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Logger.Fatal("univote stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	checks := map[string]handler.HealthCheck{}

	// Storage
	var repos *repository.Repositories
	switch cfg.StorageMode {
	case config.StorageMemory:
		l.Infof("Using in-memory storage, data is lost on restart")
		repos = repository.NewMemoryRepositories()
	default:
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, "", l); err != nil {
			return err
		}
		repos = repository.NewPostgresRepositories(pool, cfg.DBTimeout)
		checks["database"] = func(ctx context.Context) error { return database.HealthCheck(ctx, pool) }
		l.Infof("Connected to postgres at %s:%s", cfg.DBHost, cfg.DBPort)
	}

	// Redis backs the OTP store, the broker, the caches and the rate limiter.
	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = redis.Initialize(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		if err := redis.Ping(ctx, redisClient); err != nil {
			return err
		}
		checks["redis"] = func(ctx context.Context) error { return redis.Ping(ctx, redisClient) }
	}

	var (
		sessionCache services.SessionCache
		pollCache    services.PollCache
		tallyCache   services.TallyCache
		limiter      *redis.RateLimiter
	)
	if redisClient != nil {
		cache := redis.NewCacheStore(redisClient, redis.DefaultCacheConfig())
		sessionCache, pollCache, tallyCache = cache, cache, cache
		limiter = redis.NewRateLimiter(redisClient, redis.DefaultRateLimitConfig())
	}

	// One-time codes
	var sender mail.Sender = mail.NewLogSender(l)
	if cfg.MailDriver == config.MailResend {
		sender = mail.NewResendSender(mail.ResendConfig{
			APIKey:  cfg.ResendAPIKey,
			From:    cfg.MailFrom,
			URL:     cfg.ResendURL,
			Timeout: 10 * time.Second,
		})
	}
	var otpStore otp.Store = otp.NewMemoryStore()
	if cfg.OTPBackend == config.BackendRedis {
		otpStore = otp.NewRedisStore(redisClient).WithExpiryGrace(cfg.OTPSweepPeriod)
	}
	otpSvc := otp.NewService(otpStore, sender, otp.Config{TTL: cfg.OTPTTL, Cooldown: cfg.OTPCooldown}, l)

	// Result snapshots
	var snapshots services.SnapshotStore
	if cfg.SnapshotsEnabled() {
		s3Client, err := storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PresignTTL: cfg.S3PresignTTL,
		})
		if err != nil {
			return err
		}
		snapshots = s3Client
	}

	// Events
	var broker events.Broker
	switch cfg.BrokerBackend {
	case config.BackendRedis:
		broker = events.NewRedisBroker(redisClient, l)
	case config.BackendMemory:
		broker = events.NewMemoryBroker(l)
	}
	var publisher events.Publisher
	if broker != nil {
		publisher = broker
	}
	pub := services.NewEventPublisher(publisher, l)

	// Services
	authService := services.NewAuthService(repos.Users, repos.Invitations, sessionCache, cfg, l)
	resultsService := services.NewResultsService(repos.Polls, repos.Votes, tallyCache, snapshots, l)
	pollService := services.NewPollService(repos.Polls, repos.Votes, pollCache, pub, l).WithArchiver(resultsService)
	voteService := services.NewVoteService(repos.Polls, repos.Votes, otpSvc, pub, l)
	if tallyCache != nil {
		voteService.WithTallyInvalidator(tallyCache)
	}

	// Live results
	hub := websocket.NewHub()
	relay := websocket.NewRelay(hub, resultsService, l)
	go hub.Run(ctx)
	if broker != nil {
		if err := relay.Run(ctx, broker); err != nil {
			return err
		}
	} else {
		l.Infof("No event broker configured, polling results every %s", cfg.LivePollInterval)
		go relay.Poll(ctx, cfg.LivePollInterval)
	}

	// Background sweepers
	go otp.NewSweeper(otpSvc, cfg.OTPSweepPeriod, l).Run(ctx)
	go voteService.RunSweeper(ctx, time.Minute)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Auth:      handler.NewAuthHandler(authService),
		Polls:     handler.NewPollHandler(pollService),
		Votes:     handler.NewVoteHandler(voteService),
		Results:   handler.NewResultsHandler(resultsService),
		Health:    handler.NewHealthHandler(checks),
		WebSocket: websocket.NewHandler(authService, pollService, hub, relay, l),
	}, authService, limiter)

	return srv.Start(ctx)
}
