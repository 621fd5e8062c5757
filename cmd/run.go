package cmd

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"wagerbot/application"
	"wagerbot/bot"
	"wagerbot/config"
	"wagerbot/database"
	"wagerbot/domain/interfaces"
	"wagerbot/domain/services"
	"wagerbot/events"
	"wagerbot/infrastructure"
	"wagerbot/infrastructure/archive"
	"wagerbot/infrastructure/custody"
	"wagerbot/infrastructure/notify"
	"wagerbot/infrastructure/okx"
	"wagerbot/infrastructure/oracle"
	"wagerbot/infrastructure/redis"
	"wagerbot/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options selects how Run drives the workers
type Options struct {
	// SweepOnce runs a single deadline and settlement sweep and returns without starting the chat gateway
	SweepOnce bool
}

// Run initializes and starts the application
func Run(ctx context.Context, opts Options) error {
	log.Println("Starting wagerbot...")

	// Load configuration
	cfg := config.Get()
	configureLogging(cfg)

	// Initialize database connection
	log.Println("Connecting to database...")
	db, err := database.NewConnection(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.Println("Database connection established successfully")

	wagerRepo := repository.NewWagerRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)
	userRepo := repository.NewUserRepository(db)
	escrowKeyRepo := repository.NewEscrowKeyRepository(db)

	// Initialize Redis for locks, rate limits and transaction idempotency
	log.Printf("Connecting to Redis at %s...", cfg.RedisAddr)
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		MaxRetries: 3,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()
	locks := redis.NewLockManager(redisClient)
	limiter := redis.NewRateLimiter(redisClient, cfg.BalanceChecksPerSecond, time.Second)
	idempotency := redis.NewIdempotencyStore(redisClient, redis.DefaultIdempotencyTTL)

	// Initialize event bus, fanning out to NATS when configured
	log.Println("Initializing event bus...")
	eventBus := events.NewBus()
	var eventPublisher interfaces.EventPublisher = eventBus
	if cfg.NATSServers != "" {
		natsClient := infrastructure.NewNATSClient(cfg.NATSServers)
		if err := natsClient.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		mapper := infrastructure.NewEventSubjectMapper()
		if err := natsClient.EnsureStream(infrastructure.WagerEventStream, mapper.GetAllSubjects()); err != nil {
			return fmt.Errorf("failed to ensure event stream: %w", err)
		}
		eventPublisher = infrastructure.NewNATSEventPublisher(natsClient, mapper, eventBus)
		log.Println("NATS event fan-out enabled")
	}
	log.Println("Event bus initialized successfully")

	// Initialize custody
	log.Println("Connecting to chain RPC...")
	chain, err := custody.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to chain: %w", err)
	}
	defer chain.Close()

	tokens, err := custody.ParseTokenRegistry(cfg.TokenRegistry)
	if err != nil {
		return fmt.Errorf("invalid token registry: %w", err)
	}
	payoutToken, ok := tokens.Lookup(cfg.PayoutAsset)
	if !ok {
		return fmt.Errorf("payout asset %s is missing from TOKEN_REGISTRY", cfg.PayoutAsset)
	}

	vault, err := custody.NewKeyVault(cfg.KeyPassphrase, cfg.KeyKDFIterations)
	if err != nil {
		return fmt.Errorf("failed to initialize key vault: %w", err)
	}
	accounts := custody.NewAccounts(escrowKeyRepo, vault)
	ledger := custody.NewLedger(chain, accounts, tokens)
	broadcaster := custody.NewBroadcaster(chain, accounts, idempotency, big.NewInt(cfg.ChainID), custody.BroadcasterConfig{ReceiptTimeout: cfg.TxReceiptTimeout})
	transferer, err := custody.NewTransferer(broadcaster, tokens, cfg.PayoutAsset)
	if err != nil {
		return fmt.Errorf("failed to initialize transferer: %w", err)
	}
	log.Println("Custody initialized successfully")

	// Initialize swap provider and oracle
	swapper := okx.NewSwapper(
		okx.NewClient(cfg.OKXBaseURL, okx.Credentials{
			APIKey:     cfg.OKXAPIKey,
			SecretKey:  cfg.OKXSecretKey,
			Passphrase: cfg.OKXPassphrase,
			ProjectID:  cfg.OKXProjectID,
		}),
		broadcaster,
		idempotency,
		okx.SwapConfig{ChainIndex: cfg.OKXChainIndex, ToToken: payoutToken, Slippage: cfg.OKXSlippage},
	)
	outcomeOracle := oracle.NewPerplexity(oracle.Config{
		APIKey:  cfg.PerplexityAPIKey,
		BaseURL: cfg.PerplexityBaseURL,
		Model:   cfg.PerplexityModel,
	})

	// Initialize services
	log.Println("Initializing services...")
	lockTTL := max(cfg.LockTTL, services.SettlementLockTTL(cfg.TxReceiptTimeout, cfg.PayoutMaxElapsed))
	if lockTTL != cfg.LockTTL {
		log.Printf("LOCK_TTL %s is shorter than a settlement can take, using %s", cfg.LockTTL, lockTTL)
	}
	fundingMonitor := services.NewFundingMonitor(ledger, limiter, cfg.NativeAsset)
	deadlineResolver := services.NewDeadlineResolver(outcomeOracle, cfg.DeadlineFallbackWindow)
	settlementExecutor := services.NewSettlementExecutor(settlementRepo, wagerRepo, swapper, transferer, eventPublisher, locks, services.SettlementConfig{
		PayoutAsset:      cfg.PayoutAsset,
		PayoutMaxElapsed: cfg.PayoutMaxElapsed,
		PayoutMaxRetries: cfg.PayoutMaxRetries,
		LockTTL:          lockTTL,
	})
	lifecycle := services.NewWagerLifecycleService(wagerRepo, ledger, outcomeOracle, fundingMonitor, deadlineResolver, settlementExecutor, eventPublisher, locks, services.LifecycleConfig{
		NativeAsset:              cfg.NativeAsset,
		PayoutAsset:              cfg.PayoutAsset,
		ConfidenceThreshold:      cfg.ConfidenceThreshold,
		RequireFundingToActivate: cfg.RequireFundingToActivate,
		LockTTL:                  lockTTL,
	})
	log.Println("Services initialized successfully")

	// Initialize notifications
	var senders []notify.Sender
	if cfg.DiscordToken != "" {
		discordSender, err := notify.NewDiscordSender(cfg.DiscordToken)
		if err != nil {
			return fmt.Errorf("failed to initialize discord notifications: %w", err)
		}
		senders = append(senders, discordSender)
	}
	if cfg.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramAPIURL, cfg.TelegramToken))
	}
	application.RegisterApplicationSubscriptions(eventBus, application.NewWagerNotifier(notify.NewNotifier(senders...), cfg.PayoutAsset))

	// Initialize archive
	var archiver interfaces.Archiver
	if cfg.ArchiveEnabled() {
		s3Archiver, err := archive.New(ctx, archive.ClientConfig{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			UseSSL:         cfg.S3UseSSL,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		archiver = s3Archiver
		log.Printf("Archiving settled wagers to bucket %s", cfg.S3Bucket)
	}

	// Initialize Discord gateway
	commands := application.NewCommands(lifecycle, userRepo, ledger, ledger, outcomeOracle, application.CommandConfig{
		NativeAsset: cfg.NativeAsset,
		PayoutAsset: cfg.PayoutAsset,
		GasReserve:  cfg.GasReserve,
	})
	var discordBot *bot.Bot
	if cfg.DiscordToken != "" && !opts.SweepOnce {
		log.Println("Initializing Discord bot...")
		discordBot, err = bot.New(bot.Config{Token: cfg.DiscordToken}, commands)
		if err != nil {
			return fmt.Errorf("failed to initialize Discord bot: %w", err)
		}
		log.Println("Discord bot initialized successfully")
	}

	// Start workers
	deadlineWorker := application.NewDeadlineWorker(lifecycle, wagerRepo, cfg.DeadlineSweepInterval, cfg.PendingWagerTTL)
	settlementWorker := application.NewSettlementWorker(settlementExecutor, lifecycle, wagerRepo, userRepo, ledger, archiver, application.SettlementWorkerConfig{
		Interval:    cfg.SettlementSweepInterval,
		AutoSettle:  cfg.AutoSettle,
		NativeAsset: cfg.NativeAsset,
		GasReserve:  cfg.GasReserve,
	})

	if opts.SweepOnce {
		log.Println("Running a single sweep...")
		deadlineWorker.RunOnce(ctx)
		settlementWorker.RunOnce(ctx)
		waitForNotifications(eventBus)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, worker := range []interface{ Start(context.Context) func() }{deadlineWorker, settlementWorker} {
		g.Go(func() error {
			stop := worker.Start(gctx)
			<-gctx.Done()
			stop()
			return nil
		})
	}

	// Wait for context cancellation
	log.Printf("Bot is running in %s mode...", cfg.Environment)
	if err := g.Wait(); err != nil {
		log.Printf("Worker error: %v", err)
	}

	// Cleanup resources
	log.Println("Shutting down bot...")
	if discordBot != nil {
		if err := discordBot.Close(); err != nil {
			log.Printf("Error closing Discord bot: %v", err)
		}
	}

	waitForNotifications(eventBus)
	return nil
}

// waitForNotifications gives in-flight notifications time to complete
func waitForNotifications(eventBus *events.Bus) {
	done := make(chan struct{})
	go func() {
		eventBus.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("Shutdown completed")
	case <-time.After(10 * time.Second):
		log.Println("Shutdown timeout exceeded")
	}
}

func configureLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.Environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
