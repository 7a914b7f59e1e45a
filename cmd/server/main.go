package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/leadmap-mailflow/internal/api"
	"github.com/ignite/leadmap-mailflow/internal/auth"
	"github.com/ignite/leadmap-mailflow/internal/backup"
	"github.com/ignite/leadmap-mailflow/internal/config"
	"github.com/ignite/leadmap-mailflow/internal/events"
	"github.com/ignite/leadmap-mailflow/internal/inbound"
	"github.com/ignite/leadmap-mailflow/internal/pkg/backoff"
	"github.com/ignite/leadmap-mailflow/internal/pkg/distlock"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
	"github.com/ignite/leadmap-mailflow/internal/repository/memory"
	"github.com/ignite/leadmap-mailflow/internal/repository/postgres"
	"github.com/ignite/leadmap-mailflow/internal/scheduler"
	"github.com/ignite/leadmap-mailflow/internal/service/suppression"
	"github.com/ignite/leadmap-mailflow/internal/transport"
)

// checkPortAvailable fails fast when another process already holds the port.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v", addr, err)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	dbURL := cfg.URL
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	if !strings.Contains(dbURL, "connect_timeout") {
		dbURL += sep + "connect_timeout=5"
	}
	log.Printf("DB URL host portion: ...@%s/...", extractHost(dbURL))

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		log.Println("Redis not configured (REDIS_URL not set), stale-claim sweeps fall back to PG advisory locks")
		return nil
	}
	var client *redis.Client
	if opts, err := redis.ParseURL(url); err != nil {
		client = redis.NewClient(&redis.Options{Addr: url})
	} else {
		client = redis.NewClient(opts)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed: %v", err)
		client.Close()
		return nil
	}
	log.Println("Redis connected (distributed locking enabled)")
	return client
}

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.RedactPII)

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: Postgres when configured, otherwise in-memory for local runs.
	var (
		db            *sql.DB
		scheduledRepo scheduler.Repository
		failedRepo    scheduler.FailedStore
		suppRepo      suppression.Repository
	)
	if cfg.Database.URL != "" {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		scheduledRepo = postgres.NewScheduledRepo(db)
		failedRepo = postgres.NewFailedRepo(db)
		suppRepo = postgres.NewSuppressionRepo(db)
		log.Println("PostgreSQL repositories initialized")
	} else {
		log.Println("DATABASE_URL not set, using in-memory repositories")
		scheduledRepo = memory.NewScheduledRepo()
		failedRepo = memory.NewFailedRepo()
		suppRepo = memory.NewSuppressionRepo()
	}

	redisClient := openRedis(ctx, cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Transports
	transports := transport.NewRegistry(transport.NewLogTransport("log"))
	if cfg.SES.Enabled {
		sesTx, err := transport.NewSESTransport(ctx, transport.SESConfig{
			Name:             "ses",
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			log.Fatalf("Failed to initialize SES transport: %v", err)
		}
		transports.Register(sesTx)
		log.Printf("SES transport initialized (region: %s)", cfg.SES.Region)
	}

	// Events and webhooks
	bus := events.NewBus()
	defer bus.Close()
	webhooks := events.NewWebhookRegistry()

	var recorder events.AttemptRecorder = events.NewMemoryRecorder(0)
	if cfg.Webhooks.AttemptsTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Webhooks.AttemptsRegion))
		if err != nil {
			log.Fatalf("Failed to load AWS config for webhook attempts: %v", err)
		}
		recorder = events.NewDynamoRecorder(dynamodb.NewFromConfig(awsCfg), cfg.Webhooks.AttemptsTable,
			time.Duration(cfg.Webhooks.AttemptsTTLHours)*time.Hour)
		log.Printf("Webhook attempts recorded to DynamoDB table %s", cfg.Webhooks.AttemptsTable)
	}
	dispatcher := events.NewDispatcher(webhooks, recorder,
		events.WithRetry(cfg.Webhooks.MaxRetries, backoff.Policy{Base: time.Second, Max: 30 * time.Second, Jitter: true}),
		events.WithDeliveryTimeout(cfg.Webhooks.Timeout()),
	)
	bus.Subscribe(dispatcher)

	// Scheduler
	sched := scheduler.New(scheduledRepo, failedRepo, transports,
		scheduler.WithPublisher(bus),
		scheduler.WithMaxAttempts(cfg.Scheduler.MaxAttempts),
		scheduler.WithClaimTimeout(cfg.Scheduler.ClaimTimeout()),
		scheduler.WithBackoff(backoff.Policy{
			Base: time.Duration(cfg.Scheduler.BackoffBaseSeconds) * time.Second,
			Max:  time.Duration(cfg.Scheduler.BackoffMaxSeconds) * time.Second,
		}),
		scheduler.WithLocks(distlock.NewFactory(redisClient, db)),
	)

	// Suppression
	suppOpts := []suppression.Option{suppression.WithPublisher(bus)}
	if cfg.Suppression.SigningKey != "" {
		suppOpts = append(suppOpts, suppression.WithSigner(
			suppression.NewHMACSigner(cfg.Suppression.SigningKey, cfg.Suppression.TokenMaxAge())))
	} else {
		log.Println("Warning: UNSUBSCRIBE_SIGNING_KEY not set, unsubscribe links are disabled")
	}
	if p := suppression.NewThresholdPolicy(cfg.Suppression.SoftBounceLimit,
		time.Duration(cfg.Suppression.SoftBounceWindowHr)*time.Hour); p != nil {
		suppOpts = append(suppOpts, suppression.WithEscalationPolicy(p))
		log.Printf("Soft bounce escalation enabled: %d within %dh", p.Limit, cfg.Suppression.SoftBounceWindowHr)
	}
	supp := suppression.NewService(suppRepo, suppOpts...)

	// Backups
	var (
		backupStore backup.Store = backup.NewMemoryStore()
		s3Client    *s3.Client
	)
	if cfg.Backup.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Backup.S3Region))
		if err != nil {
			log.Fatalf("Failed to load AWS config for backups: %v", err)
		}
		s3Client = s3.NewFromConfig(awsCfg)
		backupStore = backup.NewS3Store(s3Client, cfg.Backup.S3Bucket, cfg.Backup.S3Prefix)
		log.Printf("Backups stored in s3://%s/%s", cfg.Backup.S3Bucket, cfg.Backup.S3Prefix)
	}

	var bucketHeader api.BucketHeader
	if s3Client != nil {
		bucketHeader = s3Client
	}

	server := api.NewServer(api.Deps{
		Scheduler:        sched,
		Suppression:      supp,
		Inbound:          inbound.NewProcessor(supp, bus),
		Webhooks:         webhooks,
		Attempts:         recorder,
		Backups:          backup.NewService(backupStore),
		CronAuth:         auth.NewCronAuth(cfg.Scheduler.CronSecret),
		AdminAuth:        auth.NewAdminAuth(cfg.Server.AdminAPIKey),
		Health:           api.NewHealthChecker(db, redisClient, bucketHeader, cfg.Backup.S3Bucket),
		BatchSize:        cfg.Scheduler.BatchSize,
		CronBudget:       cfg.Scheduler.Budget(),
		DefaultTransport: cfg.Scheduler.DefaultTransport,
		PublicURL:        cfg.Server.PublicURL,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
	})
	if cfg.Scheduler.CronSecret == "" {
		log.Println("Warning: CRON_SECRET not set, the cron endpoint rejects every request")
	}
	if cfg.Server.AdminAPIKey == "" {
		log.Println("Warning: ADMIN_API_KEY not set, the management API rejects every request")
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s (transports: %s)", addr, strings.Join(transports.Names(), ", "))
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	dispatcher.Wait()

	log.Println("Server stopped")
}
