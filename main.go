package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/brademus/investorkonnect-sub002/internal/api"
	"github.com/brademus/investorkonnect-sub002/internal/cache"
	"github.com/brademus/investorkonnect-sub002/internal/config"
	"github.com/brademus/investorkonnect-sub002/internal/db"
	"github.com/brademus/investorkonnect-sub002/internal/email"
	"github.com/brademus/investorkonnect-sub002/internal/provider"
	"github.com/brademus/investorkonnect-sub002/internal/services"
	"github.com/brademus/investorkonnect-sub002/internal/storage"
	"github.com/brademus/investorkonnect-sub002/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'all' (default)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureIndexes(indexCtx, mongoDb); err != nil {
		cancelIndex()
		log.Fatalf("Failed to ensure database indexes: %v", err)
	}
	cancelIndex()

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	// Signed document archive is optional; without AWS credentials the
	// provider's own document URL is still recorded.
	var docStorage storage.ISignedDocStorage
	if cfg.AwsS3Bucket != "" {
		docStorage, err = storage.NewSignedDocStorage(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize S3 document storage: %v", err)
		}
	} else {
		log.Println("AWS_S3_BUCKET not set: signed document archiving disabled.")
	}

	var primaryEmailSender email.Sender
	if os.Getenv("MOCK_SERVICES") == "true" {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		primaryEmailSender = email.NewRedisSender(redisClient, cfg)
	} else {
		primaryEmailSender = email.NewSMTPSender(cfg)
	}
	emailSender := email.Sender(email.NewCompositeEmailSender(primaryEmailSender))

	taskClient := tasks.NewClient(redisClient)
	notifier := tasks.NewTaskNotifier(taskClient)

	// Services shared by the background worker.
	providerClient := provider.NewClient(cfg)
	userService := services.NewUserService(mongoDb)
	dealService := services.NewDealService(mongoDb)
	roomService := services.NewRoomService(mongoDb)
	agreementService := services.NewAgreementService(mongoDb)
	negotiationService := services.NewNegotiationService(mongoDb, agreementService, notifier)
	connectionService := services.NewConnectionService(mongoDb, cfg, providerClient)
	signingService := services.NewSigningService(mongoDb, cfg, providerClient, connectionService, notifier)
	syncService := services.NewSyncService(mongoDb, providerClient, connectionService, signingService, docStorage)

	taskProcessor := tasks.NewTaskProcessor(cfg, emailSender, syncService, dealService, roomService, userService, negotiationService, agreementService)

	var wg sync.WaitGroup
	shutdownChan := make(chan struct{}, 1)

	serviceRouter := api.SetupServiceRouter(cfg, redisClient, syncService, shutdownChan)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: serviceRouter,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("Service API listening on :%s\n", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
	}()

	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server
	sweepDone := make(chan struct{})

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	apiMode := func() {
		mainApiRouter := api.SetupRouter(cfg, mongoDb, redisClient, notifier, docStorage)
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: mainApiRouter,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
		}()
	}

	bgMode := func() {
		fmt.Println("Starting background worker...")
		backgroundTaskSrv = tasks.SetupServer(redisClient, taskProcessor)

		// Periodic reconcile sweep; stands in for provider webhooks.
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(cfg.ProviderSyncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := tasks.EnqueueProviderSync(taskClient); err != nil {
						log.Printf("WARN: %v", err)
					}
				case <-sweepDone:
					return
				}
			}
		}()
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	default:
		log.Fatalf("Invalid run mode specified: %s.", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)
	case <-shutdownChan:
		fmt.Println("\nShutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	close(sweepDone)

	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}
	if mainApiSrv != nil {
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}
	if backgroundTaskSrv != nil {
		backgroundTaskSrv.Shutdown()
	}
	if err := taskClient.Close(); err != nil {
		log.Printf("Task client close error: %v", err)
	}

	wg.Wait()
	fmt.Println("Server gracefully stopped")
}
