package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/brademus/investorkonnect-sub002/internal/api/handlers"
	"github.com/brademus/investorkonnect-sub002/internal/api/middleware"
	"github.com/brademus/investorkonnect-sub002/internal/config"
	"github.com/brademus/investorkonnect-sub002/internal/provider"
	"github.com/brademus/investorkonnect-sub002/internal/services"
	"github.com/brademus/investorkonnect-sub002/internal/storage"
)

// SetupRouter configures and returns the main Gin engine.
// docStorage may be nil when S3 archiving is not configured.
func SetupRouter(
	cfg *config.Config,
	db *mongo.Database,
	rdb *redis.Client,
	notifier services.Notifier,
	docStorage storage.ISignedDocStorage,
) *gin.Engine {
	providerClient := provider.NewClient(cfg)

	userService := services.NewUserService(db)
	dealService := services.NewDealService(db)
	roomService := services.NewRoomService(db)
	agreementService := services.NewAgreementService(db)
	negotiationService := services.NewNegotiationService(db, agreementService, notifier)
	connectionService := services.NewConnectionService(db, cfg, providerClient)
	signingService := services.NewSigningService(db, cfg, providerClient, connectionService, notifier)
	syncService := services.NewSyncService(db, providerClient, connectionService, signingService, docStorage)
	resolverService := services.NewResolverService(db, syncService, signingService)

	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	jsonApiHandler := handlers.NewJsonApiHandler(
		cfg, userService, dealService, roomService,
		agreementService, negotiationService, signingService,
		resolverService, connectionService, syncService)
	restAgreementHandler := handlers.NewRestAgreementHandler(dealService, roomService, agreementService, resolverService, docStorage)
	restUserHandler := handlers.NewRestUserHandler(userService)

	v1 := r.Group("/v1")
	{
		// The JSON API carries its own per-method auth checks.
		v1.POST("/api", jsonApiHandler.HandleRequest)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/deal/:id/agreement-state", restAgreementHandler.GetAgreementState)
			authRequired.GET("/agreement/:id/document", restAgreementHandler.GetSignedDocument)
			authRequired.GET("/user/:id", restUserHandler.GetUserByID)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the service Gin engine for
// operational commands on a localhost-only port.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, syncService services.ISyncService, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			fmt.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				fmt.Println("Shutdown channel already signaled or blocked.")
			}
		case "reconcileNow":
			changed, err := syncService.ReconcileOutstanding(c.Request.Context())
			if err != nil {
				log.Printf("Service API: reconcile failed: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"updated": changed}})
		case "getTestEmail":
			var args []string // ["kind", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [kind, email]"})
				return
			}
			redisKey := fmt.Sprintf("mockemail:%s:%s", args[1], args[0])
			emailJSON, err := rdb.Get(c.Request.Context(), redisKey).Result()
			if err == redis.Nil {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found for key %s", redisKey)})
				return
			}
			if err != nil {
				log.Printf("Service API: error getting key %s from Redis: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
				return
			}
			rdb.Del(c.Request.Context(), redisKey)

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJSON), &emailData); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
