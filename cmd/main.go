package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"permission-service/internal/config"
	"permission-service/internal/database/postgres"
	"permission-service/internal/database/redis"
	"permission-service/internal/event"
	"permission-service/internal/handlers"
	"permission-service/internal/models"
	"permission-service/internal/repository"
	"permission-service/internal/services"

	"github.com/gin-gonic/gin"
)

// systemPermissionDefs is the fixed permission catalog. Seeding on every start
// is idempotent: it inserts missing names only and never flips is_active on
// existing rows.
var systemPermissionDefs = []models.PermissionDefinition{
	{Name: "posts.create", Category: "posts", Description: "Create posts"},
	{Name: "posts.edit", Category: "posts", Description: "Edit any post"},
	{Name: "posts.delete", Category: "posts", Description: "Delete any post"},
	{Name: "posts.pin", Category: "posts", Description: "Pin posts"},
	{Name: "news.publish", Category: "news", Description: "Publish news articles"},
	{Name: "news.edit", Category: "news", Description: "Edit news articles"},
	{Name: "guides.publish", Category: "guides", Description: "Publish guides"},
	{Name: "guides.review", Category: "guides", Description: "Review submitted guides"},
	{Name: "chat.moderate", Category: "chat", Description: "Moderate chat messages"},
	{Name: "chat.ban", Category: "chat", Description: "Ban users from chat"},
	{Name: "users.ban", Category: "admin", Description: "Ban user accounts"},
	{Name: "users.manage_permissions", Category: "admin", Description: "Grant and revoke permissions"},
	{Name: "audit.view", Category: "admin", Description: "View the permission audit ledger"},
}

func setupLogging() (*os.File, error) {
	logDir := filepath.Join("/var", "log", "permission_service")
	err := os.MkdirAll(logDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	cfg := config.New()

	db, err := postgres.ConnectAndCreateDB(cfg.PostgresCfg)
	if err != nil {
		log.Printf("Error connecting to PostgreSQL: %v, retrying until available", err)
		postgres.RetryConnectOnFailed(30*time.Second, &db, cfg.PostgresCfg)
	}
	defer db.Close()

	redisClient, err := redis.NewRedisClient(cfg.RedisCfg)
	if err != nil {
		log.Fatalf("Error connecting to Redis: %v", err)
	}
	defer redisClient.Close()

	var publisher event.Publisher = event.NoopPublisher{}
	rabbitURL := fmt.Sprintf("amqp://%s:%s@%s:%s/",
		cfg.RabbitMQCfg.Username, cfg.RabbitMQCfg.Password, cfg.RabbitMQCfg.Host, cfg.RabbitMQCfg.Port)
	rabbitConn, err := event.NewRabbitMQConnection(rabbitURL)
	if err != nil {
		log.Printf("RabbitMQ unavailable, permission events disabled: %v", err)
	} else {
		defer rabbitConn.Close()
		publisher = event.NewPermissionPublisher(rabbitConn)
	}

	// repositories
	permissionRepository := repository.NewPermissionRepository(db)
	grantRepository := repository.NewGrantRepository(db)
	auditRepository := repository.NewAuditRepository(db)
	roleMembershipRepository := repository.NewRoleMembershipRepository(db)
	effectiveCache := repository.NewEffectiveCacheRepository(redisClient)

	// services
	permissionService := services.NewPermissionService(permissionRepository, effectiveCache)
	resolverService := services.NewResolverService(permissionRepository, grantRepository, roleMembershipRepository, effectiveCache)
	grantService := services.NewGrantService(grantRepository, effectiveCache, publisher)
	syncService := services.NewSyncService(grantRepository, roleMembershipRepository, effectiveCache, publisher)
	auditService := services.NewAuditService(auditRepository)
	jwtService := services.NewJWTService(cfg.AuthCfg.JWTSecret)

	inserted, err := permissionService.InitializeSystemPermissions(context.Background(), systemPermissionDefs)
	if err != nil {
		log.Fatalf("Error seeding permission catalog: %v", err)
	}
	log.Printf("Permission catalog ready, %d new definitions inserted", inserted)

	// handlers
	middleware := handlers.NewMiddleware(jwtService)
	permissionHandler := handlers.NewPermissionHandler(permissionService, resolverService)
	grantHandler := handlers.NewGrantHandler(grantService, syncService)
	auditHandler := handlers.NewAuditHandler(auditService)

	r := gin.Default()
	r.GET("/checkhealth", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "permission service is healthy"})
	})
	if metricsPublisher, ok := publisher.(*event.PermissionPublisher); ok {
		r.GET("/metrics/publisher", func(c *gin.Context) {
			c.JSON(200, metricsPublisher.GetMetrics())
		})
	}

	permissionHandler.RegisterRoutes(r, middleware)
	grantHandler.RegisterRoutes(r, middleware)
	auditHandler.RegisterRoutes(r, middleware)

	serverPort := cfg.Port
	if serverPort == "" {
		serverPort = "8090"
	}

	log.Printf("Starting permission-service on port %s", serverPort)
	if err := r.Run(":" + serverPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
