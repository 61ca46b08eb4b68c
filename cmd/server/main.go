package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"scoutlink/backend/internal/auth"
	"scoutlink/backend/internal/chat"
	"scoutlink/backend/internal/config"
	"scoutlink/backend/internal/database"
	"scoutlink/backend/internal/handler"
	"scoutlink/backend/internal/hub"
	"scoutlink/backend/internal/metrics"
	"scoutlink/backend/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	// Swagger imports
	_ "scoutlink/backend/docs" // This is important for swag to find the generated docs

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func init() {
	config.LoadConfig()
}

// @title           ScoutLink API
// @version         1.0
// @description     This is the API for the ScoutLink recruiting service.
// @host            localhost:8080
// @BasePath        /api/v1
// @securityDefinitions.apiKey BearerAuth
// @in header
// @name Authorization
func main() {
	// Connect to the database
	database.Connect(config.AppConfig.DatabaseURL)

	// Unread cache: shared Redis when configured, per-process otherwise.
	var countCache chat.CountCache
	if config.AppConfig.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.RedisAddr,
			Password: config.AppConfig.RedisPassword,
			DB:       config.AppConfig.RedisDB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		countCache = chat.NewRedisCountCache(redisClient)
		log.Println("Redis unread cache enabled.")
	} else {
		countCache = chat.NewMemoryCountCache()
		log.Println("Redis not configured, using in-memory unread cache.")
	}

	eventHub := hub.NewHub()

	// Message fanout: through RabbitMQ when configured so multiple instances
	// reach every connected socket, in-process otherwise.
	var notifier chat.Notifier
	if config.AppConfig.AmqpURL != "" {
		hostname, _ := os.Hostname()
		queueName := fmt.Sprintf("chat_events.%s.%d", hostname, os.Getpid())
		fanout, err := realtime.NewAmqpFanout(context.Background(), config.AppConfig.AmqpURL, eventHub, queueName)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer fanout.Close()
		notifier = fanout
		log.Println("RabbitMQ event fanout enabled.")
	} else {
		notifier = realtime.NewLocalDispatcher(eventHub)
		log.Println("RabbitMQ not configured, realtime events stay in-process.")
	}

	ttl := time.Duration(config.AppConfig.UnreadCacheTTLSeconds) * time.Second
	conversationStore := chat.NewConversationStore(database.DB)
	unreadTracker := chat.NewUnreadTracker(database.DB, countCache, ttl)
	messageStore := chat.NewMessageStore(database.DB, conversationStore, unreadTracker, notifier)

	handler.SetupChat(conversationStore, messageStore, unreadTracker, eventHub)

	router := gin.Default()
	router.Use(metrics.Middleware())

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoint
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := apiV1.Group("/auth")
		{
			authRoutes.POST("/register", handler.RegisterUser)
			authRoutes.POST("/login", handler.LoginUser)
		}

		// User routes (protected)
		userRoutes := apiV1.Group("/users")
		userRoutes.Use(auth.AuthMiddleware())
		{
			userRoutes.GET("", handler.SearchUsers) // Must be before /:id
			userRoutes.GET("/me", handler.GetMe)
			userRoutes.GET("/:id", handler.GetUserByID)
		}

		// Chat routes
		chatRoutes := apiV1.Group("/chat")
		{
			// Unread count degrades to zero without a session.
			chatRoutes.GET("/unread-count", auth.OptionalAuthMiddleware(), handler.GetUnreadCount)

			protected := chatRoutes.Group("")
			protected.Use(auth.AuthMiddleware())
			{
				protected.GET("/conversations", handler.ListConversations)
				protected.POST("/conversations", handler.CreateConversation)
				protected.DELETE("/conversations/:id", handler.DeleteConversation)
				protected.GET("/conversations/:id/messages", handler.GetConversationMessages)
				protected.POST("/conversations/:id/messages", handler.SendMessage)
				protected.POST("/conversations/:id/read", handler.MarkConversationRead)
				protected.GET("/ws", handler.ChatWebSocket)
			}
		}
	}

	fmt.Println("Server is running on", config.AppConfig.ServerAddr)
	fmt.Println("Swagger UI is available at http://localhost:8080/swagger/index.html")
	log.Fatal(router.Run(config.AppConfig.ServerAddr))
}
