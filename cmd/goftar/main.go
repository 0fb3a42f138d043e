package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/4xmen/goftar/internal/auth"
	"github.com/4xmen/goftar/internal/db"
	"github.com/4xmen/goftar/internal/engine"
	"github.com/4xmen/goftar/internal/handlers"
	"github.com/4xmen/goftar/internal/presence"
	"github.com/4xmen/goftar/internal/push"
	"github.com/4xmen/goftar/internal/store"
	"github.com/4xmen/goftar/internal/ws"
	"github.com/4xmen/goftar/pkg/config"
	"github.com/4xmen/goftar/pkg/i18n"
)

func rateLimitMiddleware(limiterInstance *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiterContext, err := limiterInstance.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate("rate limiter error")})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limiterContext.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterContext.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", limiterContext.Reset))

		if limiterContext.Reached {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": i18n.Translate("rate limit exceeded")})
			c.Abort()
			return
		}

		c.Next()
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func serverErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		blw := &responseBodyWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Printf(
				"HTTP %d %s %s ip=%s duration=%s errors=%q response=%q",
				c.Writer.Status(),
				c.Request.Method,
				c.Request.URL.Path,
				c.ClientIP(),
				time.Since(start).Truncate(time.Millisecond),
				c.Errors.ByType(gin.ErrorTypeAny).String(),
				strings.TrimSpace(blw.body.String()),
			)
		}
	}
}

func panicRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Printf(
			"panic recovered method=%s path=%s ip=%s error=%v\n%s",
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			recovered,
			debug.Stack(),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate("internal server error")})
	})
}

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	if err := runServer(cfg); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func runCommand(cfg *config.Config, args []string) error {
	command := args[0]

	switch command {
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out *os.File) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  goftar           Start the delivery server")
	fmt.Fprintln(out, "  goftar status    Show application statistics")
	fmt.Fprintln(out, "  goftar status --json")
}

func runServer(cfg *config.Config) error {
	os.MkdirAll(cfg.FileStoragePath, 0755)

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	st := store.New(database.GetConn())

	// Optional cross-process presence mirror.
	var mirror *presence.Mirror
	if cfg.RedisAddr != "" {
		mirror = presence.NewMirror(cfg.RedisAddr, time.Duration(cfg.PresenceTTL)*time.Second)
		defer mirror.Close()
	}
	registry := presence.NewRegistry(st, mirror)
	if mirror != nil {
		refresh := time.Duration(cfg.PresenceTTL) * time.Second / 2
		go func() {
			ticker := time.NewTicker(refresh)
			defer ticker.Stop()
			for range ticker.C {
				registry.RefreshMirror()
			}
		}()
	}

	authSvc := auth.New(cfg.JWTSecret)
	notifier := push.NewNotifier(st, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)

	hub := ws.NewHub(registry)
	eng := engine.New(st, registry, hub, notifier)
	hub.SetEngine(eng)
	go hub.Run()

	msgHandler := handlers.NewMessageHandler(eng, st, cfg.MaxUploadSize, cfg.FileStoragePath)
	pushHandler := handlers.NewPushHandler(st, notifier)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(serverErrorLogger())
	router.Use(gin.Logger())
	router.Use(panicRecovery())
	router.MaxMultipartMemory = cfg.MaxUploadSize

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigins)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	writeLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 120})

	api := router.Group("/api")
	api.Use(authSvc.Middleware())
	{
		api.POST("/conversations", rateLimitMiddleware(writeLimiter), msgHandler.CreateConversation)
		api.GET("/conversations", msgHandler.GetConversations)
		api.GET("/conversations/:id/messages", msgHandler.GetMessages)
		api.POST("/conversations/:id/read", msgHandler.MarkConversationRead)
		api.POST("/messages", rateLimitMiddleware(writeLimiter), msgHandler.SendMessage)
		api.DELETE("/messages/:id", msgHandler.DeleteMessage)
		api.POST("/upload", rateLimitMiddleware(writeLimiter), msgHandler.UploadMedia)
		api.GET("/users/:id", msgHandler.GetUserProfile)

		api.GET("/push/vapid-key", pushHandler.VAPIDPublicKey)
		api.POST("/push/subscribe", pushHandler.Subscribe)
		api.POST("/push/unsubscribe", pushHandler.Unsubscribe)
	}

	// Serve uploaded files from configured storage path
	router.Static("/api/files", cfg.FileStoragePath)

	// WebSocket endpoint
	router.GET("/ws", authSvc.Middleware(), hub.HandleWebSocket)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	addr := fmt.Sprintf("0.0.0.0:%s", cfg.Port)
	log.Printf("Starting server on %s", addr)

	srv := &http.Server{Addr: addr, Handler: router}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigint
		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
