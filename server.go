package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/config"
	"github.com/mmdatafocus/retail_backend/middlewares"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter is a fixed-window per-IP limiter backed by redis. The client
// is looked up per request because redis connects after the router is built.
type RateLimiter struct {
	client func() *redis.Client
	limit  int64
	window time.Duration
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// newRouter builds the HTTP surface. Until the database is connected every
// route except /healthz answers 503.
func newRouter(s *config.Settings, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.SessionMiddleware())
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS.
	if strings.EqualFold(strings.TrimSpace(s.GoEnv), "production") {
		corsConfig.AllowOrigins = splitAndTrim(strings.Join(s.CorsAllowedOrigins, ","))
		if len(corsConfig.AllowOrigins) == 0 {
			// Deny all if not configured.
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", idempotencyHeader, middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := envInt64("RATE_LIMIT_MAX_REQUESTS", 600)
		windowSec := envInt64("RATE_LIMIT_WINDOW_SECONDS", 60)
		r.Use(NewRateLimiter(config.GetRedisDB, limit, time.Duration(windowSec)*time.Second).RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware([]byte(s.APISecret)))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api", middlewares.RequireIdentity())
	api.POST("/customers", createCustomerHandler())

	api.POST("/sales", createSaleHandler())
	api.GET("/sales/:id", getSaleHandler())
	api.PUT("/sales/:id", updateSaleHandler())
	api.POST("/sales/:id/cancel", cancelSaleHandler())

	api.POST("/purchases", createPurchaseHandler())
	api.GET("/purchases/:id", getPurchaseHandler())
	api.PUT("/purchases/:id", updatePurchaseHandler())
	api.POST("/purchases/:id/cancel", cancelPurchaseHandler())

	api.GET("/receivables/:id", getReceivableHandler())
	api.POST("/receivables/:id/payments", addPaymentHandler())
	api.POST("/payments/:id/cancel", cancelPaymentHandler())

	r.POST("/internal/ops/audit-outbox/:id/replay", middlewares.RequireIdentity(), outboxReplayHandler())
	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	s := config.GetSettings()
	config.SetLogLevel(s.LogLevel)
	logger := config.GetLogger()
	if s.APISecret == "" {
		logger.WithFields(logrus.Fields{"field": "auth"}).Fatal("API_SECRET is required")
	}

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	srv := &http.Server{
		Addr:    ":" + s.Port,
		Handler: newRouter(s, logger),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectRedisWithRetry()
	config.ConnectDatabaseWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run blocking DDL; allow running it as a separate job instead.
	if !s.SkipMigrations {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	errorLogDone := make(chan struct{})
	go func() {
		workflow.NewErrorLogWriter(db, logger).Run(workerCtx)
		close(errorLogDone)
	}()

	// Publishes audit events AFTER commit.
	var publisher *config.PubSubAuditPublisher
	if config.AuditPublishEnabled() {
		publisher = config.NewPubSubAuditPublisher(s.AuditTopic)
		dispatcher := workflow.NewOutboxDispatcher(db, publisher, logger)
		models.RegisterCommitHook(func(context.Context, models.CommitEvent) { dispatcher.Notify() })
		go dispatcher.Run(workerCtx)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("ledger api listening on port ", s.Port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests first so in-flight failures still reach the error log.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	cancelWorkers()
	<-errorLogDone
	if publisher != nil {
		publisher.Stop()
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.WithFields(logrus.Fields{
				"field":  "http",
				"method": c.Request.Method,
				"path":   c.FullPath(),
				"status": c.Writer.Status(),
			}).Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client func() *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in a fixed window.
// Requests pass unlimited while redis is not connected or failing.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	client := rl.client()
	if client == nil {
		c.Next()
		return
	}
	key := "ratelimit:" + c.ClientIP()

	count, err := client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		_ = c.Error(err)
		c.Next()
		return
	}
	if count == 1 {
		if err := client.Expire(c.Request.Context(), key, rl.window).Err(); err != nil {
			_ = c.Error(err)
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func envInt64(key string, fallback int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
