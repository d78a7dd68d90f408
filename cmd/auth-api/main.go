package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/arkav-labs/auth-api/api/swagger"
	"github.com/arkav-labs/auth-api/internal/handler"
	"github.com/arkav-labs/auth-api/internal/middleware"
	"github.com/arkav-labs/auth-api/internal/repository"
	"github.com/arkav-labs/auth-api/internal/service"
	"github.com/arkav-labs/auth-api/internal/token"
	"github.com/arkav-labs/auth-api/pkg/cache"
	"github.com/arkav-labs/auth-api/pkg/config"
	"github.com/arkav-labs/auth-api/pkg/database"
	"github.com/arkav-labs/auth-api/pkg/hash"
	"github.com/arkav-labs/auth-api/pkg/logger"
	corsmiddleware "github.com/arkav-labs/auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/arkav-labs/auth-api/pkg/middleware/requestid"
	"github.com/arkav-labs/auth-api/pkg/scheduler"
)

// @title Auth API
// @version 1.0.0
// @description Credential-session service issuing JWT access tokens and rotating refresh tokens
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	userRepo := repository.NewUserRepository(db)

	var tokenStore service.TokenStore
	switch cfg.Auth.RefreshStore {
	case config.RefreshStoreRedis:
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		tokenStore = repository.NewRedisTokenStore(redisClient, cfg.JWT.RefreshExpiration)
	default:
		tokenRepo := repository.NewRefreshTokenRepository(db, cfg.JWT.RefreshExpiration)
		tokenStore = tokenRepo

		// Redis expires keys on its own; the Postgres store needs a
		// periodic sweep.
		purge := scheduler.New("refresh-token-purge", func(ctx context.Context) error {
			n, err := tokenRepo.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logr.Sugar().Infow("purged expired refresh tokens", "count", n)
			}
			return nil
		}, scheduler.Config{Interval: cfg.Auth.CleanupInterval, InitialDelay: time.Minute, Logger: logr})
		purge.Start(context.Background())
		defer purge.Stop()
	}

	var hasher hash.PasswordHasher
	switch cfg.Auth.PasswordHasher {
	case config.HasherArgon2id:
		hasher = hash.NewArgon2idHasher()
	default:
		hasher = hash.NewBcryptHasher()
	}

	signer := token.NewSigner(cfg.JWT)
	validate := validator.New()

	authService := service.NewAuthService(userRepo, tokenStore, signer, hasher, validate, logr, cfg.Auth.LoginPolicy)
	userService := service.NewUserService(userRepo, hasher, validate, logr)
	metricsService := service.NewMetricsService()

	authHandler := handler.NewAuthHandler(authService, userService, metricsService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	auth := r.Group(cfg.APIPrefix + "/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/me", middleware.JWT(signer), authHandler.Me)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "refresh_store", cfg.Auth.RefreshStore, "login_policy", cfg.Auth.LoginPolicy)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
