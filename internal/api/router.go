package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wallbox-bridge/config"
	"wallbox-bridge/internal/mw"
	"wallbox-bridge/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, status StatusSource, webpushOptions *webpush.Options, cfg config.ServerConfig, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), mw.RequestLogger(logger.Named("http")))

	handler := NewHandler(s, status, webpushOptions, logger)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// The declared objects only change on provisioning.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	r.GET("/healthz", Healthz)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/objects", caching, handler.GetObjects)

		api.GET("/states", handler.GetStates)
		api.GET("/states/*path", handler.GetState)
		api.PUT("/states/*path", handler.PutState)

		api.GET("/status", handler.GetStatus)

		api.GET("/topics", GetTopics)
		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
