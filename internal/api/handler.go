package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"wallbox-bridge/internal/poller"
	"wallbox-bridge/internal/store"
)

// StatusSource reports the synchronizer status.
type StatusSource interface {
	Status() poller.Status
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	status  StatusSource
	webpush *webpush.Options
	log     *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, status StatusSource, webpushOptions *webpush.Options, logger *zap.Logger) *Handler {
	return &Handler{
		store:   s,
		status:  status,
		webpush: webpushOptions,
		log:     logger.Named("api"),
	}
}
