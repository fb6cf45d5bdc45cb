package api

import (
	"github.com/ZamarianPatrick/waterplant-backend/scheduler"
	"go.uber.org/zap"
)

// Resolver carries the dependencies of the HTTP handlers.
type Resolver struct {
	version   string
	scheduler *scheduler.Scheduler
	log       *zap.Logger
}

func NewResolver(version string, s *scheduler.Scheduler, log *zap.Logger) *Resolver {
	return &Resolver{
		version:   version,
		scheduler: s,
		log:       log.Named("api"),
	}
}
