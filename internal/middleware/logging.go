package middleware

import (
	"context"

	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/util"
)

// loggingStep emits a structured log line with the configured fields.
// It never fails the request.
type loggingStep struct {
	fields []string
	logger *zap.Logger
}

func newLoggingStep(cfg *config.LogStepConfig, logger *zap.Logger) *loggingStep {
	fields := []string{"method", "path", "route", "partner"}
	if cfg != nil && len(cfg.Fields) > 0 {
		fields = cfg.Fields
	}
	return &loggingStep{fields: fields, logger: logger}
}

func (s *loggingStep) Name() string { return "logging" }

func (s *loggingStep) Process(ctx context.Context, ex *Exchange) error {
	zfields := make([]zap.Field, 0, len(s.fields))

	for _, f := range s.fields {
		switch f {
		case "method":
			zfields = append(zfields, zap.String("method", ex.Request.Method))
		case "path":
			zfields = append(zfields, zap.String("path", ex.Request.URL.Path))
		case "route":
			zfields = append(zfields, zap.String("route", ex.Route.ID))
		case "partner":
			zfields = append(zfields, zap.String("partner", ex.Route.PartnerID))
		case "identifier":
			zfields = append(zfields, zap.String("identifier", util.ClientIP(ex.Request)))
		case "requestId":
			zfields = append(zfields, zap.String("requestId", util.RequestIDFromContext(ctx)))
		case "subject":
			if ex.Identity != nil {
				zfields = append(zfields, zap.String("subject", ex.Identity.Subject))
			}
		}
	}

	s.logger.Info("gateway request", zfields...)
	return nil
}
