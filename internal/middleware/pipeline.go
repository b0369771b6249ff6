// Package middleware implements the per-route request processing
// pipeline. Steps run in configured order and the first failing step
// aborts both the remaining steps and the partner call.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/util"
)

// Exchange carries mutable request state through the pipeline. Body is
// the buffered request body; transformation steps rewrite it before the
// partner call.
type Exchange struct {
	Request  *http.Request
	Route    config.Route
	Params   map[string]string
	Body     []byte
	Identity *util.Identity

	parsedBody map[string]any
	bodyParsed bool
}

// BodyJSON lazily parses the buffered body as a JSON object. A missing
// body parses to an empty object; a malformed one returns an error.
func (e *Exchange) BodyJSON() (map[string]any, error) {
	if e.bodyParsed {
		return e.parsedBody, nil
	}

	obj := make(map[string]any)
	if len(e.Body) > 0 {
		if err := json.Unmarshal(e.Body, &obj); err != nil {
			return nil, fmt.Errorf("parse request body: %w", err)
		}
	}

	e.parsedBody = obj
	e.bodyParsed = true
	return obj, nil
}

// SetBodyJSON re-serializes obj as the exchange body.
func (e *Exchange) SetBodyJSON(obj map[string]any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("serialize request body: %w", err)
	}
	e.Body = data
	e.parsedBody = obj
	e.bodyParsed = true
	return nil
}

// Step is one pipeline stage. A returned error carries the terminal
// status via the util error taxonomy.
type Step interface {
	Name() string
	Process(ctx context.Context, ex *Exchange) error
}

// Pipeline is an ordered chain of steps for one route.
type Pipeline struct {
	steps  []Step
	logger *zap.Logger
}

// Build compiles the route's middleware configuration into a pipeline.
func Build(configs []config.MiddlewareConfig, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	steps := make([]Step, 0, len(configs))
	for i, mc := range configs {
		step, err := buildStep(mc, logger)
		if err != nil {
			return nil, fmt.Errorf("middleware %d (%s): %w", i, mc.Type, err)
		}
		steps = append(steps, step)
	}

	return &Pipeline{steps: steps, logger: logger}, nil
}

func buildStep(mc config.MiddlewareConfig, logger *zap.Logger) (Step, error) {
	switch mc.Type {
	case config.MiddlewareAuthentication:
		return newAuthStep(mc.Auth)
	case config.MiddlewareAuthorization:
		return newAuthzStep(mc.Authz), nil
	case config.MiddlewareValidation:
		return newValidationStep(mc.Validation)
	case config.MiddlewareTransformation:
		return newTransformStep(mc.Transform)
	case config.MiddlewareLogging:
		return newLoggingStep(mc.Logging, logger), nil
	default:
		return nil, fmt.Errorf("unknown middleware type %q", mc.Type)
	}
}

// Run executes the steps in order, stopping at the first error.
func (p *Pipeline) Run(ctx context.Context, ex *Exchange) error {
	for _, step := range p.steps {
		if err := step.Process(ctx, ex); err != nil {
			p.logger.Debug("pipeline step rejected request",
				zap.String("step", step.Name()),
				zap.String("route", ex.Route.ID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

// Len returns the number of steps.
func (p *Pipeline) Len() int {
	return len(p.steps)
}
