package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/wirebridge/partnergw/internal/config"
)

const (
	opAdd       = "add"
	opRemove    = "remove"
	opReplace   = "replace"
	opTransform = "transform"
)

// transformStep mutates the outgoing request body per the configured
// operations. It has no client-facing failure path: a broken operation
// is an internal error surfaced as 500 by the orchestrator.
type transformStep struct {
	cfg *config.TransformConfig
}

func newTransformStep(cfg *config.TransformConfig) (*transformStep, error) {
	if cfg == nil {
		return nil, fmt.Errorf("transform config missing")
	}

	for i, op := range cfg.Operations {
		switch op.Op {
		case opAdd, opRemove, opReplace:
		case opTransform:
			switch op.Fn {
			case "uppercase", "lowercase", "trim":
			default:
				return nil, fmt.Errorf("operation %d: unknown transform fn %q", i, op.Fn)
			}
		default:
			return nil, fmt.Errorf("operation %d: unknown op %q", i, op.Op)
		}
	}

	return &transformStep{cfg: cfg}, nil
}

func (s *transformStep) Name() string { return "transformation" }

func (s *transformStep) Process(_ context.Context, ex *Exchange) error {
	body, err := ex.BodyJSON()
	if err != nil {
		return fmt.Errorf("transformation: %w", err)
	}

	for _, op := range s.cfg.Operations {
		switch op.Op {
		case opAdd:
			if _, exists := body[op.Field]; !exists {
				body[op.Field] = op.Value
			}

		case opRemove:
			delete(body, op.Field)

		case opReplace:
			if _, exists := body[op.Field]; exists {
				body[op.Field] = op.Value
			}

		case opTransform:
			if err := applyFn(body, op.Field, op.Fn); err != nil {
				return fmt.Errorf("transformation field %s: %w", op.Field, err)
			}
		}
	}

	return ex.SetBodyJSON(body)
}

func applyFn(body map[string]any, field, fn string) error {
	value, ok := body[field]
	if !ok {
		return nil
	}

	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("fn %q requires a string field", fn)
	}

	switch fn {
	case "uppercase":
		body[field] = strings.ToUpper(str)
	case "lowercase":
		body[field] = strings.ToLower(str)
	case "trim":
		body[field] = strings.TrimSpace(str)
	}
	return nil
}
