package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/util"
)

// validationStep checks the JSON request body against required fields
// and per-field rules. Patterns are compiled once at build time.
type validationStep struct {
	cfg      *config.ValidationConfig
	patterns map[string]*regexp.Regexp
}

func newValidationStep(cfg *config.ValidationConfig) (*validationStep, error) {
	if cfg == nil {
		return nil, fmt.Errorf("validation config missing")
	}

	patterns := make(map[string]*regexp.Regexp)
	for field, rule := range cfg.Fields {
		if rule.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("field %s: invalid pattern: %w", field, err)
		}
		patterns[field] = re
	}

	return &validationStep{cfg: cfg, patterns: patterns}, nil
}

func (s *validationStep) Name() string { return "validation" }

func (s *validationStep) Process(_ context.Context, ex *Exchange) error {
	if s.cfg.MaxBodyBytes > 0 && int64(len(ex.Body)) > s.cfg.MaxBodyBytes {
		verr := util.NewValidationError("request body too large")
		return verr
	}

	body, err := ex.BodyJSON()
	if err != nil {
		verr := util.NewValidationError("request body is not valid JSON")
		return verr
	}

	verr := util.NewValidationError("request validation failed")

	for _, field := range s.cfg.RequiredFields {
		if _, ok := body[field]; !ok {
			verr.AddField(field, "required field is missing")
		}
	}

	for field, rule := range s.cfg.Fields {
		value, ok := body[field]
		if !ok {
			continue
		}
		s.checkField(field, rule, value, verr)
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func (s *validationStep) checkField(field string, rule config.FieldRule, value any, verr *util.ValidationError) {
	switch rule.Type {
	case "string":
		str, ok := value.(string)
		if !ok {
			verr.AddField(field, "must be a string")
			return
		}
		if rule.MinLength > 0 && len(str) < rule.MinLength {
			verr.AddField(field, fmt.Sprintf("must be at least %d characters", rule.MinLength))
		}
		if rule.MaxLength > 0 && len(str) > rule.MaxLength {
			verr.AddField(field, fmt.Sprintf("must be at most %d characters", rule.MaxLength))
		}
		if re, ok := s.patterns[field]; ok && !re.MatchString(str) {
			verr.AddField(field, "does not match the required pattern")
		}

	case "number":
		num, ok := value.(float64)
		if !ok {
			verr.AddField(field, "must be a number")
			return
		}
		if rule.Min != 0 || rule.Max != 0 {
			if num < rule.Min {
				verr.AddField(field, fmt.Sprintf("must be at least %v", rule.Min))
			}
			if rule.Max != 0 && num > rule.Max {
				verr.AddField(field, fmt.Sprintf("must be at most %v", rule.Max))
			}
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			verr.AddField(field, "must be a boolean")
		}

	case "object":
		if _, ok := value.(map[string]any); !ok {
			verr.AddField(field, "must be an object")
		}

	case "array":
		if _, ok := value.([]any); !ok {
			verr.AddField(field, "must be an array")
		}
	}
}
