package config

import "fmt"

// Validate performs the hand-rolled field validation the config package
// relies on instead of a struct-tag validator library — following the
// grounding repo's own precedent of writing Validate() methods by hand even
// though a validator library is present in its transitive dependency graph.
func (c *Config) Validate() error {
	if c.Sandbox.PortRangeLow <= 0 || c.Sandbox.PortRangeHigh <= 0 {
		return NewValidationError("sandbox.port_range", fmt.Errorf("port range bounds must be positive"))
	}
	if c.Sandbox.PortRangeLow >= c.Sandbox.PortRangeHigh {
		return NewValidationError("sandbox.port_range", fmt.Errorf("port_range_low must be less than port_range_high"))
	}
	if c.Sandbox.Image == "" {
		return NewValidationError("sandbox.image", fmt.Errorf("must not be empty"))
	}
	if c.Sandbox.ContainerPort <= 0 {
		return NewValidationError("sandbox.container_port", fmt.Errorf("must be positive"))
	}

	if c.Review.MaxReviewIterations < 1 {
		return NewValidationError("review.max_review_iterations", fmt.Errorf("must be at least 1"))
	}
	if c.Review.MinSecurityScore < 0 || c.Review.MinSecurityScore > 10 {
		return NewValidationError("review.min_security_score", fmt.Errorf("must be between 0 and 10"))
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			return NewValidationError("store.dsn", fmt.Errorf("required when store.driver is postgres"))
		}
	case "memory":
	default:
		return NewValidationError("store.driver", fmt.Errorf("unsupported driver %q, want postgres or memory", c.Store.Driver))
	}

	if c.Timeouts.ContainerInspect <= 0 || c.Timeouts.SandboxWait <= 0 || c.Timeouts.EndpointProbe <= 0 || c.Timeouts.Endpoint <= 0 || c.Timeouts.Stage <= 0 {
		return NewValidationError("timeouts", fmt.Errorf("all timeouts must be positive"))
	}

	return nil
}
