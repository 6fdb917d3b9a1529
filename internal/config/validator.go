package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the accepted log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the accepted log formats.
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// Validate checks c and returns every problem found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, ValidationError{Field: "port", Value: c.Port, Message: "must be between 1 and 65535"})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Log.Level)) {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: "must be one of: " + strings.Join(ValidLogLevels(), ", "),
		})
	}
	if !slices.Contains(ValidLogFormats(), c.Log.Format) {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: "must be one of: " + strings.Join(ValidLogFormats(), ", "),
		})
	}

	errs = append(errs, c.validatePersistence()...)
	errs = append(errs, c.validateClaims()...)
	errs = append(errs, c.validateWS()...)

	return errs
}

func (c *Config) validatePersistence() []ValidationError {
	var errs []ValidationError
	p := c.Persistence

	switch p.Backend {
	case PersistenceHTTP:
		u, err := url.Parse(p.Endpoint)
		if p.Endpoint == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "persistence.endpoint",
				Value:   p.Endpoint,
				Message: "must be an absolute http(s) URL",
			})
		}
	case PersistenceSQLite:
		if p.SQLitePath == "" {
			errs = append(errs, ValidationError{Field: "persistence.sqlite_path", Value: p.SQLitePath, Message: "is required for the sqlite backend"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "persistence.backend",
			Value:   p.Backend,
			Message: fmt.Sprintf("must be one of: %s, %s", PersistenceHTTP, PersistenceSQLite),
		})
	}

	if p.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "persistence.timeout", Value: p.Timeout, Message: "must be non-negative"})
	}
	return errs
}

func (c *Config) validateClaims() []ValidationError {
	var errs []ValidationError
	switch c.Claims.Backend {
	case ClaimsMemory:
	case ClaimsRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, ValidationError{Field: "redis.addr", Value: c.Redis.Addr, Message: "is required for the redis backend"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "claims.backend",
			Value:   c.Claims.Backend,
			Message: fmt.Sprintf("must be one of: %s, %s", ClaimsMemory, ClaimsRedis),
		})
	}
	return errs
}

func (c *Config) validateWS() []ValidationError {
	var errs []ValidationError
	if c.WS.MaxConns < 0 {
		errs = append(errs, ValidationError{Field: "ws.max_conns", Value: c.WS.MaxConns, Message: "must be non-negative"})
	}
	if c.WS.IdleTimeout < 0 {
		errs = append(errs, ValidationError{Field: "ws.idle_timeout", Value: c.WS.IdleTimeout, Message: "must be non-negative"})
	}
	if c.WS.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "ws.rate_limit", Value: c.WS.RateLimit, Message: "must be non-negative"})
	}
	if c.WS.RateLimit > 0 && c.WS.RateWindow <= 0 {
		errs = append(errs, ValidationError{Field: "ws.rate_window", Value: c.WS.RateWindow, Message: "must be positive when ws.rate_limit is set"})
	}
	return errs
}
