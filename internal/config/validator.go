package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/pairpad/internal/conflict"
	"github.com/Iron-Ham/pairpad/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.max_participants")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidStoreKinds returns the accepted store.kind values
func ValidStoreKinds() []string {
	return []string{"memory", "file"}
}

// ValidBroadcastKinds returns the accepted broadcast.kind values
func ValidBroadcastKinds() []string {
	return []string{"local", "redis"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateDocument()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateBroadcast()...)

	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if _, err := conflict.ParsePolicy(c.Session.ConflictResolution); err != nil {
		valid := make([]string, 0, 3)
		for _, p := range conflict.ValidPolicies() {
			valid = append(valid, string(p))
		}
		errors = append(errors, ValidationError{
			Field:   "session.conflict_resolution",
			Value:   c.Session.ConflictResolution,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(valid, ", ")),
		})
	}

	if c.Session.MaxParticipants < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.max_participants",
			Value:   c.Session.MaxParticipants,
			Message: "must be at least 1",
		})
	}

	if c.Session.TimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.timeout_minutes",
			Value:   c.Session.TimeoutMinutes,
			Message: "must be non-negative (0 disables expiry)",
		})
	}

	for i, pattern := range c.Session.ReadOnlyPatterns {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("session.read_only_patterns[%d]", i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}

	return errors
}

func (c *Config) validateDocument() []ValidationError {
	var errors []ValidationError

	if c.Document.OpLogSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "document.op_log_size",
			Value:   c.Document.OpLogSize,
			Message: "must be at least 1",
		})
	}

	// Each entry holds a full batch; keep memory per file bounded
	const maxOpLogSize = 100000
	if c.Document.OpLogSize > maxOpLogSize {
		errors = append(errors, ValidationError{
			Field:   "document.op_log_size",
			Value:   c.Document.OpLogSize,
			Message: fmt.Sprintf("exceeds maximum of %d", maxOpLogSize),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(logging.ValidLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStoreKinds(), c.Store.Kind) {
		errors = append(errors, ValidationError{
			Field:   "store.kind",
			Value:   c.Store.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStoreKinds(), ", ")),
		})
	}

	if strings.ContainsRune(c.Store.Dir, 0) {
		errors = append(errors, ValidationError{
			Field:   "store.dir",
			Value:   c.Store.Dir,
			Message: "must not contain NUL bytes",
		})
	}

	return errors
}

func (c *Config) validateBroadcast() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidBroadcastKinds(), c.Broadcast.Kind) {
		errors = append(errors, ValidationError{
			Field:   "broadcast.kind",
			Value:   c.Broadcast.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBroadcastKinds(), ", ")),
		})
	}

	// Redis settings only matter when Redis is selected
	if c.Broadcast.Kind != "redis" {
		return errors
	}

	if c.Broadcast.RedisAddr == "" || !strings.Contains(c.Broadcast.RedisAddr, ":") {
		errors = append(errors, ValidationError{
			Field:   "broadcast.redis_addr",
			Value:   c.Broadcast.RedisAddr,
			Message: "must be host:port",
		})
	}

	if c.Broadcast.RedisDB < 0 {
		errors = append(errors, ValidationError{
			Field:   "broadcast.redis_db",
			Value:   c.Broadcast.RedisDB,
			Message: "must be non-negative",
		})
	}

	if c.Broadcast.ChannelPrefix == "" || strings.ContainsAny(c.Broadcast.ChannelPrefix, " *?[") {
		errors = append(errors, ValidationError{
			Field:   "broadcast.channel_prefix",
			Value:   c.Broadcast.ChannelPrefix,
			Message: "must be non-empty and free of spaces and glob characters",
		})
	}

	if c.Broadcast.PublishTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "broadcast.publish_timeout_ms",
			Value:   c.Broadcast.PublishTimeoutMs,
			Message: "must be positive",
		})
	}

	return errors
}
