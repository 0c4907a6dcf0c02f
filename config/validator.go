package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the global validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("env", validateEnvironment)
	_ = validate.RegisterValidation("file_exists", validateFileExists)
	_ = validate.RegisterValidation("dir_exists", validateDirExists)
	_ = validate.RegisterValidation("host", validateHost)
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails performs validation and returns detailed errors.
func ValidateWithDetails(cfg *Config) error {
	var details ValidationErrors
	if err := validate.Struct(cfg); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		for _, fe := range validationErrors {
			details = append(details, ConfigError{
				Field:   fe.Namespace(),
				Message: formatValidationError(fe),
				Value:   fe.Value(),
			})
		}
	}
	details = append(details, crossFieldErrors(cfg)...)
	if len(details) > 0 {
		return details
	}
	return nil
}

// crossFieldErrors checks constraints spanning several fields.
func crossFieldErrors(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	if cfg.Prompt.MinimalBudget > cfg.Prompt.FullBudget {
		errs = append(errs, ConfigError{
			Field:   "Config.Prompt.MinimalBudget",
			Message: "must not exceed full_budget",
			Value:   cfg.Prompt.MinimalBudget,
		})
	}
	if cfg.Tiers.Embedder.Provider == "ollama" {
		if cfg.Tiers.Embedder.BaseURL == "" {
			errs = append(errs, ConfigError{
				Field:   "Config.Tiers.Embedder.BaseURL",
				Message: "is required for the ollama provider",
				Value:   "",
			})
		}
		if cfg.Tiers.Embedder.Model == "" {
			errs = append(errs, ConfigError{
				Field:   "Config.Tiers.Embedder.Model",
				Message: "is required for the ollama provider",
				Value:   "",
			})
		}
	}
	if cfg.Prompt.Watch && cfg.Prompt.TemplateDir == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Prompt.TemplateDir",
			Message: "is required when watch is enabled",
			Value:   "",
		})
	}
	if g := cfg.Server.GRPC; (g.CertFile == "") != (g.KeyFile == "") {
		errs = append(errs, ConfigError{
			Field:   "Config.Server.GRPC.CertFile",
			Message: "cert_file and key_file must be set together",
			Value:   g.CertFile,
		})
	}
	if ka := cfg.Server.GRPC.Keepalive; ka.Time > 0 && ka.Timeout >= ka.Time {
		errs = append(errs, ConfigError{
			Field:   "Config.Server.GRPC.Keepalive.Timeout",
			Message: "must be shorter than keepalive.time",
			Value:   ka.Timeout,
		})
	}
	if !cfg.Tiers.WorkingMemory.InMemory && cfg.Tiers.WorkingMemory.Path == "" {
		errs = append(errs, ConfigError{
			Field:   "Config.Tiers.WorkingMemory.Path",
			Message: "is required unless in_memory is set",
			Value:   "",
		})
	}
	return errs
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "file_exists":
		return "file does not exist"
	case "dir_exists":
		return "directory does not exist"
	case "host":
		return "is not a valid host"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// validateEnvironment is a custom validator for environment values.
func validateEnvironment(fl validator.FieldLevel) bool {
	env := fl.Field().String()
	validEnvs := []string{"development", "staging", "production"}
	for _, valid := range validEnvs {
		if env == valid {
			return true
		}
	}
	return false
}

// validateFileExists accepts an empty path or a path naming a regular file.
func validateFileExists(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// validateDirExists accepts an empty path or a path naming a directory.
func validateDirExists(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// validateHost accepts hostnames, IPv4/IPv6 addresses and host:port pairs.
func validateHost(fl validator.FieldLevel) bool {
	for _, r := range fl.Field().String() {
		if !isValidHostChar(r) {
			return false
		}
	}
	return true
}

func isValidHostChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-', r == '.', r == ':', r == '_', r == '[', r == ']':
		return true
	}
	return false
}
