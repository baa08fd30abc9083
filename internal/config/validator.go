package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kestrel-social/kestrel/internal/domain/auth"
	"github.com/kestrel-social/kestrel/internal/domain/ratelimit"
)

// RegisterCustomValidators registers kestrel-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	for tag, fn := range map[string]validator.Func{
		"storage_dsn": validateStorageDSN,
		"window":      validateWindow,
		"dimension":   validateDimension,
		"hour":        validateHour,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateStorageDSN accepts ":memory:", a "file:" URI with a path, or a
// plain file path. Network URLs are rejected.
func validateStorageDSN(fl validator.FieldLevel) bool {
	dsn := strings.TrimSpace(fl.Field().String())
	switch {
	case dsn == "":
		return false
	case dsn == ":memory:":
		return true
	case strings.HasPrefix(dsn, "file:"):
		path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
		return path != ""
	default:
		return !strings.Contains(dsn, "://")
	}
}

func validateWindow(fl validator.FieldLevel) bool {
	return ratelimit.Window(fl.Field().String()).Valid()
}

func validateDimension(fl validator.FieldLevel) bool {
	return ratelimit.Dimension(fl.Field().String()).Valid()
}

func validateHour(fl validator.FieldLevel) bool {
	h := fl.Field().Int()
	return h >= 0 && h <= 23
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateTLS(); err != nil {
		return err
	}
	if err := c.validateRules(); err != nil {
		return err
	}
	if err := c.validateCallers(); err != nil {
		return err
	}
	if c.Autopilot.Backoff.Max < c.Autopilot.Backoff.Initial {
		return errors.New("autopilot.backoff: max must not be below initial")
	}
	return nil
}

// validateProvider requires stored credentials for the real platform client.
func (c *Config) validateProvider() error {
	if c.Provider.Kind != "xapi" {
		return nil
	}
	if c.Provider.CredentialsFile == "" {
		return errors.New("provider.credentials_file is required for provider kind xapi")
	}
	if c.Provider.OAuth.ClientID == "" {
		return errors.New("provider.oauth.client_id is required for provider kind xapi")
	}
	return nil
}

// validateTLS ensures cert_file and key_file are set together.
func (c *Config) validateTLS() error {
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		return errors.New("server.tls: specify both cert_file and key_file, or neither")
	}
	return nil
}

// validateRules checks what struct tags cannot: unique IDs, and that only
// deny rules are hard.
func (c *Config) validateRules() error {
	seen := make(map[string]struct{}, len(c.Policy.Rules))
	for i, r := range c.Policy.Rules {
		key := r.ID
		if key == "" {
			key = r.Name
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("policy.rules[%d]: duplicate rule id %q", i, key)
		}
		seen[key] = struct{}{}
		if r.Hard && r.Action != "deny" {
			return fmt.Errorf("policy.rules[%d]: only deny rules can be hard", i)
		}
	}
	return nil
}

// validateCallers rejects duplicate IDs and hashes in an unknown format.
func (c *Config) validateCallers() error {
	seen := make(map[string]struct{}, len(c.Callers))
	for i, caller := range c.Callers {
		if _, dup := seen[caller.ID]; dup {
			return fmt.Errorf("callers[%d]: duplicate id %q", i, caller.ID)
		}
		seen[caller.ID] = struct{}{}
		if auth.DetectHashType(caller.KeyHash) == "unknown" {
			return fmt.Errorf("callers[%d]: key_hash must be an argon2id PHC string or sha256:<hex>", i)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gt", "lt", "lte":
		return fmt.Sprintf("%s is out of range (%s %s)", field, e.Tag(), e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "file":
		return fmt.Sprintf("%s must be an existing file", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "storage_dsn":
		return fmt.Sprintf("%s must be a file path, a file: URI or :memory:", field)
	case "window":
		return fmt.Sprintf("%s must be 'hour' or 'day'", field)
	case "dimension":
		return fmt.Sprintf("%s must be one of: endpoint author keyword engagement", field)
	case "hour":
		return fmt.Sprintf("%s must be an hour between 0 and 23", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
