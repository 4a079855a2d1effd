package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

// ValidationError represents a manifest validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate validates a Manifest
func Validate(m *Manifest) error {
	var errs ValidationErrors

	if m.APIVersion != "" && m.APIVersion != DefaultAPIVersion {
		errs = append(errs, ValidationError{
			Field:   "apiVersion",
			Message: fmt.Sprintf("unsupported version %q, expected %q", m.APIVersion, DefaultAPIVersion),
		})
	}

	if m.Kind != "" && m.Kind != DefaultKind {
		errs = append(errs, ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unsupported kind %q, expected %q", m.Kind, DefaultKind),
		})
	}

	seen := make(map[string]int)
	for i, t := range m.Tunnels {
		errs = append(errs, ValidateTunnel(t, fmt.Sprintf("tunnels[%d]", i))...)

		if t.Name == "" {
			continue
		}
		if first, dup := seen[t.Name]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("tunnels[%d].name", i),
				Message: fmt.Sprintf("duplicate name %q (also tunnels[%d])", t.Name, first),
			})
			continue
		}
		seen[t.Name] = i
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateTunnel validates a single tunnel, prefixing fields with path
func ValidateTunnel(t TunnelSpec, path string) ValidationErrors {
	var errs ValidationErrors
	field := func(name string) string { return path + "." + name }

	if t.Name == "" {
		errs = append(errs, ValidationError{Field: field("name"), Message: "required"})
	} else if !IsValidName(t.Name) {
		errs = append(errs, ValidationError{
			Field:   field("name"),
			Message: "must be lowercase alphanumeric with hyphens, max 63 chars",
		})
	}

	if t.Provider == "" {
		errs = append(errs, ValidationError{Field: field("provider"), Message: "required"})
	} else if _, ok := tunnel.Catalog[tunnel.ProviderName(t.Provider)]; !ok {
		errs = append(errs, ValidationError{
			Field:   field("provider"),
			Message: fmt.Sprintf("unknown provider %q (available: %s)", t.Provider, strings.Join(ProviderNames(), ", ")),
		})
	}

	if t.Port < 1 || t.Port > 65535 {
		errs = append(errs, ValidationError{Field: field("port"), Message: "must be between 1 and 65535"})
	}

	if t.Provider == string(tunnel.ProviderCloudflared) {
		switch tunnel.Mode(t.Mode) {
		case "", tunnel.ModeQuick, tunnel.ModeToken:
		case tunnel.ModeLocal:
			if t.TunnelName == "" {
				errs = append(errs, ValidationError{Field: field("tunnelName"), Message: "required for local mode"})
			}
			if t.Domain == "" {
				errs = append(errs, ValidationError{Field: field("domain"), Message: "required for local mode"})
			}
		default:
			errs = append(errs, ValidationError{
				Field:   field("mode"),
				Message: "must be quick, local, or token",
			})
		}
	} else if t.Mode != "" {
		errs = append(errs, ValidationError{Field: field("mode"), Message: "only applies to cloudflared"})
	}

	return errs
}

// ValidateWithWarnings validates a Manifest and returns warnings for non-critical issues
func ValidateWithWarnings(m *Manifest) ([]string, error) {
	var warnings []string

	for i, t := range m.Tunnels {
		if isPlaintext(t.Token) {
			warnings = append(warnings, fmt.Sprintf("tunnels[%d].token is stored in plain text - consider ${ENV_VAR} instead", i))
		}
		if isPlaintext(t.Secret) {
			warnings = append(warnings, fmt.Sprintf("tunnels[%d].secret is stored in plain text - consider ${ENV_VAR} instead", i))
		}
		if t.Subdomain != "" && t.Provider != string(tunnel.ProviderNgrok) {
			warnings = append(warnings, fmt.Sprintf("tunnels[%d].subdomain is ignored by %s", i, t.Provider))
		}
		if t.Secret != "" && t.Provider != string(tunnel.ProviderNgrok) && t.Provider != string(tunnel.ProviderNgrokGo) {
			warnings = append(warnings, fmt.Sprintf("tunnels[%d].secret is ignored by %s", i, t.Provider))
		}
	}

	if err := Validate(m); err != nil {
		return warnings, err
	}

	return warnings, nil
}

// ProviderNames lists the known provider names, sorted
func ProviderNames() []string {
	names := make([]string, 0, len(tunnel.Catalog))
	for _, info := range tunnel.Catalog {
		names = append(names, string(info.Name))
	}
	sort.Strings(names)
	return names
}

func isPlaintext(v string) bool {
	return v != "" && !strings.Contains(v, "$")
}

// IsValidName checks if a name is a valid tunnel name
func IsValidName(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}

	// Must start with lowercase letter
	if name[0] < 'a' || name[0] > 'z' {
		return false
	}

	// Must end with alphanumeric
	last := name[len(name)-1]
	if !((last >= 'a' && last <= 'z') || (last >= '0' && last <= '9')) {
		return false
	}

	// Can contain lowercase letters, numbers, and hyphens
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
			return false
		}
	}

	return true
}
