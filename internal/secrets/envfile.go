// Package secrets loads provider credentials from dotenv and SOPS files
// and keeps them out of printed output.
package secrets

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadEnvFile parses a .env file and returns key-value pairs
// Supports:
//   - KEY=value
//   - KEY="quoted value"
//   - KEY='single quoted'
//   - export KEY=value
//   - # comments
//   - Empty lines
func LoadEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	result := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value
		key, value, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		result[key] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	return result, nil
}

// parseLine parses a single KEY=value line
func parseLine(line string) (string, string, error) {
	// Find the first =
	idx := strings.Index(line, "=")
	if idx == -1 {
		return "", "", fmt.Errorf("invalid format: missing '=' in %q", line)
	}

	key := strings.TrimSpace(line[:idx])
	key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
	value := line[idx+1:]

	// Validate key
	if key == "" {
		return "", "", fmt.Errorf("empty key")
	}
	if !isValidEnvKey(key) {
		return "", "", fmt.Errorf("invalid key %q: must be alphanumeric with underscores", key)
	}

	// Handle quoted values
	value = strings.TrimSpace(value)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}

	return key, value, nil
}

// isValidEnvKey checks if a key is a valid environment variable name
func isValidEnvKey(key string) bool {
	if len(key) == 0 {
		return false
	}
	// First char must be letter or underscore
	if !isLetter(key[0]) && key[0] != '_' {
		return false
	}
	// Rest must be alphanumeric or underscore
	for i := 1; i < len(key); i++ {
		if !isAlphanumeric(key[i]) && key[i] != '_' {
			return false
		}
	}
	return true
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isAlphanumeric(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9')
}

// IsSopsFile reports whether path looks like a SOPS-encrypted file
// (secrets.sops.yaml, creds.sops.json, .env.sops)
func IsSopsFile(path string) bool {
	base := filepath.Base(path)
	return strings.Contains(base, ".sops.") || strings.HasSuffix(base, ".sops")
}

// Load reads secrets from path, decrypting it with sops when the name
// says it is encrypted
func Load(path string) (map[string]string, error) {
	if IsSopsFile(path) {
		return LoadSopsFile(path)
	}
	return LoadEnvFile(path)
}

// Apply exports values into the process environment. Variables that are
// already set win. It returns the keys that were applied, sorted.
func Apply(values map[string]string) ([]string, error) {
	var applied []string
	for k, v := range values {
		if _, exists := os.LookupEnv(k); exists {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return applied, fmt.Errorf("failed to set %s: %w", k, err)
		}
		applied = append(applied, k)
	}
	sort.Strings(applied)
	return applied, nil
}

// LoadAndApply loads path and exports its values into the environment
func LoadAndApply(path string) ([]string, error) {
	values, err := Load(path)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("secrets file %s is empty", path)
	}
	return Apply(values)
}

// Mask shortens a credential for display, keeping a recognisable prefix
func Mask(value string) string {
	switch {
	case value == "":
		return ""
	case len(value) <= 8:
		return "****"
	default:
		return value[:4] + "****"
	}
}
