package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// decryptSops runs sops and returns the decrypted document as JSON
var decryptSops = func(path string) ([]byte, error) {
	if _, err := exec.LookPath("sops"); err != nil {
		return nil, fmt.Errorf("sops not found in PATH\n  → Install sops: https://github.com/getsops/sops\n  → Run 'tunneldash doctor' to check your setup")
	}

	output, err := exec.Command("sops", "-d", "--output-type", "json", path).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr := strings.TrimSpace(string(exitErr.Stderr))
			if strings.Contains(stderr, "could not decrypt") || strings.Contains(stderr, "key") {
				return nil, fmt.Errorf("failed to decrypt %s: missing decryption key\n  → Ensure your age/GPG key is configured in ~/.sops.yaml or SOPS_AGE_KEY_FILE", path)
			}
			return nil, fmt.Errorf("sops decryption failed: %s", stderr)
		}
		return nil, fmt.Errorf("failed to run sops: %w", err)
	}
	return output, nil
}

// LoadSopsFile decrypts a SOPS-encrypted YAML, JSON or dotenv file and
// returns its values keyed as environment variables. Nested keys are joined
// with underscores and upper-cased: {ngrok: {authtoken: x}} -> NGROK_AUTHTOKEN.
func LoadSopsFile(path string) (map[string]string, error) {
	output, err := decryptSops(path)
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	if err := json.Unmarshal(output, &data); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted output: %w", err)
	}

	result := make(map[string]string)
	flattenMap("", data, result)

	for k := range result {
		if !isValidEnvKey(k) {
			return nil, fmt.Errorf("%s: key %q is not a valid environment variable name", path, k)
		}
	}
	return result, nil
}

func flattenMap(prefix string, data map[string]interface{}, result map[string]string) {
	for key, value := range data {
		// sops metadata
		if prefix == "" && key == "sops" {
			continue
		}
		fullKey := strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if prefix != "" {
			fullKey = prefix + "_" + fullKey
		}

		switch v := value.(type) {
		case string:
			result[fullKey] = v
		case float64, bool:
			result[fullKey] = fmt.Sprintf("%v", v)
		case map[string]interface{}:
			flattenMap(fullKey, v, result)
		case nil:
			result[fullKey] = ""
		default:
			if b, err := json.Marshal(v); err == nil {
				result[fullKey] = string(b)
			}
		}
	}
}
