package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bobbyrathoree/tunneldash/internal/config"
	"github.com/bobbyrathoree/tunneldash/internal/output"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate tunneldash.yaml",
	Long: `Validate tunneldash.yaml syntax and configuration.

This command checks your manifest for:
  - Valid YAML syntax and no unknown fields
  - Required fields (name, provider, port) and unique names
  - Provider specific options (cloudflared modes, ngrok secrets)
  - Credentials stored in plain text

Examples:
  tunneldash validate                    # Validate ./tunneldash.yaml
  tunneldash validate -f custom.yaml     # Validate specific file
  tunneldash validate --strict           # Fail on warnings (for CI)`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	strict, _ := cmd.Flags().GetBool("strict")

	m, file, err := loadManifest(cmd)
	if file == "" {
		file = config.DefaultConfigFile
	}

	result := output.ValidationResult{
		Valid: err == nil,
		File:  file,
	}

	if err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				result.Errors = append(result.Errors, e.Error())
			}
		} else {
			result.Errors = []string{err.Error()}
		}
	} else {
		result.Tunnels = len(m.Tunnels)
		result.Warnings, _ = config.ValidateWithWarnings(m)
	}

	// In strict mode, warnings count as failures
	if strict && len(result.Warnings) > 0 {
		result.Valid = false
	}

	if err := app.out.WriteValidation(result); err != nil {
		return err
	}

	switch {
	case len(result.Errors) > 0:
		return fmt.Errorf("validation failed")
	case !result.Valid:
		return fmt.Errorf("validation failed: %d warning(s) in strict mode", len(result.Warnings))
	}
	return nil
}

func init() {
	validateCmd.Flags().StringP("file", "f", "", "Path to tunneldash.yaml (default: ./tunneldash.yaml)")
	validateCmd.Flags().Bool("strict", false, "Treat warnings as errors (for CI pipelines)")
	rootCmd.AddCommand(validateCmd)
}
