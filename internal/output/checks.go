package output

import (
	"fmt"

	"github.com/gosuri/uitable"

	"github.com/bobbyrathoree/tunneldash/internal/tunnel"
)

// CheckStatus is the outcome of a doctor check
type CheckStatus string

const (
	CheckOK   CheckStatus = "ok"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is a single doctor check
type Check struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Hint    string      `json:"hint,omitempty"`
}

// CheckReport is the structured result of doctor
type CheckReport struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks"`
}

// NewCheckReport builds a report; it is OK when nothing failed
func NewCheckReport(checks []Check) CheckReport {
	ok := true
	for _, c := range checks {
		if c.Status == CheckFail {
			ok = false
		}
	}
	return CheckReport{OK: ok, Checks: checks}
}

func checkIcon(s CheckStatus) string {
	switch s {
	case CheckOK:
		return "✓"
	case CheckWarn:
		return "!"
	}
	return "✗"
}

// WriteChecks writes doctor results
func (w *Writer) WriteChecks(checks []Check) error {
	report := NewCheckReport(checks)
	if w.IsStructured() {
		return w.Encode(report)
	}

	for _, c := range checks {
		fmt.Fprintf(w.out, "%s %-22s %s\n", checkIcon(c.Status), c.Name, c.Message)
		if c.Hint != "" && c.Status != CheckOK {
			fmt.Fprintf(w.out, "  → %s\n", c.Hint)
		}
	}
	fmt.Fprintln(w.out)
	if report.OK {
		fmt.Fprintln(w.out, "All checks passed.")
	} else {
		fmt.Fprintln(w.out, "Some checks failed.")
	}
	return nil
}

// ProviderStatus describes a provider and whether it can run here
type ProviderStatus struct {
	tunnel.ProviderInfo
	Installed  bool   `json:"installed"`
	Path       string `json:"path,omitempty"`
	Credential bool   `json:"credential"`
}

// WriteProviders writes the provider list
func (w *Writer) WriteProviders(providers []ProviderStatus) error {
	if w.IsStructured() {
		return w.Encode(struct {
			Providers []ProviderStatus `json:"providers"`
		}{providers})
	}

	table := uitable.New()
	table.MaxColWidth = 70
	table.Wrap = true
	table.AddRow("NAME", "READY", "CREDENTIAL", "DESCRIPTION")
	for _, p := range providers {
		ready := "yes"
		if p.RequiresBinary() && !p.Installed {
			ready = "no (" + p.Binary + " not found)"
		}
		cred := "-"
		if p.TokenEnv != "" {
			cred = "not set"
			if p.Credential {
				cred = "set"
			}
		}
		table.AddRow(string(p.Name), ready, cred, p.Description)
	}
	fmt.Fprintln(w.out, table)
	return nil
}

// ValidationResult is the structured result of validate
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	File     string   `json:"file"`
	Tunnels  int      `json:"tunnels"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// WriteValidation writes validate results
func (w *Writer) WriteValidation(r ValidationResult) error {
	if w.IsStructured() {
		return w.Encode(r)
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(w.out, "! %s\n", warning)
	}
	if !r.Valid {
		for _, e := range r.Errors {
			fmt.Fprintf(w.out, "✗ %s\n", e)
		}
		return nil
	}
	fmt.Fprintf(w.out, "✓ %s is valid (%d %s)\n", r.File, r.Tunnels, pluralize(r.Tunnels, "tunnel"))
	return nil
}
