package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// VersionInfo is the structured form of `tunneldash version`
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print tunneldash version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		short, _ := cmd.Flags().GetBool("short")
		info := VersionInfo{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
			Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		}

		// Structured output
		if app.out.IsStructured() {
			return app.out.Encode(info)
		}

		out := cmd.OutOrStdout()

		// Short text output
		if short {
			fmt.Fprintln(out, info.Version)
			return nil
		}

		// Full text output
		fmt.Fprintf(out, "tunneldash version %s\n", info.Version)
		fmt.Fprintf(out, "  git commit: %s\n", info.GitCommit)
		fmt.Fprintf(out, "  build date: %s\n", info.BuildDate)
		fmt.Fprintf(out, "  go version: %s\n", info.GoVersion)
		fmt.Fprintf(out, "  platform:   %s\n", info.Platform)
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("short", false, "Print just the version number")
	rootCmd.AddCommand(versionCmd)
}
