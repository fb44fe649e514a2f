package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ivrtester",
	Short: "Automated IVR navigation tester",
	Long: `ivrtester places an outbound call to an IVR, listens to its prompts and
lets a decision policy press keys, speak or hang up until the menu is navigated.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Optional config file (env vars take precedence)")
}
