// Chandra — sandboxed lesson script runtime for interactive education.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chandra",
	Short: "Chandra — sandboxed lesson script runtime and session orchestrator.",
	Long: `Chandra runs interactive lesson scripts in a capability-restricted sandbox.
Lessons react to hand-gesture events and clock ticks, keep per-session state,
and are hot-reloaded from disk as authors edit them. A faulting lesson never
affects its neighbors; sessions exceeding their error budget stop themselves.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, createCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
