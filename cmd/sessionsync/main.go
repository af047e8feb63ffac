package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sessionsync",
	Short: "sessionsync - WhatsApp session state reconciliation for the CRM",
	Long: `sessionsync keeps the CRM's session records in agreement with the
WhatsApp session host. It adopts orphan sessions, marks vanished ones
disconnected, syncs status drift and provisions new sessions DB-first.

Run "sessionsync serve" for the long-running service. The other commands
talk to a running server over its HTTP API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"sessionsync version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file (default: ./sessionsync.yaml, ~/.sessionsync, /etc/sessionsync)")
	rootCmd.PersistentFlags().String("server", envOr("SESSIONSYNC_SERVER", "localhost:8080"), "sessionsync API address")
	rootCmd.PersistentFlags().String("token", os.Getenv("SESSIONSYNC_API_TOKEN"), "API bearer token")
	rootCmd.PersistentFlags().StringP("output", "o", formatTable, "Output format: table, json or yaml")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sessionsync %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
