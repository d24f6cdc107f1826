// Package main is the entry point for the grooved daemon.
// grooved plays the tracks of a media directory, remembers where it left off
// across pages, and is driven over IPC, HTTP and OS media keys.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	configDir  string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:     "grooved",
	Short:   "grooved is a headless music player daemon.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(homeDir, ".config", "grooved")
		}
		if socketPath == "" {
			socketPath = fmt.Sprintf("/tmp/grooved-%d.sock", os.Getuid())
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "configuration directory (default: ~/.config/grooved)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "IPC socket path (default: /tmp/grooved-<uid>.sock)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
