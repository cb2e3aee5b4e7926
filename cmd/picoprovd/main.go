// Picoprovd is the WiFi provisioning daemon and CLI.
//
// With stored credentials it joins the configured network at startup;
// without them it opens a provisioning access point and a web
// configuration page, and falls back to CLI or terminal-wizard entry on
// hardware without AP support.
//
// See 'picoprovd --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/picoprov/picoprov/internal/logging"
	"github.com/picoprov/picoprov/internal/version"
)

func main() {
	if err := logging.InitializeFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging setup failed: %v\n", err)
	}
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "picoprovd",
	Short: "WiFi provisioning daemon",
	Long: `WiFi provisioning for headless devices.

On startup the daemon connects with stored credentials when it has
them. Otherwise it opens a temporary access point named PicoW-Setup
with a web page at 192.168.4.1 where a phone or laptop submits the
network name and password. Devices without AP-capable radios fall back
to credential entry over this CLI or the interactive wizard.`,
	Version: version.Version,
	Example: `  # Run the daemon
  picoprovd run

  # List nearby networks
  picoprovd scan

  # Store credentials manually (prompts for the passphrase)
  picoprovd set MyNetwork

  # Interactive terminal wizard
  picoprovd wizard`,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("picoprovd %s\n", version.Full())
	},
}
