package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "gattkit",
	Short: "Bluetooth Low Energy GATT client",
	Long: `Bluetooth Low Energy (BLE) GATT client that provides:

- Scan and discover nearby BLE peripherals
- Read from and write to characteristics
- Stream characteristic notifications

Every operation is queued and executed one at a time, with discovery performed
on demand. Set "driver: simulator" in a config file to run against simulated
peripherals instead of the radio.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(subscribeCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("driver", "", "Transport driver (go-ble, tinygo, simulator); overrides the config file")
	rootCmd.PersistentFlags().Duration("op-timeout", 0, "Per-operation timeout; overrides the config file (0 keeps the configured value)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
