package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/gattkit/internal/central"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/session"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Devices are listed in the order they were discovered, with their names,
addresses, RSSI values and advertised services.

Examples:
  # Scan for 10 seconds
  gattkit scan -d 10s

  # Only devices advertising the Heart Rate service, as JSON
  gattkit scan -s 180d -f json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration   time.Duration
	scanFormat     string
	scanServices   []string
	scanAllowList  []string
	scanBlockList  []string
	scanDuplicates bool
	scanMinRSSI    int
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 5*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanDuplicates, "duplicates", false, "Report repeated advertisements (log only)")
	scanCmd.Flags().IntVar(&scanMinRSSI, "min-rssi", 0, "Hide devices weaker than this RSSI (e.g. -80); 0 disables")
}

// scanEntry is the JSON form of one discovered device.
type scanEntry struct {
	Address     string   `json:"address"`
	Name        string   `json:"name"`
	RSSI        int      `json:"rssi"`
	Connectable bool     `json:"connectable"`
	Services    []string `json:"services"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	var serviceUUIDs []string
	if len(scanServices) > 0 {
		var err error
		serviceUUIDs, err = device.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("--services: %w", err)
		}
	}

	a, err := startApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := central.ScanOptions{
		Timeout:         scanDuration,
		Services:        serviceUUIDs,
		AllowDuplicates: scanDuplicates,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	}
	if scanMinRSSI != 0 {
		minRSSI := scanMinRSSI
		opts.Filter = func(adv device.Advertisement) bool { return adv.RSSI >= minRSSI }
	}

	type outcome struct {
		found []*session.Session
		err   error
	}
	done := make(chan outcome, 1)
	a.central.Scan(opts, func(s *session.Session) {
		a.logger.WithField("device", s.ID()).WithField("rssi", s.RSSI()).Debug("Advertisement")
	}, func(found []*session.Session, err error) {
		done <- outcome{found, err}
	})

	var result outcome
	select {
	case result = <-done:
	case <-a.ctx.Done():
		fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling scan...")
		a.central.StopScan()
		result = <-done
	}
	if result.err != nil {
		return result.err
	}

	entries := make([]scanEntry, 0, len(result.found))
	for _, s := range result.found {
		adv := s.Advertisement()
		entries = append(entries, scanEntry{
			Address:     s.ID(),
			Name:        adv.Name,
			RSSI:        adv.RSSI,
			Connectable: adv.Connectable,
			Services:    adv.Services,
		})
	}

	if scanFormat == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), entries)
	}
	return displayDevicesTable(cmd.OutOrStdout(), entries)
}

func displayDevicesTable(out io.Writer, entries []scanEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES")

	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(e.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, e.Address, e.RSSI, services)
	}

	return w.Flush()
}

func displayDevicesJSON(out io.Writer, entries []scanEntry) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
