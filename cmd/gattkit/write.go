package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/gattkit/internal/device"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <service-uuid> <char-uuid> <data>",
	Short: "Write to a characteristic",
	Long: fmt.Sprintf(`Writes data to a BLE characteristic.

Examples:
  # Write string data
  gattkit write %s 1815 2a56 "high"

  # Write hex data
  gattkit write %s 1815 2a56 01 --hex

  # Write without response (faster, no ACK)
  gattkit write %s 1815 2a56 "data" --without-response

  # Write a command and wait for the answer on another characteristic
  gattkit write %s ffe0 ffe1 0102 --hex --response ffe2

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(4),
	RunE: runWrite,
}

var (
	writeHex        bool
	writeNoResponse bool
	writeResponse   string
)

func init() {
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Parse input as hex string (e.g., 'FF01'); raw bytes by default")
	writeCmd.Flags().BoolVar(&writeNoResponse, "without-response", false, "Write without response (faster, no ACK); default waits for ACK")
	writeCmd.Flags().StringVar(&writeResponse, "response", "", "Characteristic UUID (same service) whose value update completes the write")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address := args[0]

	key, err := requestKey(args[1], args[2])
	if err != nil {
		return err
	}

	responseKey := device.NoneKey
	if writeResponse != "" {
		if responseKey, err = requestKey(args[1], writeResponse); err != nil {
			return err
		}
	}

	data, err := parseWriteData(args[3])
	if err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}

	mode := device.WithResponse
	if writeNoResponse {
		mode = device.WithoutResponse
	}

	a, err := startApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.connect(address)
	if err != nil {
		return err
	}
	defer a.disconnect(sess)

	a.logger.WithField("key", key.String()).WithField("bytes", len(data)).Debug("Writing")
	response, err := a.await(func(h device.ResultHandler) error {
		return sess.Write(key, data, mode, responseKey, h)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Write successful")
	if !responseKey.IsNone() {
		fmt.Fprintf(out, "%s: %s\n", responseKey.CharacteristicID, hex.EncodeToString(response))
	}
	return nil
}

// parseWriteData converts input string to bytes based on format flags
func parseWriteData(dataStr string) ([]byte, error) {
	if writeHex {
		// Remove spaces and common separators
		cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "0X", "").Replace(dataStr)

		data, err := hex.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return data, nil
	}

	return []byte(dataStr), nil
}
