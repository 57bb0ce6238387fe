package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/gattkit/internal/device"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <service-uuid> <char-uuid>[,<char-uuid>...]",
	Short: "Read characteristic values",
	Long: fmt.Sprintf(`Reads one or more characteristics of a service.

Services and characteristics are discovered on demand. When several
characteristics are given, the reads are queued together and printed as
"<uuid>: <hex>" lines in the order requested.

Examples:
  # Read the battery level
  gattkit read %s 180f 2a19 --hex

  # Read manufacturer and model strings
  gattkit read %s 180a 2a29,2a24 --decode

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(3),
	RunE: runRead,
}

var (
	readHex    bool
	readDecode bool
)

func init() {
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Print the value as hex; raw bytes by default")
	readCmd.Flags().BoolVar(&readDecode, "decode", false, "Decode well-known characteristics (battery level, strings, ...) as \"<name>: <value>\"")
}

func runRead(cmd *cobra.Command, args []string) error {
	address := args[0]
	chars := splitList(args[2])
	if len(chars) == 0 {
		return fmt.Errorf("at least one characteristic UUID is required")
	}

	keys := make([]device.RequestKey, 0, len(chars))
	for _, char := range chars {
		key, err := requestKey(args[1], char)
		if err != nil {
			return err
		}
		keys = append(keys, key)
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

	// Submit everything first so the reads share one discovery pass
	type outcome struct {
		value []byte
		err   error
	}
	results := make([]chan outcome, len(keys))
	for i, key := range keys {
		ch := make(chan outcome, 1)
		results[i] = ch
		if err := sess.Read(key, func(v []byte, err error) { ch <- outcome{v, err} }); err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}
	}

	out := cmd.OutOrStdout()
	for i, key := range keys {
		var o outcome
		select {
		case o = <-results[i]:
		case <-a.ctx.Done():
			return a.ctx.Err()
		}
		if o.err != nil {
			return fmt.Errorf("failed to read %s: %w", key, o.err)
		}

		switch {
		case readDecode:
			fmt.Fprintln(out, describeValue(key, o.value))
		case len(keys) > 1:
			fmt.Fprintf(out, "%s: %s\n", key.CharacteristicID, hex.EncodeToString(o.value))
		case readHex:
			fmt.Fprintln(out, hex.EncodeToString(o.value))
		default:
			_, _ = out.Write(o.value)
		}
	}
	return nil
}

// describeValue renders value with the characteristic's SIG name and format,
// falling back to hex for unknown formats.
func describeValue(key device.RequestKey, value []byte) string {
	label := device.KnownName(key.CharacteristicID)
	if label == "" {
		label = key.CharacteristicID
	}
	decoded, ok, err := device.DecodeValue(key.CharacteristicID, value)
	if !ok || err != nil {
		decoded = hex.EncodeToString(value)
	}
	return label + ": " + decoded
}

// splitList splits a comma-separated argument, dropping empty items.
func splitList(arg string) []string {
	var items []string
	for _, item := range strings.Split(arg, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
