package main

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/gattkit/internal/device"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address> <service-uuid> <char-uuid>[,<char-uuid>...]",
	Short: "Subscribe to characteristic notifications",
	Long: fmt.Sprintf(`Subscribes to BLE characteristic notifications and prints every value
as a "<uuid>: <hex>" line.

The command runs until Ctrl+C, --count values were received, or --duration
elapsed. Notifications are disabled before the link is closed.

Examples:
  # Stream heart rate measurements
  gattkit subscribe %s 180d 2a37

  # Take 10 samples from two characteristics
  gattkit subscribe %s ff30 ff31,ff32 --count 10

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(3),
	RunE: runSubscribe,
}

var (
	subscribeCount    int
	subscribeDuration time.Duration
)

func init() {
	subscribeCmd.Flags().IntVarP(&subscribeCount, "count", "n", 0, "Stop after this many values; 0 streams until interrupted")
	subscribeCmd.Flags().DurationVarP(&subscribeDuration, "duration", "d", 0, "Stop after this long; 0 streams until interrupted")
}

type notification struct {
	key   device.RequestKey
	value []byte
	err   error
}

func runSubscribe(cmd *cobra.Command, args []string) error {
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

	lost := make(chan error, 1)
	sess.OnDisconnect(func(id string, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	values := make(chan notification, 64)
	done := make(chan struct{})
	defer close(done)
	for _, key := range keys {
		key := key
		err := sess.Notify(key, true, func(v []byte, err error) {
			select {
			case values <- notification{key: key, value: v, err: err}:
			case <-done:
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", key, err)
		}
	}

	var deadline <-chan time.Time
	if subscribeDuration > 0 {
		timer := time.NewTimer(subscribeDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	out := cmd.OutOrStdout()
	received := 0
loop:
	for subscribeCount == 0 || received < subscribeCount {
		select {
		case n := <-values:
			if n.err != nil {
				return fmt.Errorf("subscription to %s failed: %w", n.key, n.err)
			}
			fmt.Fprintf(out, "%s: %s\n", n.key.CharacteristicID, hex.EncodeToString(n.value))
			received++
		case err := <-lost:
			a.logger.WithError(err).WithField("device", address).Debug("Link lost during subscription")
			return fmt.Errorf("%w: %s", ErrConnectionLost, address)
		case <-deadline:
			break loop
		case <-a.ctx.Done():
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, unsubscribing...")
			break loop
		}
	}

	for _, key := range keys {
		if err := sess.Notify(key, false, nil); err != nil {
			a.logger.WithError(err).WithField("key", key.String()).Debug("Unsubscribe skipped")
		}
	}
	a.disconnect(sess)
	return nil
}
