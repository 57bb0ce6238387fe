package devicefactory

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/internal/device"
	"github.com/srg/gattkit/internal/device/go-ble"
	"github.com/srg/gattkit/internal/device/tinygo"
	"github.com/srg/gattkit/internal/session"
	"github.com/srg/gattkit/internal/simulator"
	"github.com/srg/gattkit/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stubConfig = `
driver: simulator
operation_timeout: 500ms
connect_timeout: 1s
stub:
  devices:
    - id: "AA:BB:CC:DD:EE:FF"
      name: Thermometer
      services:
        - uuid: "1809"
          characteristics:
            - uuid: "2A1C"
              properties: read
              value: [1, 2, 3]
`

func TestNewTransport(t *testing.T) {
	logger := logrus.New()

	tests := []struct {
		name    string
		driver  string
		check   func(t *testing.T, tr device.Transport)
		wantErr bool
	}{
		{
			name:   "go-ble",
			driver: config.DriverGoBLE,
			check: func(t *testing.T, tr device.Transport) {
				assert.IsType(t, &goble.Transport{}, tr)
			},
		},
		{
			name:   "tinygo",
			driver: config.DriverTinyGo,
			check: func(t *testing.T, tr device.Transport) {
				assert.IsType(t, &tinygo.Transport{}, tr)
			},
		},
		{
			name:   "simulator",
			driver: config.DriverSimulator,
			check: func(t *testing.T, tr device.Transport) {
				assert.IsType(t, &simulator.Simulator{}, tr)
			},
		},
		{name: "unknown", driver: "carrier-pigeon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Driver = tt.driver

			tr, err := NewTransport(cfg, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, tr)
		})
	}
}

func TestNewTransportRejectsBadStubDevice(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Stub.Enabled = true
	cfg.Stub.Devices = []simulator.PeripheralProfile{{ID: "X", Services: []simulator.ServiceProfile{{UUID: "not-a-uuid"}}}}

	_, err := NewTransport(cfg, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stub device 0")
}

func TestNewCoordinatorWithStubDevices(t *testing.T) {
	cfg, err := config.Parse([]byte(stubConfig))
	require.NoError(t, err)

	c, tr, err := NewCoordinator(cfg, logrus.New())
	require.NoError(t, err)
	require.IsType(t, &simulator.Simulator{}, tr)
	assert.Equal(t, device.TimeoutAfter(500*time.Millisecond), c.TimeoutPolicy())

	require.NoError(t, c.Init(context.Background()))
	defer func() { assert.NoError(t, c.Shutdown()) }()

	connected := make(chan error, 1)
	require.NoError(t, c.Connect("AA:BB:CC:DD:EE:FF", func(_ *session.Session, err error) { connected <- err }))
	require.NoError(t, <-connected)

	values := make(chan []byte, 1)
	sess := c.Session("AA:BB:CC:DD:EE:FF")
	require.NoError(t, sess.Read(device.NewRequestKey("1809", "2A1C"), func(v []byte, err error) {
		assert.NoError(t, err)
		values <- v
	}))

	select {
	case v := <-values:
		assert.Equal(t, []byte{1, 2, 3}, v)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not complete")
	}
}
