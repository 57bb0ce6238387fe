package simulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/gattkit/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkFunc func(device.Event)

func (f sinkFunc) HandleEvent(ev device.Event) { f(ev) }

var levelKey = device.NewRequestKey("180F", "2A19")

func startSimulator(t *testing.T, opts Options, profiles ...PeripheralProfile) (*Simulator, <-chan device.Event) {
	t.Helper()
	sim := New(nil, opts)
	for _, p := range profiles {
		_, err := sim.AddPeripheral(p)
		require.NoError(t, err)
	}

	events := make(chan device.Event, 32)
	require.NoError(t, sim.Start(context.Background(), sinkFunc(func(ev device.Event) { events <- ev })))
	t.Cleanup(func() { _ = sim.Stop() })

	ev := next(t, events)
	require.Equal(t, device.PowerStateEvent{State: device.PowerOn}, ev, "Start MUST announce the power state")
	return sim, events
}

func next(t *testing.T, events <-chan device.Event) device.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func batteryProfile() PeripheralProfile {
	return PeripheralProfile{
		ID:   "AA:BB",
		Name: "Battery",
		Services: []ServiceProfile{{
			UUID: "180F",
			Characteristics: []CharacteristicProfile{
				{UUID: "2A19", Properties: "read,notify", Value: []byte{50}},
			},
		}},
	}
}

func TestAddPeripheral(t *testing.T) {
	tests := []struct {
		name    string
		profile PeripheralProfile
		wantErr string
	}{
		{name: "valid profile", profile: batteryProfile()},
		{
			name:    "invalid service uuid",
			profile: PeripheralProfile{ID: "X", Services: []ServiceProfile{{UUID: "zz"}}},
			wantErr: "service",
		},
		{
			name: "invalid properties",
			profile: PeripheralProfile{ID: "X", Services: []ServiceProfile{{
				UUID:            "180F",
				Characteristics: []CharacteristicProfile{{UUID: "2A19", Properties: "read,fly"}},
			}}},
			wantErr: "invalid characteristic properties",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := New(nil, Options{}).AddPeripheral(tt.profile)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.profile.ID, id)
		})
	}
}

func TestAddPeripheralAssignsID(t *testing.T) {
	id, err := New(nil, Options{}).AddPeripheral(PeripheralProfile{Name: "anonymous"})
	require.NoError(t, err)
	assert.NotEmpty(t, id, "empty ID MUST be replaced")
}

func TestGATTRoundTrip(t *testing.T) {
	sim, events := startSimulator(t, Options{}, batteryProfile())

	require.NoError(t, sim.Connect("AA:BB", device.ConnectOptions{}))
	assert.Equal(t, device.ConnectedEvent{Device: "AA:BB"}, next(t, events))

	require.NoError(t, sim.DiscoverServices("AA:BB", nil))
	assert.Equal(t, device.ServicesDiscoveredEvent{Device: "AA:BB", Services: []string{"180f"}}, next(t, events))

	require.NoError(t, sim.ReadCharacteristic("AA:BB", levelKey))
	assert.Equal(t, device.ValueUpdatedEvent{Device: "AA:BB", Key: levelKey, Value: []byte{50}}, next(t, events))

	require.NoError(t, sim.SetNotify("AA:BB", levelKey, true))
	assert.Equal(t, device.NotifyStateEvent{Device: "AA:BB", Key: levelKey, Enabled: true}, next(t, events))
	require.NoError(t, sim.Notify("AA:BB", levelKey, []byte{49}))
	assert.Equal(t, device.ValueUpdatedEvent{Device: "AA:BB", Key: levelKey, Value: []byte{49}}, next(t, events))

	assert.Equal(t, 1, sim.MaxInFlight())
	assert.Equal(t, 1, sim.CountCalls("read"))
}

func TestRequestFailures(t *testing.T) {
	sim, events := startSimulator(t, Options{}, batteryProfile())

	t.Run("not connected", func(t *testing.T) {
		err := sim.ReadCharacteristic("AA:BB", levelKey)
		assert.ErrorIs(t, err, device.ErrNotConnected)
	})

	require.NoError(t, sim.Connect("AA:BB", device.ConnectOptions{}))
	next(t, events)

	t.Run("property mismatch is an outcome", func(t *testing.T) {
		require.NoError(t, sim.WriteCharacteristic("AA:BB", levelKey, []byte{1}, device.WithResponse))
		ack, ok := next(t, events).(device.WriteAckEvent)
		require.True(t, ok)
		assert.ErrorIs(t, ack.Err, device.ErrPropertyMismatch)
	})

	t.Run("unknown characteristic", func(t *testing.T) {
		require.NoError(t, sim.ReadCharacteristic("AA:BB", device.NewRequestKey("180F", "2A1B")))
		ev, ok := next(t, events).(device.ValueUpdatedEvent)
		require.True(t, ok)
		assert.ErrorIs(t, ev.Err, device.ErrCharacteristicNotFound)
	})

	t.Run("notify without subscription", func(t *testing.T) {
		assert.Error(t, sim.Notify("AA:BB", levelKey, []byte{1}))
	})

	t.Run("silent stub", func(t *testing.T) {
		sim.RegisterRead("AA:BB", levelKey, device.PropertyRead, StaticRead([]byte{1}), WithNoResponse())
		require.NoError(t, sim.ReadCharacteristic("AA:BB", levelKey))
		select {
		case ev := <-events:
			t.Fatalf("silent stub delivered %v", ev)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("failing stub", func(t *testing.T) {
		cause := errors.New("busy")
		sim.RegisterRead("AA:BB", levelKey, device.PropertyRead, FailingRead(cause))
		require.NoError(t, sim.ReadCharacteristic("AA:BB", levelKey))
		ev, ok := next(t, events).(device.ValueUpdatedEvent)
		require.True(t, ok)
		assert.ErrorIs(t, ev.Err, cause)
	})
}

func TestWriteWithoutResponseAnswersReadyToSend(t *testing.T) {
	profile := batteryProfile()
	profile.Services[0].Characteristics = append(profile.Services[0].Characteristics,
		CharacteristicProfile{UUID: "2A1A", Properties: "write-without-response"})
	sim, events := startSimulator(t, Options{}, profile)

	require.NoError(t, sim.Connect("AA:BB", device.ConnectOptions{}))
	next(t, events)

	key := device.NewRequestKey("180F", "2A1A")
	require.NoError(t, sim.WriteCharacteristic("AA:BB", key, []byte{7}, device.WithoutResponse))
	assert.Equal(t, device.ReadyToSendEvent{Device: "AA:BB"}, next(t, events))

	value, err := sim.Value("AA:BB", key)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, value)
}

func TestPowerLossDropsLinks(t *testing.T) {
	sim, events := startSimulator(t, Options{}, batteryProfile())
	require.NoError(t, sim.Connect("AA:BB", device.ConnectOptions{}))
	next(t, events)

	sim.SetPower(device.PowerOff)

	assert.Equal(t, device.PowerStateEvent{State: device.PowerOff}, next(t, events))
	dis, ok := next(t, events).(device.DisconnectedEvent)
	require.True(t, ok)
	assert.ErrorIs(t, dis.Err, device.ErrRadioUnavailable)
	assert.False(t, sim.IsConnected("AA:BB"))
	assert.ErrorIs(t, sim.Connect("AA:BB", device.ConnectOptions{}), device.ErrRadioUnavailable)
}

func TestConnectOutcomes(t *testing.T) {
	unreachable := PeripheralProfile{ID: "CC:DD", Unreachable: true}
	sim, events := startSimulator(t, Options{}, batteryProfile(), unreachable)

	require.NoError(t, sim.Connect("00:00", device.ConnectOptions{}))
	failed, ok := next(t, events).(device.ConnectFailedEvent)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, ErrUnknownPeripheral)

	require.NoError(t, sim.Connect("CC:DD", device.ConnectOptions{}))
	select {
	case ev := <-events:
		t.Fatalf("unreachable peripheral answered with %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScanHonoursServiceFilter(t *testing.T) {
	other := PeripheralProfile{ID: "CC:DD", Services: []ServiceProfile{{UUID: "180D"}}}
	sim, events := startSimulator(t, Options{}, batteryProfile(), other)

	require.NoError(t, sim.Scan(device.ScanRequest{Services: []string{"180D"}}))
	found, ok := next(t, events).(device.DeviceDiscoveredEvent)
	require.True(t, ok)
	assert.Equal(t, "CC:DD", found.Advertisement.ID)

	require.NoError(t, sim.StopScan())
	sim.Advertise("CC:DD")
	select {
	case ev := <-events:
		t.Fatalf("advertisement after StopScan: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDelayedEventsKeepOrder(t *testing.T) {
	sim, events := startSimulator(t, Options{Delay: 30 * time.Millisecond}, batteryProfile())

	for i := 0; i < 20; i++ {
		require.NoError(t, sim.Connect("AA:BB", device.ConnectOptions{}))
		require.NoError(t, sim.Disconnect("AA:BB"))
	}

	for i := 0; i < 20; i++ {
		assert.IsType(t, device.ConnectedEvent{}, next(t, events), "event %d MUST keep its posting order", 2*i)
		assert.IsType(t, device.DisconnectedEvent{}, next(t, events), "event %d MUST keep its posting order", 2*i+1)
	}
}
