package testutils

import (
	"context"

	"github.com/srg/gattkit/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of device.Transport. Start records the sink so
// tests can push events with Emit.
type MockTransport struct {
	mock.Mock
	sink device.EventSink
}

var _ device.Transport = (*MockTransport)(nil)

// Emit hands ev to the sink passed to Start.
func (m *MockTransport) Emit(ev device.Event) {
	m.sink.HandleEvent(ev)
}

func (m *MockTransport) Start(ctx context.Context, sink device.EventSink) error {
	m.sink = sink
	return m.Called(ctx, sink).Error(0)
}

func (m *MockTransport) Stop() error {
	return m.Called().Error(0)
}

func (m *MockTransport) Connect(deviceID string, opts device.ConnectOptions) error {
	return m.Called(deviceID, opts).Error(0)
}

func (m *MockTransport) Disconnect(deviceID string) error {
	return m.Called(deviceID).Error(0)
}

func (m *MockTransport) DiscoverServices(deviceID string, filter []string) error {
	return m.Called(deviceID, filter).Error(0)
}

func (m *MockTransport) DiscoverCharacteristics(deviceID, serviceID string, filter []string) error {
	return m.Called(deviceID, serviceID, filter).Error(0)
}

func (m *MockTransport) ReadCharacteristic(deviceID string, key device.RequestKey) error {
	return m.Called(deviceID, key).Error(0)
}

func (m *MockTransport) WriteCharacteristic(deviceID string, key device.RequestKey, payload []byte, mode device.WriteMode) error {
	return m.Called(deviceID, key, payload, mode).Error(0)
}

func (m *MockTransport) SetNotify(deviceID string, key device.RequestKey, enabled bool) error {
	return m.Called(deviceID, key, enabled).Error(0)
}

func (m *MockTransport) Scan(req device.ScanRequest) error {
	return m.Called(req).Error(0)
}

func (m *MockTransport) StopScan() error {
	return m.Called().Error(0)
}
