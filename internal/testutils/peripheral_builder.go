package testutils

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/srg/gattkit/internal/simulator"
)

// PeripheralBuilder builds simulator peripheral profiles with a fluent API.
type PeripheralBuilder struct {
	profile simulator.PeripheralProfile
}

// NewPeripheralBuilder creates an empty builder.
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{}
}

// WithID sets the peripheral address.
func (b *PeripheralBuilder) WithID(id string) *PeripheralBuilder {
	b.profile.ID = id
	return b
}

// WithName sets the advertised local name.
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.profile.Name = name
	return b
}

// WithRSSI sets the advertised signal strength.
func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.profile.RSSI = rssi
	return b
}

// Unreachable makes connect attempts never complete.
func (b *PeripheralBuilder) Unreachable() *PeripheralBuilder {
	b.profile.Unreachable = true
	return b
}

// WithConnectDelay holds connect completion back by d.
func (b *PeripheralBuilder) WithConnectDelay(d time.Duration) *PeripheralBuilder {
	b.profile.ConnectDelay = d
	return b
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, simulator.ServiceProfile{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := &b.profile.Services[len(b.profile.Services)-1]
	last.Characteristics = append(last.Characteristics, simulator.CharacteristicProfile{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromJSON fills the profile from JSON. Fields absent from the document keep
// the values set so far.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)
	if err := json.Unmarshal([]byte(jsonStr), &b.profile); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	return b
}

// Build returns the profile.
func (b *PeripheralBuilder) Build() simulator.PeripheralProfile {
	return b.profile
}
