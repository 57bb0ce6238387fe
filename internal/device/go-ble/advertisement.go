package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/gattkit/internal/device"
)

// txPowerUnavailable is what go-ble reports when the advertisement carries no TX power.
const txPowerUnavailable = 127

func toAdvertisement(adv ble.Advertisement) device.Advertisement {
	out := device.Advertisement{
		ID:           adv.Addr().String(),
		Name:         adv.LocalName(),
		RSSI:         adv.RSSI(),
		Connectable:  adv.Connectable(),
		Manufacturer: adv.ManufacturerData(),
	}
	for _, svc := range adv.Services() {
		out.Services = append(out.Services, device.NormalizeUUID(svc.String()))
	}
	if tx := adv.TxPowerLevel(); tx != txPowerUnavailable {
		level := tx
		out.TxPower = &level
	}
	return out
}
