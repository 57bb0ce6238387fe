package device

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Well-known GATT characteristic UUIDs (16-bit short form, normalized)
const (
	CharacteristicDeviceName      = "2a00"
	CharacteristicBatteryLevel    = "2a19"
	CharacteristicModelNumber     = "2a24"
	CharacteristicSerialNumber    = "2a25"
	CharacteristicFirmwareRev     = "2a26"
	CharacteristicHardwareRev     = "2a27"
	CharacteristicSoftwareRev     = "2a28"
	CharacteristicManufacturer    = "2a29"
	CharacteristicHeartRate       = "2a37"
	CharacteristicBodySensorPlace = "2a38"
)

// ValueDecoder renders a characteristic value for humans.
type ValueDecoder func([]byte) (string, error)

func decodeUTF8(value []byte) (string, error) {
	if !utf8.Valid(value) {
		return "", fmt.Errorf("value is not valid UTF-8")
	}
	return strings.TrimRight(string(value), "\x00"), nil
}

func decodeBatteryLevel(value []byte) (string, error) {
	if len(value) != 1 {
		return "", fmt.Errorf("battery level must be 1 byte, got %d", len(value))
	}
	if value[0] > 100 {
		return "", fmt.Errorf("battery level %d out of range", value[0])
	}
	return fmt.Sprintf("%d%%", value[0]), nil
}

// decodeHeartRate reads the measurement value; bit 0 of the flags selects a uint16 value.
func decodeHeartRate(value []byte) (string, error) {
	if len(value) < 2 {
		return "", fmt.Errorf("heart rate measurement too short: %d bytes", len(value))
	}
	if value[0]&0x01 == 0 {
		return fmt.Sprintf("%d bpm", value[1]), nil
	}
	if len(value) < 3 {
		return "", fmt.Errorf("heart rate measurement too short for uint16 value: %d bytes", len(value))
	}
	return fmt.Sprintf("%d bpm", binary.LittleEndian.Uint16(value[1:3])), nil
}

var bodySensorLocations = []string{"Other", "Chest", "Wrist", "Finger", "Hand", "Ear Lobe", "Foot"}

func decodeBodySensorLocation(value []byte) (string, error) {
	if len(value) != 1 {
		return "", fmt.Errorf("body sensor location must be 1 byte, got %d", len(value))
	}
	if int(value[0]) >= len(bodySensorLocations) {
		return fmt.Sprintf("Reserved (%d)", value[0]), nil
	}
	return bodySensorLocations[value[0]], nil
}

// valueDecoders maps normalized characteristic UUIDs to their decoders
var valueDecoders = map[string]ValueDecoder{
	CharacteristicDeviceName:      decodeUTF8,
	CharacteristicModelNumber:     decodeUTF8,
	CharacteristicSerialNumber:    decodeUTF8,
	CharacteristicFirmwareRev:     decodeUTF8,
	CharacteristicHardwareRev:     decodeUTF8,
	CharacteristicSoftwareRev:     decodeUTF8,
	CharacteristicManufacturer:    decodeUTF8,
	CharacteristicBatteryLevel:    decodeBatteryLevel,
	CharacteristicHeartRate:       decodeHeartRate,
	CharacteristicBodySensorPlace: decodeBodySensorLocation,
}

// IsDecodable reports whether DecodeValue knows the characteristic.
func IsDecodable(uuid string) bool {
	_, ok := valueDecoders[NormalizeUUID(uuid)]
	return ok
}

// DecodeValue renders value according to the characteristic's SIG format.
// ok is false for characteristics without a known format.
func DecodeValue(uuid string, value []byte) (decoded string, ok bool, err error) {
	decoder, exists := valueDecoders[NormalizeUUID(uuid)]
	if !exists {
		return "", false, nil
	}
	decoded, err = decoder(value)
	return decoded, true, err
}
