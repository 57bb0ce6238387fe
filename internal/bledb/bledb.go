// Package bledb resolves Bluetooth SIG assigned numbers to human-readable names
// and owns the UUID normalization every other package keys on.
package bledb

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID 0000xxxx-0000-1000-8000-00805f9b34fb.
const sigBaseSuffix = "00001000800000805f9b34fb"

//go:embed known.yaml
var knownYAML []byte

type table struct {
	Services        map[string]string `yaml:"services"`
	Characteristics map[string]string `yaml:"characteristics"`
	Descriptors     map[string]string `yaml:"descriptors"`
}

var (
	loadOnce sync.Once
	known    table
)

func db() *table {
	loadOnce.Do(func() {
		if err := yaml.Unmarshal(knownYAML, &known); err != nil {
			panic(fmt.Sprintf("bledb: embedded table is malformed: %v", err))
		}
	})
	return &known
}

// NormalizeUUID converts a UUID to lowercase hex without dashes, braces or 0x prefix.
// UUIDs on the SIG base are shortened to their 16-bit form.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.Trim(s, "{}")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes every element of uuids.
func NormalizeUUIDs(uuids []string) []string {
	if uuids == nil {
		return nil
	}
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// IsValidUUID reports whether a normalized UUID is a 16, 32 or 128-bit hex value.
func IsValidUUID(normalized string) bool {
	switch len(normalized) {
	case 4, 8, 32:
	default:
		return false
	}
	for _, r := range normalized {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// LookupService returns the assigned name of a service UUID, or "".
func LookupService(uuid string) string {
	return db().Services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the assigned name of a characteristic UUID, or "".
func LookupCharacteristic(uuid string) string {
	return db().Characteristics[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the assigned name of a descriptor UUID, or "".
func LookupDescriptor(uuid string) string {
	return db().Descriptors[NormalizeUUID(uuid)]
}
