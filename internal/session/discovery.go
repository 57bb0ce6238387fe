package session

import "github.com/srg/gattkit/internal/device"

type cachedService struct {
	characteristics map[string]device.CharacteristicInfo
}

// discoveryCache remembers the services and characteristics the peripheral has
// reported on the current link. It is cleared on disconnect.
//
// Concurrent requests for the same target never race here: the coordinator admits
// one action at a time, so at most one discovery of each kind is outstanding.
type discoveryCache struct {
	services map[string]*cachedService
}

func newDiscoveryCache() discoveryCache {
	return discoveryCache{services: make(map[string]*cachedService)}
}

// lookup resolves key. It reports which discovery step is still needed, or
// discoverNone together with the characteristic when the key is fully known.
func (c *discoveryCache) lookup(key device.RequestKey) (device.CharacteristicInfo, discoveryTarget) {
	svc, ok := c.services[key.ServiceID]
	if !ok {
		return device.CharacteristicInfo{}, discoverService
	}
	char, ok := svc.characteristics[key.CharacteristicID]
	if !ok {
		return device.CharacteristicInfo{}, discoverCharacteristic
	}
	return char, discoverNone
}

func (c *discoveryCache) storeServices(uuids []string) {
	for _, u := range uuids {
		id := device.NormalizeUUID(u)
		if _, ok := c.services[id]; !ok {
			c.services[id] = &cachedService{characteristics: make(map[string]device.CharacteristicInfo)}
		}
	}
}

func (c *discoveryCache) hasService(serviceID string) bool {
	_, ok := c.services[serviceID]
	return ok
}

func (c *discoveryCache) storeCharacteristics(serviceID string, chars []device.CharacteristicInfo) {
	svc, ok := c.services[serviceID]
	if !ok {
		svc = &cachedService{characteristics: make(map[string]device.CharacteristicInfo)}
		c.services[serviceID] = svc
	}
	for _, ch := range chars {
		ch.UUID = device.NormalizeUUID(ch.UUID)
		svc.characteristics[ch.UUID] = ch
	}
}

func (c *discoveryCache) clear() {
	c.services = make(map[string]*cachedService)
}

// snapshot returns the cached service UUIDs mapped to their characteristics.
func (c *discoveryCache) snapshot() map[string][]device.CharacteristicInfo {
	out := make(map[string][]device.CharacteristicInfo, len(c.services))
	for id, svc := range c.services {
		chars := make([]device.CharacteristicInfo, 0, len(svc.characteristics))
		for _, ch := range svc.characteristics {
			chars = append(chars, ch)
		}
		out[id] = chars
	}
	return out
}
