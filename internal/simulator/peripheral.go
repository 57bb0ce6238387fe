package simulator

import (
	"strings"

	"github.com/google/uuid"
	"github.com/srg/gattkit/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type service struct {
	uuid            string
	characteristics *orderedmap.OrderedMap[string, *characteristic]
}

type peripheral struct {
	id          string
	name        string
	rssi        int
	unreachable bool
	connectWait stubConfig

	connected bool
	services  *orderedmap.OrderedMap[string, *service]
}

func newPeripheral(id string) *peripheral {
	if id == "" {
		id = strings.ToUpper(uuid.NewString())
	}
	return &peripheral{
		id:       id,
		rssi:     -60,
		services: orderedmap.New[string, *service](),
	}
}

func (p *peripheral) service(serviceID string, create bool) *service {
	if svc, ok := p.services.Get(serviceID); ok {
		return svc
	}
	if !create {
		return nil
	}
	svc := &service{uuid: serviceID, characteristics: orderedmap.New[string, *characteristic]()}
	p.services.Set(serviceID, svc)
	return svc
}

// characteristic finds key, creating it (and its service) when create is set.
// A created characteristic starts with props; an existing one gains them.
func (p *peripheral) characteristic(key device.RequestKey, props device.Property, create bool) *characteristic {
	svc := p.service(key.ServiceID, create)
	if svc == nil {
		return nil
	}
	if c, ok := svc.characteristics.Get(key.CharacteristicID); ok {
		c.properties |= props
		return c
	}
	if !create {
		return nil
	}
	c := &characteristic{uuid: key.CharacteristicID, properties: props}
	svc.characteristics.Set(key.CharacteristicID, c)
	return c
}

func (p *peripheral) serviceIDs(filter []string) []string {
	var out []string
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		if matchesFilter(pair.Key, filter) {
			out = append(out, pair.Key)
		}
	}
	return out
}

func (p *peripheral) characteristicInfos(serviceID string, filter []string) []device.CharacteristicInfo {
	svc := p.service(serviceID, false)
	if svc == nil {
		return nil
	}
	var out []device.CharacteristicInfo
	for pair := svc.characteristics.Oldest(); pair != nil; pair = pair.Next() {
		if matchesFilter(pair.Key, filter) {
			out = append(out, device.CharacteristicInfo{UUID: pair.Key, Properties: pair.Value.properties})
		}
	}
	return out
}

func (p *peripheral) unsubscribeAll() {
	for s := p.services.Oldest(); s != nil; s = s.Next() {
		for c := s.Value.characteristics.Oldest(); c != nil; c = c.Next() {
			c.Value.subscribed = false
		}
	}
}

func (p *peripheral) advertisement() device.Advertisement {
	return device.Advertisement{
		ID:          p.id,
		Name:        p.name,
		RSSI:        p.rssi,
		Connectable: !p.unreachable,
		Services:    p.serviceIDs(nil),
	}
}

func matchesFilter(id string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if device.NormalizeUUID(f) == id {
			return true
		}
	}
	return false
}
