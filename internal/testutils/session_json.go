package testutils

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/srg/gattkit/internal/session"
)

type SessionJSON struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	RSSI          int           `json:"rssi"`
	Phase         string        `json:"phase"`
	Services      []ServiceJSON `json:"services"`
	Subscriptions []string      `json:"subscriptions"`
	Outstanding   int           `json:"outstanding"`
}

type ServiceJSON struct {
	UUID            string               `json:"uuid"`
	Characteristics []CharacteristicJSON `json:"characteristics"`
}

type CharacteristicJSON struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties"`
}

// SessionToJSON renders a deterministic snapshot of s: services and
// characteristics sorted by UUID, subscriptions sorted by key.
func SessionToJSON(s *session.Session) string {
	pending := s.Pending()
	out := SessionJSON{
		ID:            s.ID(),
		Name:          s.Name(),
		RSSI:          s.RSSI(),
		Phase:         pending.Phase.String(),
		Services:      []ServiceJSON{},
		Subscriptions: []string{},
		Outstanding:   len(pending.Outstanding),
	}

	for id, chars := range s.Services() {
		svc := ServiceJSON{UUID: id, Characteristics: []CharacteristicJSON{}}
		for _, c := range chars {
			svc.Characteristics = append(svc.Characteristics, CharacteristicJSON{
				UUID:       c.UUID,
				Properties: c.Properties.String(),
			})
		}
		slices.SortFunc(svc.Characteristics, func(a, b CharacteristicJSON) int { return strings.Compare(a.UUID, b.UUID) })
		out.Services = append(out.Services, svc)
	}
	slices.SortFunc(out.Services, func(a, b ServiceJSON) int { return strings.Compare(a.UUID, b.UUID) })

	for _, k := range pending.Subscriptions {
		out.Subscriptions = append(out.Subscriptions, k.String())
	}
	slices.Sort(out.Subscriptions)

	data, err := json.Marshal(out)
	if err != nil {
		panic(err)
	}
	return string(data)
}
