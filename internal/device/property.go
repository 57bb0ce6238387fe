package device

import (
	"fmt"
	"strings"
)

// Property is a GATT characteristic property bit set. Bit values follow the
// Characteristic Properties field of the characteristic declaration.
type Property uint8

const (
	PropertyBroadcast            Property = 0x01
	PropertyRead                 Property = 0x02
	PropertyWriteWithoutResponse Property = 0x04
	PropertyWrite                Property = 0x08
	PropertyNotify               Property = 0x10
	PropertyIndicate             Property = 0x20
	PropertySignedWrite          Property = 0x40
	PropertyExtended             Property = 0x80
)

var propertyNames = []struct {
	p    Property
	name string
}{
	{PropertyBroadcast, "broadcast"},
	{PropertyRead, "read"},
	{PropertyWriteWithoutResponse, "write-without-response"},
	{PropertyWrite, "write"},
	{PropertyNotify, "notify"},
	{PropertyIndicate, "indicate"},
	{PropertySignedWrite, "signed-write"},
	{PropertyExtended, "extended"},
}

// Has reports whether every bit of want is set in p.
func (p Property) Has(want Property) bool {
	return want != 0 && p&want == want
}

// Supports reports whether p satisfies the property an action requires. Notify
// subscriptions are also accepted on indicate-only characteristics.
func (p Property) Supports(required Property) bool {
	if required == PropertyNotify {
		return p&(PropertyNotify|PropertyIndicate) != 0
	}
	return p.Has(required)
}

func (p Property) String() string {
	if p == 0 {
		return "none"
	}
	var names []string
	for _, pn := range propertyNames {
		if p&pn.p != 0 {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma-separated list such as "read,notify".
// "write-nr" and "writenoresponse" are accepted for write-without-response.
func ParseProperties(s string) (Property, error) {
	var p Property
	for _, raw := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		switch name {
		case "write-nr", "writenoresponse", "write_without_response", "writewithoutresponse":
			name = "write-without-response"
		}
		found := false
		for _, pn := range propertyNames {
			if pn.name == name {
				p |= pn.p
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", raw)
		}
	}
	return p, nil
}
