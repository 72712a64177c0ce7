package indi

import (
	"maps"
	"strings"
	"sync"
	"time"
)

// PropertyKind is the vector type, inferred from the defining tag.
type PropertyKind string

// Property kinds.
const (
	KindText   PropertyKind = "text"
	KindNumber PropertyKind = "number"
	KindSwitch PropertyKind = "switch"
	KindLight  PropertyKind = "light"
	KindBLOB   PropertyKind = "blob"
)

// Protocol tags handled by the Store.
const (
	tagDelProperty = "delProperty"
	tagMessage     = "message"
	tagSetBLOB     = "setBLOBVector"
	tagOneBLOB     = "oneBLOB"
	prefixDefine   = "def"
	prefixUpdate   = "set"
)

// kindFromTag maps "defNumberVector" to KindNumber and so on.
func kindFromTag(tag string) PropertyKind {
	name := strings.TrimSuffix(strings.TrimPrefix(tag, prefixDefine), "Vector")
	return PropertyKind(strings.ToLower(name))
}

// Property is one named vector belonging to a device.
type Property struct {
	Device     string            `json:"device"`
	Name       string            `json:"name"`
	Kind       PropertyKind      `json:"kind"`
	State      string            `json:"state"`
	Attributes map[string]string `json:"attributes"`
	Elements   []PropertyElement `json:"elements"`
}

// PropertyElement is one named value within a Property.
type PropertyElement struct {
	Name       string            `json:"name"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
}

// Element returns the named element, or false if the property has none.
func (p *Property) Element(name string) (PropertyElement, bool) {
	if i := p.elementIndex(name); i >= 0 {
		return p.Elements[i], true
	}
	return PropertyElement{}, false
}

func (p *Property) elementIndex(name string) int {
	for i := range p.Elements {
		if p.Elements[i].Name == name {
			return i
		}
	}
	return -1
}

// clone returns a deep copy of p.
func (p *Property) clone() Property {
	out := *p
	out.Attributes = maps.Clone(p.Attributes)
	out.Elements = make([]PropertyElement, len(p.Elements))
	for i, e := range p.Elements {
		e.Attributes = maps.Clone(e.Attributes)
		out.Elements[i] = e
	}
	return out
}

// Devices is a point-in-time copy of the Store: device name to property
// name to property.
type Devices map[string]map[string]Property

// Store holds device and property state for the current connection.
//
// Every operation runs inside one critical section covering its whole
// read-modify-write, and snapshot reads take the same lock, so readers never
// observe a partially applied document.
type Store struct {
	mu      sync.RWMutex
	devices map[string]map[string]*Property
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		devices: make(map[string]map[string]*Property),
		now:     time.Now,
	}
}

// Apply routes a parsed document to Define, Update or Delete by tag.
//
// Documents without a device name, define/update documents without a
// property name, updates of unknown properties and unrecognised tags are
// dropped without error.
//
// Returns:
//   - Event: Describes the applied change (valid only if applied is true)
//   - bool: True if the Store changed
func (s *Store) Apply(el *Element) (Event, bool) {
	if el.Device() == "" {
		return Event{}, false
	}

	switch {
	case el.Tag == tagDelProperty:
		return s.remove(el)
	case strings.HasPrefix(el.Tag, prefixDefine):
		return s.define(el)
	case strings.HasPrefix(el.Tag, prefixUpdate):
		return s.update(el)
	default:
		return Event{}, false
	}
}

// define replaces the named property with a fresh record built from el.
func (s *Store) define(el *Element) (Event, bool) {
	device, name := el.Device(), el.Name()
	if name == "" {
		return Event{}, false
	}

	prop := &Property{
		Device:     device,
		Name:       name,
		Kind:       kindFromTag(el.Tag),
		State:      el.Attr("state"),
		Attributes: maps.Clone(el.Attrs),
		Elements:   make([]PropertyElement, 0, len(el.Children)),
	}
	if prop.Attributes == nil {
		prop.Attributes = make(map[string]string)
	}
	values := make(map[string]string, len(el.Children))
	for _, c := range el.Children {
		elemName := c.Name()
		if i := prop.elementIndex(elemName); i >= 0 {
			// Duplicate member names: last one wins, position kept.
			prop.Elements[i] = PropertyElement{Name: elemName, Text: c.Text, Attributes: maps.Clone(c.Attrs)}
		} else {
			prop.Elements = append(prop.Elements, PropertyElement{
				Name:       elemName,
				Text:       c.Text,
				Attributes: maps.Clone(c.Attrs),
			})
		}
		values[elemName] = c.Text
	}

	s.mu.Lock()
	props, ok := s.devices[device]
	if !ok {
		props = make(map[string]*Property)
		s.devices[device] = props
	}
	props[name] = prop
	s.mu.Unlock()

	return Event{
		Kind:         EventPropertyDefined,
		Timestamp:    s.now(),
		Device:       device,
		Property:     name,
		PropertyKind: prop.Kind,
		State:        prop.State,
		Values:       values,
		Message:      el.Attr("message"),
	}, true
}

// update merges el's attributes into an existing property and sets the text
// of elements it already contains. Unknown elements are ignored.
func (s *Store) update(el *Element) (Event, bool) {
	device, name := el.Device(), el.Name()
	if name == "" {
		return Event{}, false
	}

	s.mu.Lock()
	prop, ok := s.devices[device][name]
	if !ok {
		s.mu.Unlock()
		return Event{}, false
	}

	for k, v := range el.Attrs {
		prop.Attributes[k] = v
	}
	if state, ok := el.Attrs["state"]; ok {
		prop.State = state
	}

	values := make(map[string]string, len(el.Children))
	for _, c := range el.Children {
		if i := prop.elementIndex(c.Name()); i >= 0 {
			prop.Elements[i].Text = c.Text
			values[c.Name()] = c.Text
		}
	}
	state, kind := prop.State, prop.Kind
	s.mu.Unlock()

	return Event{
		Kind:         EventPropertyUpdated,
		Timestamp:    s.now(),
		Device:       device,
		Property:     name,
		PropertyKind: kind,
		State:        state,
		Values:       values,
		Message:      el.Attr("message"),
	}, true
}

// remove handles delProperty. With a property name it removes that property;
// without one it removes every property of the device and keeps the (now
// empty) device entry.
func (s *Store) remove(el *Element) (Event, bool) {
	device, name := el.Device(), el.Name()

	s.mu.Lock()
	props, ok := s.devices[device]
	if !ok {
		s.mu.Unlock()
		return Event{}, false
	}
	if name != "" {
		if _, exists := props[name]; !exists {
			s.mu.Unlock()
			return Event{}, false
		}
		delete(props, name)
	} else {
		clear(props)
	}
	s.mu.Unlock()

	return Event{
		Kind:      EventPropertyDeleted,
		Timestamp: s.now(),
		Device:    device,
		Property:  name,
		Message:   el.Attr("message"),
	}, true
}

// Clear removes every device in one critical section.
func (s *Store) Clear() {
	s.mu.Lock()
	s.devices = make(map[string]map[string]*Property)
	s.mu.Unlock()
}

// Snapshot returns a deep copy of all devices and properties.
func (s *Store) Snapshot() Devices {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Devices, len(s.devices))
	for device, props := range s.devices {
		copied := make(map[string]Property, len(props))
		for name, p := range props {
			copied[name] = p.clone()
		}
		out[device] = copied
	}
	return out
}

// Property returns a copy of one property.
func (s *Store) Property(device, name string) (Property, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.devices[device][name]
	if !ok {
		return Property{}, false
	}
	return p.clone(), true
}

// HasProperty reports whether device currently defines the named property.
func (s *Store) HasProperty(device, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[device][name]
	return ok
}

// HasElement reports whether device defines property prop with element elem.
func (s *Store) HasElement(device, prop, elem string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.devices[device][prop]
	return ok && p.elementIndex(elem) >= 0
}

// DeviceCount returns the number of known devices.
func (s *Store) DeviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}
