package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Locator tells a single backend where to find the bytes of a file.
// Its contents are only interpreted by the backend that produced it.
type Locator struct {
	Key        string            `json:"key"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// BackingEntry pairs a backend name with its locator.
type BackingEntry struct {
	Backend string
	Locator Locator
}

// BackingLocation records which backends hold the bytes of one logical file.
//
// Entries keep their insertion order. The first inserted entry is the
// primary one and is used wherever a single backend has to be chosen.
type BackingLocation struct {
	entries []BackingEntry
}

func NewBackingLocation() *BackingLocation {
	return &BackingLocation{}
}

// Add inserts the locator for backend, or overwrites it in place when the
// backend is already present.
func (b *BackingLocation) Add(backend string, locator Locator) *BackingLocation {
	for i := range b.entries {
		if b.entries[i].Backend == backend {
			b.entries[i].Locator = locator
			return b
		}
	}

	b.entries = append(b.entries, BackingEntry{Backend: backend, Locator: locator})
	return b
}

func (b *BackingLocation) Get(backend string) (Locator, bool) {
	for _, entry := range b.entries {
		if entry.Backend == backend {
			return entry.Locator, true
		}
	}
	return Locator{}, false
}

func (b *BackingLocation) Has(backend string) bool {
	_, ok := b.Get(backend)
	return ok
}

func (b *BackingLocation) Len() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}

func (b *BackingLocation) IsEmpty() bool {
	return b.Len() == 0
}

// Primary returns the first inserted entry.
func (b *BackingLocation) Primary() (BackingEntry, bool) {
	if b.IsEmpty() {
		return BackingEntry{}, false
	}
	return b.entries[0], true
}

// Names returns the backend names in insertion order.
func (b *BackingLocation) Names() []string {
	names := make([]string, 0, b.Len())
	for _, entry := range b.Entries() {
		names = append(names, entry.Backend)
	}
	return names
}

// Entries returns a copy of all entries in insertion order.
func (b *BackingLocation) Entries() []BackingEntry {
	if b == nil {
		return nil
	}

	entries := make([]BackingEntry, len(b.entries))
	for i, entry := range b.entries {
		entries[i] = BackingEntry{Backend: entry.Backend, Locator: entry.Locator.clone()}
	}
	return entries
}

func (b *BackingLocation) Clone() *BackingLocation {
	return &BackingLocation{entries: b.Entries()}
}

// ToStructured returns the backing as a plain mapping of backend name to
// locator. The mapping carries no order.
func (b *BackingLocation) ToStructured() map[string]Locator {
	structured := make(map[string]Locator, b.Len())
	for _, entry := range b.Entries() {
		structured[entry.Backend] = entry.Locator
	}
	return structured
}

// BackingFromStructured rebuilds a backing from a plain mapping. The mapping
// carries no order, so the primary entry is only preserved when order names
// it: backends listed in order come first, the rest follow sorted by name.
// Callers that need the primary without an order must use the JSON form.
func BackingFromStructured(structured map[string]Locator, order ...string) *BackingLocation {
	backing := NewBackingLocation()
	for _, name := range order {
		if locator, ok := structured[name]; ok {
			backing.Add(name, locator)
		}
	}

	names := make([]string, 0, len(structured))
	for name := range structured {
		if !backing.Has(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		backing.Add(name, structured[name])
	}
	return backing
}

// MarshalJSON encodes the backing as a JSON object whose keys follow the
// insertion order, so the primary entry survives persistence.
func (b BackingLocation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, entry := range b.entries {
		if i > 0 {
			buf.WriteByte(',')
		}

		name, err := json.Marshal(entry.Backend)
		if err != nil {
			return nil, err
		}
		locator, err := json.Marshal(entry.Locator)
		if err != nil {
			return nil, err
		}

		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(locator)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (b *BackingLocation) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))

	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("failed to decode backing: %w", err)
	}
	if token == nil {
		b.entries = nil
		return nil
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("failed to decode backing: expected object, got %v", token)
	}

	entries := []BackingEntry{}
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("failed to decode backing: %w", err)
		}

		name, ok := token.(string)
		if !ok {
			return fmt.Errorf("failed to decode backing: expected backend name, got %v", token)
		}

		var locator Locator
		if err := decoder.Decode(&locator); err != nil {
			return fmt.Errorf("failed to decode locator for backend '%s': %w", name, err)
		}

		entries = append(entries, BackingEntry{Backend: name, Locator: locator})
	}

	b.entries = nil
	for _, entry := range entries {
		b.Add(entry.Backend, entry.Locator)
	}
	return nil
}

func (l Locator) clone() Locator {
	if l.Attributes == nil {
		return Locator{Key: l.Key}
	}

	attributes := make(map[string]string, len(l.Attributes))
	for k, v := range l.Attributes {
		attributes[k] = v
	}
	return Locator{Key: l.Key, Attributes: attributes}
}
