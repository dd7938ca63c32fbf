package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnmarshalJSON decodes a registry metadata document while preserving the
// order in which the "versions" object's keys appeared on the wire. A plain
// map[string]VersionMeta loses that order (Go map iteration is randomized),
// but the version selector's "reverse registry order, newest-first" rule
// depends on it (see internal/selector).
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var wire struct {
		Name     string                     `json:"name"`
		DistTags map[string]string          `json:"dist-tags"`
		Versions json.RawMessage           `json:"versions"`
		Modified string                     `json:"modified,omitempty"`
		Time     map[string]json.RawMessage `json:"time,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("decode registry metadata: %w", err)
	}

	m.Name = wire.Name
	m.DistTags = wire.DistTags
	m.Modified = wire.Modified
	m.Versions = make(map[string]VersionMeta)
	m.order = nil

	if len(wire.Versions) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(wire.Versions))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode registry metadata versions: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode registry metadata versions: expected object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode registry metadata versions: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("decode registry metadata versions: non-string key")
		}
		var vm VersionMeta
		if err := dec.Decode(&vm); err != nil {
			return fmt.Errorf("decode registry metadata versions[%s]: %w", key, err)
		}
		m.Versions[key] = vm
		m.order = append(m.order, key)
	}
	return nil
}
