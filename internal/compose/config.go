package compose

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
)

// Config is the resolved project configuration printed by
// "compose config --format=json". Only name and services are typed; every
// other top-level field is kept verbatim in Extra so the document
// re-marshals without loss.
type Config struct {
	Name     string                     `json:"name,omitempty"`
	Services map[string]json.RawMessage `json:"services,omitempty"`
	Extra    map[string]json.RawMessage `json:"-"`
}

// ServiceNames returns the configured service names in sorted order.
func (c *Config) ServiceNames() []string {
	return slices.Sorted(maps.Keys(c.Services))
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*c = Config{}
	if v, ok := raw["name"]; ok {
		if err := json.Unmarshal(v, &c.Name); err != nil {
			return err
		}
		delete(raw, "name")
	}
	if v, ok := raw["services"]; ok {
		if !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			if err := json.Unmarshal(v, &c.Services); err != nil {
				return err
			}
		}
		delete(raw, "services")
	}
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// MarshalJSON merges Extra back with the known fields.
func (c Config) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Extra)+2)
	maps.Copy(out, c.Extra)
	if c.Name != "" {
		name, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		out["name"] = name
	}
	if c.Services != nil {
		services, err := json.Marshal(c.Services)
		if err != nil {
			return nil, err
		}
		out["services"] = services
	}
	return json.Marshal(out)
}
