// Package catalog loads the operator-editable settings: spawn templates,
// broadcast title, map name override and event queue capacity.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"tacbridge.ai/internal/bridge"
	"tacbridge.ai/internal/dispatch"
	"tacbridge.ai/internal/events"
	"tacbridge.ai/internal/groups"
)

type Config struct {
	MapName               string `yaml:"map_name,omitempty"`
	BroadcastTitle        string `yaml:"broadcast_title"`
	ReinforcementTemplate string `yaml:"reinforcement_template"`
	EventCapacity         int    `yaml:"event_capacity"`
	MaxReinforcements     int    `yaml:"max_reinforcements"`

	// Factions maps faction key -> template name -> prefab resource.
	Factions map[string]map[string]string `yaml:"factions"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	cfg := Defaults()
	// A catalog that names factions replaces the built-in table.
	cfg.Factions = nil
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("catalog: %w", err)
	}
	if cfg.Factions == nil {
		cfg.Factions = Defaults().Factions
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("catalog: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		BroadcastTitle:        "[Tactical AI]",
		ReinforcementTemplate: groups.DefaultReinforcementTemplate,
		EventCapacity:         events.DefaultCapacity,
		Factions:              map[string]map[string]string(groups.DefaultTemplates()),
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.MapName = strings.TrimSpace(c.MapName)
	c.BroadcastTitle = strings.TrimSpace(c.BroadcastTitle)
	if c.BroadcastTitle == "" {
		c.BroadcastTitle = "[Tactical AI]"
	}
	c.ReinforcementTemplate = strings.TrimSpace(c.ReinforcementTemplate)
	if c.ReinforcementTemplate == "" {
		c.ReinforcementTemplate = groups.DefaultReinforcementTemplate
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = events.DefaultCapacity
	}
	if c.MaxReinforcements <= 0 {
		c.MaxReinforcements = dispatch.DefaultMaxReinforcements
	}
	norm := make(map[string]map[string]string, len(c.Factions))
	for faction, byTemplate := range c.Factions {
		f := strings.ToUpper(strings.TrimSpace(faction))
		if f == "" {
			continue
		}
		if norm[f] == nil {
			norm[f] = map[string]string{}
		}
		for tmpl, prefab := range byTemplate {
			norm[f][strings.TrimSpace(tmpl)] = strings.TrimSpace(prefab)
		}
	}
	c.Factions = norm
}

func (c Config) Validate() error {
	if c.MaxReinforcements > 100 {
		return fmt.Errorf("max_reinforcements %d exceeds 100", c.MaxReinforcements)
	}
	if len(c.Factions) == 0 {
		return fmt.Errorf("factions must not be empty")
	}
	for _, f := range c.FactionKeys() {
		if len(c.Factions[f]) == 0 {
			return fmt.Errorf("faction %s has no templates", f)
		}
		for tmpl, prefab := range c.Factions[f] {
			if tmpl == "" {
				return fmt.Errorf("faction %s: empty template name", f)
			}
			if prefab == "" {
				return fmt.Errorf("faction %s template %s: empty prefab", f, tmpl)
			}
		}
	}
	if c.EventCapacity > 10000 {
		return fmt.Errorf("event_capacity %d too large", c.EventCapacity)
	}
	return nil
}

func (c Config) FactionKeys() []string {
	out := make([]string, 0, len(c.Factions))
	for f := range c.Factions {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (c Config) Templates() groups.StaticTemplates {
	out := make(groups.StaticTemplates, len(c.Factions))
	for f, byTemplate := range c.Factions {
		cp := make(map[string]string, len(byTemplate))
		for k, v := range byTemplate {
			cp[k] = v
		}
		out[f] = cp
	}
	return out
}

// Settings is the subset that can change while the bridge runs.
func (c Config) Settings() bridge.Settings {
	return bridge.Settings{
		MapName:        c.MapName,
		BroadcastTitle: c.BroadcastTitle,
		Templates:      c.Templates(),
	}
}
