package groups

import "strings"

// Templates resolves a (faction, template) pair to a spawnable prefab.
type Templates interface {
	Prefab(faction, template string) (string, bool)
}

// StaticTemplates is a fixed lookup table keyed by faction then template.
type StaticTemplates map[string]map[string]string

func (t StaticTemplates) Prefab(faction, template string) (string, bool) {
	byTemplate, ok := t[strings.TrimSpace(faction)]
	if !ok {
		return "", false
	}
	p, ok := byTemplate[strings.TrimSpace(template)]
	if !ok || p == "" {
		return "", false
	}
	return p, true
}

const DefaultReinforcementTemplate = "infantry_squad"

func DefaultTemplates() StaticTemplates {
	return StaticTemplates{
		"OPFOR": {
			"infantry_squad": "{B5DF06B6DCA0D870}Prefabs/Groups/OPFOR/Group_OPFOR_Rifle_Squad.et",
		},
		"BLUFOR": {
			"infantry_squad": "{A8476E3F6B2B7541}Prefabs/Groups/FIA/Group_FIA_Rifle_Squad.et",
		},
	}
}
