// Package catalogue loads combatant templates from an embedded JSON
// document, optionally overridden by an on-disk file, the way the teacher
// repo loads its embedded loadout catalogue.
package catalogue

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"duelforge/engine/internal/combat"
)

//go:embed templates.json
var embeddedTemplates []byte

// Template is the on-disk/embedded shape of a combatant before it becomes a
// live combat.CombatantStats.
type Template struct {
	MaxHP           int                `json:"max_hp"`
	PhysicalAttack  int                `json:"physical_attack"`
	SpecialAttack   int                `json:"special_attack"`
	PhysicalDefense int                `json:"physical_defense"`
	SpecialDefense  int                `json:"special_defense"`
	PrimaryType     string             `json:"primary_type"`
	SecondaryType   string             `json:"secondary_type"`
	TypeMultipliers map[string]float64 `json:"type_multipliers"`
	Moves           []MoveTemplate     `json:"moves"`
}

// MoveTemplate is the catalogue's declaration of a move a combatant knows.
type MoveTemplate struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BasePower int    `json:"base_power"`
}

// Catalogue resolves a lowercase pokemon_name into live combatant stats.
type Catalogue interface {
	Lookup(name string) (*combat.CombatantStats, bool)
	Names() []string
}

type catalogue struct {
	templates map[string]Template
}

var (
	defaultOnce      sync.Once
	defaultTemplates map[string]Template
	defaultErr       error
)

func loadDefault() (map[string]Template, error) {
	defaultOnce.Do(func() {
		var parsed map[string]Template
		if err := json.Unmarshal(embeddedTemplates, &parsed); err != nil {
			defaultErr = fmt.Errorf("catalogue: parse embedded templates: %w", err)
			return
		}
		defaultTemplates = parsed
	})
	return defaultTemplates, defaultErr
}

// NewEmbedded returns a Catalogue backed solely by the embedded defaults.
func NewEmbedded() (Catalogue, error) {
	templates, err := loadDefault()
	if err != nil {
		return nil, err
	}
	return &catalogue{templates: templates}, nil
}

// NewWithOverride returns a Catalogue that merges an on-disk JSON file of
// the same shape over the embedded defaults; entries in the override file
// win on name collision. An empty path behaves like NewEmbedded.
func NewWithOverride(path string) (Catalogue, error) {
	base, err := loadDefault()
	if err != nil {
		return nil, err
	}
	merged := make(map[string]Template, len(base))
	for k, v := range base {
		merged[k] = v
	}
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalogue: read override %s: %w", path, err)
		}
		var overrides map[string]Template
		if err := json.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("catalogue: parse override %s: %w", path, err)
		}
		for k, v := range overrides {
			merged[strings.ToLower(k)] = v
		}
	}
	return &catalogue{templates: merged}, nil
}

// Lookup resolves name (matched case-insensitively) into a fresh
// combat.CombatantStats, defensively copied so callers cannot mutate the
// shared catalogue.
func (c *catalogue) Lookup(name string) (*combat.CombatantStats, bool) {
	tmpl, ok := c.templates[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	stats := &combat.CombatantStats{
		Name:            name,
		MaxHP:           tmpl.MaxHP,
		CurrentHP:       tmpl.MaxHP,
		PhysicalAttack:  tmpl.PhysicalAttack,
		SpecialAttack:   tmpl.SpecialAttack,
		PhysicalDefense: tmpl.PhysicalDefense,
		SpecialDefense:  tmpl.SpecialDefense,
		PrimaryType:     tmpl.PrimaryType,
		SecondaryType:   tmpl.SecondaryType,
	}
	if tmpl.TypeMultipliers != nil {
		stats.TypeMultipliers = make(map[string]float64, len(tmpl.TypeMultipliers))
		for k, v := range tmpl.TypeMultipliers {
			stats.TypeMultipliers[k] = v
		}
	}
	for _, m := range tmpl.Moves {
		stats.Moves = append(stats.Moves, combat.Move{Name: m.Name, Type: m.Type, BasePower: m.BasePower})
	}
	return stats, true
}

// Names returns the catalogue's known combatant names, for diagnostics and
// the interactive entrypoints.
func (c *catalogue) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	return names
}
