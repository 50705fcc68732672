package cost

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"armory-planner/internal/levels"
)

// Default track names of the embedded catalog.
const (
	Weapon    = "weapon"
	Jade      = "jade"
	Forge     = "forge"
	Exclusive = "exclusive"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// MaterialDef describes one material and its default exchange rate. Fixed
// materials have no rate and cannot be bought with points.
type MaterialDef struct {
	Key   Material `yaml:"key"`
	Label string   `yaml:"label"`
	Rate  float64  `yaml:"rate"`
	Fixed bool     `yaml:"fixed"`
}

type ladderDef struct {
	Unowned struct {
		Key   string `yaml:"key"`
		Label string `yaml:"label"`
	} `yaml:"unowned"`
	Tiers []levels.Tier `yaml:"tiers"`
}

type trackDef struct {
	Name      string     `yaml:"name"`
	Label     string     `yaml:"label"`
	Materials []Material `yaml:"materials"`
	Ladder    *ladderDef `yaml:"ladder"`
	Costs     [][]int    `yaml:"costs"`
}

type catalogFile struct {
	Materials []MaterialDef `yaml:"materials"`
	Tracks    []trackDef    `yaml:"tracks"`
}

// Catalog is the read-only set of tracks and materials shared by every run.
type Catalog struct {
	tracks    []*Track
	byName    map[string]*Track
	materials []MaterialDef
	byKey     map[Material]MaterialDef
}

// DefaultCatalog parses the embedded weapon, jade, forge and exclusive tables.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog file; an empty path yields the embedded catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	c, err := ParseCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	c := &Catalog{
		byName: make(map[string]*Track, len(f.Tracks)),
		byKey:  make(map[Material]MaterialDef, len(f.Materials)),
	}
	for _, m := range f.Materials {
		if _, dup := c.byKey[m.Key]; dup {
			return nil, fmt.Errorf("catalog: duplicate material %q", m.Key)
		}
		if m.Rate < 0 {
			return nil, fmt.Errorf("catalog: material %q has negative rate", m.Key)
		}
		c.byKey[m.Key] = m
		c.materials = append(c.materials, m)
	}
	for _, td := range f.Tracks {
		for _, m := range td.Materials {
			if _, ok := c.byKey[m]; !ok {
				return nil, fmt.Errorf("catalog: track %s uses undeclared material %q", td.Name, m)
			}
		}
		var ladder *levels.Ladder
		if td.Ladder != nil {
			l, err := levels.NewTiered(td.Name, td.Ladder.Unowned.Key, td.Ladder.Unowned.Label, td.Ladder.Tiers)
			if err != nil {
				return nil, fmt.Errorf("catalog: %w", err)
			}
			ladder = l
		}
		t, err := NewTrack(td.Name, td.Label, td.Materials, td.Costs, ladder)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if _, dup := c.byName[t.Name()]; dup {
			return nil, fmt.Errorf("catalog: duplicate track %q", t.Name())
		}
		c.byName[t.Name()] = t
		c.tracks = append(c.tracks, t)
	}
	return c, nil
}

// NewCatalog assembles a catalog from already-built tracks. Rates default to zero.
func NewCatalog(materials []MaterialDef, tracks ...*Track) *Catalog {
	c := &Catalog{
		byName: make(map[string]*Track, len(tracks)),
		byKey:  make(map[Material]MaterialDef, len(materials)),
	}
	for _, m := range materials {
		c.byKey[m.Key] = m
		c.materials = append(c.materials, m)
	}
	for _, t := range tracks {
		c.byName[t.Name()] = t
		c.tracks = append(c.tracks, t)
		for _, m := range t.Materials() {
			if _, ok := c.byKey[m]; !ok {
				def := MaterialDef{Key: m, Label: string(m)}
				c.byKey[m] = def
				c.materials = append(c.materials, def)
			}
		}
	}
	return c
}

// Track looks up a track by name.
func (c *Catalog) Track(name string) (*Track, error) {
	if t, ok := c.byName[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTrack, name)
}

// Tracks returns the tracks in catalog order.
func (c *Catalog) Tracks() []*Track {
	return append([]*Track(nil), c.tracks...)
}

// Materials returns the material definitions in catalog order.
func (c *Catalog) Materials() []MaterialDef {
	return append([]MaterialDef(nil), c.materials...)
}

// MaterialLabel returns the display name of m, falling back to its key.
func (c *Catalog) MaterialLabel(m Material) string {
	if d, ok := c.byKey[m]; ok && d.Label != "" {
		return d.Label
	}
	return string(m)
}

// Rates returns the default exchange rates. Fixed materials are absent.
func (c *Catalog) Rates() Rates {
	r := make(Rates, len(c.materials))
	for _, m := range c.materials {
		if !m.Fixed {
			r[m.Key] = m.Rate
		}
	}
	return r
}
