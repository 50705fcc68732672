// Package archive decodes allocation requests: the troop sheet a player
// fills in (current levels, inventory, currency and balancing knobs) turned
// into an allocator.Input.
package archive

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"armory-planner/internal/allocator"
	"armory-planner/internal/cost"
	"armory-planner/internal/plan"
)

// ErrInvalidRequest is wrapped by every decoding failure.
var ErrInvalidRequest = errors.New("invalid request")

//go:embed request.schema.json
var requestSchema string

// Layout is how troop levels are entered.
type Layout string

const (
	// LayoutDetailed lists every slot: two weapons and four jades per side.
	LayoutDetailed Layout = "detailed"
	// LayoutSimple gives one weapon level and one jade level per troop.
	LayoutSimple Layout = "simple"
)

// Slot names of a troop.
var (
	WeaponSlots = []string{"upper", "lower"}
	JadeSides   = []string{"upper", "lower"}
)

// JadesPerSide is the number of jade sockets on each side of a troop.
const JadesPerSide = 4

// Defaults fills constraint knobs the request leaves out.
type Defaults struct {
	WeaponLead   int  `mapstructure:"weapon_lead"`
	JadeLead     int  `mapstructure:"jade_lead"`
	JadePercent  int  `mapstructure:"jade_percent"`
	EnforceRatio bool `mapstructure:"enforce_ratio"`
}

// StandardDefaults are the stock balancing knobs: foot may lead archer by
// five weapon levels and two jade levels, jade kept at 40% of weapon.
func StandardDefaults() Defaults {
	return Defaults{WeaponLead: 5, JadeLead: 2, JadePercent: 40, EnforceRatio: true}
}

// Request is a decoded request.
type Request struct {
	Layout  Layout          `json:"layout"`
	Troops  []string        `json:"troops,omitempty"`
	Input   allocator.Input `json:"input"`
	Targets []plan.Target   `json:"targets,omitempty"`
}

// Decoder turns raw request JSON into a Request against one catalog.
type Decoder struct {
	cat    *cost.Catalog
	def    Defaults
	schema *jsonschema.Schema
}

// NewDecoder compiles the request schema.
func NewDecoder(cat *cost.Catalog, def Defaults) (*Decoder, error) {
	s, err := jsonschema.CompileString("request.schema.json", requestSchema)
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return &Decoder{cat: cat, def: def, schema: s}, nil
}

// Catalog returns the catalog requests are decoded against.
func (d *Decoder) Catalog() *cost.Catalog { return d.cat }

// Decode validates raw against the schema and resolves every level label.
func (d *Decoder) Decode(raw []byte) (*Request, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: malformed JSON", ErrInvalidRequest)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := d.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	root := gjson.ParseBytes(raw)
	req := &Request{
		Layout: LayoutDetailed,
		Input: allocator.Input{
			Catalog:   d.cat,
			Budget:    root.Get("budget").Float(),
			Inventory: cost.Bill{},
		},
	}
	if l := root.Get("layout"); l.Exists() {
		req.Layout = Layout(l.String())
	}
	root.Get("inventory").ForEach(func(k, v gjson.Result) bool {
		req.Input.Inventory[cost.Material(k.String())] = int(v.Int())
		return true
	})
	if rates := root.Get("rates"); rates.Exists() {
		req.Input.Rates = cost.Rates{}
		rates.ForEach(func(k, v gjson.Result) bool {
			req.Input.Rates[cost.Material(k.String())] = v.Float()
			return true
		})
	}

	var err error
	root.Get("troops").ForEach(func(_, t gjson.Result) bool {
		var items []allocator.Item
		items, err = d.troopItems(req.Layout, t)
		if err != nil {
			return false
		}
		req.Troops = append(req.Troops, t.Get("name").String())
		req.Input.Items = append(req.Input.Items, items...)
		return true
	})
	if err != nil {
		return nil, err
	}

	root.Get("items").ForEach(func(_, v gjson.Result) bool {
		var it allocator.Item
		it, err = d.item(v)
		if err != nil {
			return false
		}
		req.Input.Items = append(req.Input.Items, it)
		return true
	})
	if err != nil {
		return nil, err
	}

	req.Input.Constraints = d.constraints(root.Get("constraints"), req.Troops)

	root.Get("targets").ForEach(func(_, v gjson.Result) bool {
		var tg plan.Target
		tg, err = d.target(v, req.Input.Items)
		if err != nil {
			return false
		}
		req.Targets = append(req.Targets, tg)
		return true
	})
	if err != nil {
		return nil, err
	}

	if err := req.Input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return req, nil
}

// ── Troops ──────────────────────────────────────────────────────────

// WeaponItem names a troop's weapon slot item.
func WeaponItem(troop, slot string) string { return troop + "-weapon-" + slot }

// JadeItem names the n-th (1-based) jade socket on one side of a troop.
func JadeItem(troop, side string, n int) string {
	return fmt.Sprintf("%s-jade-%s-%d", troop, side, n)
}

func (d *Decoder) troopItems(layout Layout, t gjson.Result) ([]allocator.Item, error) {
	name := t.Get("name").String()
	foreign := []string{"weapon", "jade"}
	if layout == LayoutSimple {
		foreign = []string{"weapons", "jades"}
	}
	for _, key := range foreign {
		if t.Get(key).Exists() {
			return nil, fmt.Errorf("%w: troop %q: field %q does not belong to the %s layout",
				ErrInvalidRequest, name, key, layout)
		}
	}

	var items []allocator.Item
	add := func(item, track string, v gjson.Result) error {
		lv, err := d.level(track, v, item)
		if err != nil {
			return err
		}
		items = append(items, allocator.Item{Name: item, Track: track, Group: name, Level: lv})
		return nil
	}

	for _, slot := range WeaponSlots {
		v := t.Get("weapons." + slot)
		if layout == LayoutSimple {
			v = t.Get("weapon")
		}
		if err := add(WeaponItem(name, slot), cost.Weapon, v); err != nil {
			return nil, err
		}
	}
	for _, side := range JadeSides {
		slots := t.Get("jades." + side).Array()
		for n := 1; n <= JadesPerSide; n++ {
			var v gjson.Result
			switch {
			case layout == LayoutSimple:
				v = t.Get("jade")
			case n <= len(slots):
				v = slots[n-1]
			}
			if err := add(JadeItem(name, side, n), cost.Jade, v); err != nil {
				return nil, err
			}
		}
	}
	return items, nil
}

func (d *Decoder) item(v gjson.Result) (allocator.Item, error) {
	it := allocator.Item{
		Name:  v.Get("name").String(),
		Track: v.Get("track").String(),
		Group: v.Get("group").String(),
	}
	lv, err := d.level(it.Track, v.Get("level"), it.Name)
	if err != nil {
		return it, err
	}
	it.Level = lv
	return it, nil
}

func (d *Decoder) target(v gjson.Result, items []allocator.Item) (plan.Target, error) {
	tg := plan.Target{Name: v.Get("name").String(), Track: v.Get("track").String()}
	var current *allocator.Item
	for i := range items {
		if items[i].Name == tg.Name {
			current = &items[i]
			break
		}
	}
	if tg.Track == "" {
		if current == nil {
			return tg, fmt.Errorf("%w: target %q names no item and has no track", ErrInvalidRequest, tg.Name)
		}
		tg.Track = current.Track
	}

	var err error
	if from := v.Get("from"); from.Exists() || current == nil {
		if tg.From, err = d.level(tg.Track, from, tg.Name); err != nil {
			return tg, err
		}
	} else {
		tg.From = current.Level
	}
	if tg.To, err = d.level(tg.Track, v.Get("to"), tg.Name); err != nil {
		return tg, err
	}
	return tg, nil
}

// level reads a level given as a number or a ladder label. Absent means 0.
func (d *Decoder) level(track string, v gjson.Result, field string) (int, error) {
	t, err := d.cat.Track(track)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, field, err)
	}
	var lv int
	switch v.Type {
	case gjson.Null:
		return 0, nil
	case gjson.Number:
		lv, err = t.Ladder().Check(int(v.Int()))
	default:
		lv, err = t.Ladder().Parse(v.String())
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, field, err)
	}
	return lv, nil
}

// ── Constraints ─────────────────────────────────────────────────────

// constraints uses explicit pairings and ratio when given. Otherwise each
// troop leads the next one in the list by the weapon and jade leads, and
// jade follows weapon at the configured percentage.
func (d *Decoder) constraints(c gjson.Result, troops []string) allocator.Constraints {
	var out allocator.Constraints

	weaponLead := intOr(c.Get("weaponLead"), d.def.WeaponLead)
	jadeLead := intOr(c.Get("jadeLead"), d.def.JadeLead)

	if ps := c.Get("pairings"); ps.Exists() {
		ps.ForEach(func(_, p gjson.Result) bool {
			out.Pairings = append(out.Pairings, allocator.Pairing{
				Track:   p.Get("track").String(),
				Leader:  p.Get("leader").String(),
				Lagger:  p.Get("lagger").String(),
				MaxLead: int(p.Get("maxLead").Int()),
			})
			return true
		})
	} else {
		for i := 0; i+1 < len(troops); i++ {
			out.Pairings = append(out.Pairings,
				allocator.Pairing{Track: cost.Weapon, Leader: troops[i], Lagger: troops[i+1], MaxLead: weaponLead},
				allocator.Pairing{Track: cost.Jade, Leader: troops[i], Lagger: troops[i+1], MaxLead: jadeLead},
			)
		}
	}

	switch r := c.Get("ratio"); {
	case r.Exists():
		out.Ratio = &allocator.Ratio{
			Track:   r.Get("track").String(),
			Base:    r.Get("base").String(),
			Percent: int(r.Get("percent").Int()),
			Enforce: boolOr(r.Get("enforce"), d.def.EnforceRatio),
		}
	case len(troops) > 0:
		out.Ratio = &allocator.Ratio{
			Track:   cost.Jade,
			Base:    cost.Weapon,
			Percent: intOr(c.Get("jadePercent"), d.def.JadePercent),
			Enforce: boolOr(c.Get("enforceRatio"), d.def.EnforceRatio),
		}
	}
	return out
}

func intOr(v gjson.Result, def int) int {
	if v.Exists() {
		return int(v.Int())
	}
	return def
}

func boolOr(v gjson.Result, def bool) bool {
	if v.Exists() {
		return v.Bool()
	}
	return def
}
