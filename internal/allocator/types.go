package allocator

import (
	"armory-planner/internal/cost"
)

// Item is one upgradeable slot, e.g. the upper weapon of the infantry.
type Item struct {
	Name  string `json:"name"`
	Track string `json:"track"`
	Group string `json:"group"`
	Level int    `json:"level"`
}

// Pairing keeps Leader's items on Track at most MaxLead levels ahead of the
// lowest Lagger item on the same track. Lagger items are ranked as if they
// were MaxLead levels higher, so the groups advance with the lead intact.
type Pairing struct {
	Track   string `json:"track"`
	Leader  string `json:"leader"`
	Lagger  string `json:"lagger"`
	MaxLead int    `json:"maxLead"`
}

// Ratio ties a group's lowest Track level to Percent% of its lowest Base
// level. Track items are ranked on the Base scale (level*100/Percent). With
// Enforce set, Base steps wait while the ratio is unmet.
type Ratio struct {
	Track   string `json:"track"`
	Base    string `json:"base"`
	Percent int    `json:"percent"`
	Enforce bool   `json:"enforce"`
}

// Constraints is the per-run pairing and ratio configuration.
type Constraints struct {
	Pairings []Pairing `json:"pairings,omitempty"`
	Ratio    *Ratio    `json:"ratio,omitempty"`
}

// Input is everything one allocation run needs. It is not mutated by the run.
type Input struct {
	Catalog     *cost.Catalog `json:"-"`
	Items       []Item        `json:"items"`
	Inventory   cost.Bill     `json:"inventory"`
	Budget      float64       `json:"budget"`
	Rates       cost.Rates    `json:"rates,omitempty"` // overrides the catalog's rates
	Constraints Constraints   `json:"constraints"`
}

// Stop tells why a run ended.
type Stop string

const (
	// StopExhausted: every item reached its track's max level.
	StopExhausted Stop = "exhausted"
	// StopBudget: at least one item could step but none could pay for it.
	StopBudget Stop = "budget"
	// StopConstrained: every unfinished item is held back by a constraint.
	StopConstrained Stop = "constrained"
)

// Step is one committed level-up.
type Step struct {
	Seq       int       `json:"seq"`
	Item      string    `json:"item"`
	Track     string    `json:"track"`
	Group     string    `json:"group"`
	From      int       `json:"from"`
	To        int       `json:"to"`
	Cost      cost.Bill `json:"cost"`
	Bought    cost.Bill `json:"bought"`
	Spent     float64   `json:"spent"`
	Remaining float64   `json:"remaining"`
}

// ItemResult is the before/after level of one item.
type ItemResult struct {
	Name  string `json:"name"`
	Track string `json:"track"`
	Group string `json:"group"`
	From  int    `json:"from"`
	To    int    `json:"to"`
}

// TrackLevel is a group's lowest level on one track.
type TrackLevel struct {
	Track      string  `json:"track"`
	Min        int     `json:"min"`
	Normalized float64 `json:"normalized"`
	Unbounded  bool    `json:"unbounded,omitempty"` // normalized level is +Inf
}

// GroupSummary mirrors the per-troop panel of the result page.
type GroupSummary struct {
	Group  string       `json:"group"`
	Tracks []TrackLevel `json:"tracks"`
	// RatioPercent is min(ratio track)/min(base track)*100, zero while the
	// base minimum is zero or no ratio is configured.
	RatioPercent float64 `json:"ratioPercent"`
}

// Result is the outcome of a run.
type Result struct {
	Upgraded  bool           `json:"upgraded"`
	Stop      Stop           `json:"stop"`
	Items     []ItemResult   `json:"items"`
	Spent     float64        `json:"spent"`
	Remaining float64        `json:"remaining"`
	Consumed  cost.Bill      `json:"consumed"`  // full material cost of every step
	FromStock cost.Bill      `json:"fromStock"` // part of Consumed taken from inventory
	Bought    cost.Bill      `json:"bought"`    // part of Consumed bought with currency
	Inventory cost.Bill      `json:"inventory"` // left after the run
	Steps     []Step         `json:"steps"`
	Groups    []GroupSummary `json:"groups"`
}

// Levels returns the final level per item name.
func (r *Result) Levels() map[string]int {
	out := make(map[string]int, len(r.Items))
	for _, it := range r.Items {
		out[it.Name] = it.To
	}
	return out
}
