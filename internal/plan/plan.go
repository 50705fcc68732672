// Package plan prices fixed upgrade targets: how much material a set of
// current→target moves needs, how much the inventory covers, and what the
// rest costs in currency.
package plan

import (
	"fmt"

	"armory-planner/internal/cost"
)

// Target moves one item from From to To on Track.
type Target struct {
	Name  string `json:"name"`
	Track string `json:"track"`
	From  int    `json:"from"`
	To    int    `json:"to"`
}

// Line is the priced cost of one target.
type Line struct {
	Target
	Need  cost.Bill `json:"need"`
	Price float64   `json:"price"` // currency if every unit were bought
}

// Plan is the combined cost of a set of targets against one inventory.
type Plan struct {
	Lines      []Line    `json:"lines"`
	Need       cost.Bill `json:"need"`
	Covered    cost.Bill `json:"covered"`
	Shortfall  cost.Bill `json:"shortfall"`
	Missing    cost.Bill `json:"missing,omitempty"` // shortfall that has no exchange rate
	Points     float64   `json:"points"` // currency needed for the shortfall
	Budget     float64   `json:"budget"`
	Affordable bool      `json:"affordable"`
	Left       float64   `json:"left"` // Budget - Points, negative when short
}

// Build prices targets. Rates overlay the catalog's defaults. A target whose
// To is not above From costs nothing.
func Build(cat *cost.Catalog, targets []Target, inv cost.Bill, budget float64, rates cost.Rates) (*Plan, error) {
	r := cat.Rates().Merge(rates)
	p := &Plan{
		Need:   cost.Bill{},
		Budget: budget,
	}
	for _, tg := range targets {
		t, err := cat.Track(tg.Track)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", tg.Name, err)
		}
		need := t.RangeCost(tg.From, tg.To)
		p.Lines = append(p.Lines, Line{Target: tg, Need: need, Price: r.Price(need)})
		p.Need.Add(need)
	}
	p.Covered = cost.Covered(p.Need, inv)
	p.Shortfall = cost.Shortfall(p.Need, inv)
	p.Points = r.Price(p.Shortfall)
	p.Left = budget - p.Points
	for m, n := range p.Shortfall {
		if _, ok := r[m]; n > 0 && !ok {
			if p.Missing == nil {
				p.Missing = cost.Bill{}
			}
			p.Missing[m] = n
		}
	}
	p.Affordable = p.Missing == nil && cost.Affordable(p.Points, budget)
	return p, nil
}
