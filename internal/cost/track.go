// Package cost holds the per-level upgrade cost tables and material bills.
package cost

import (
	"errors"
	"fmt"

	"armory-planner/internal/levels"
)

// ErrUnknownTrack is returned when a track name is not in the catalog.
var ErrUnknownTrack = errors.New("unknown track")

// Track is an immutable per-level cost table. steps[i] is the cost of
// advancing from level i to level i+1.
type Track struct {
	name      string
	label     string
	materials []Material
	steps     [][]int
	ladder    *levels.Ladder
}

// NewTrack builds a track. Each row must have one non-negative amount per
// material. A nil ladder gets a numeric 0..len(rows) ladder.
func NewTrack(name, label string, materials []Material, rows [][]int, ladder *levels.Ladder) (*Track, error) {
	if name == "" {
		return nil, errors.New("track name is empty")
	}
	if len(materials) == 0 {
		return nil, fmt.Errorf("track %s: no materials", name)
	}
	steps := make([][]int, len(rows))
	for lv, row := range rows {
		if len(row) != len(materials) {
			return nil, fmt.Errorf("track %s: level %d has %d amounts, want %d", name, lv, len(row), len(materials))
		}
		for i, n := range row {
			if n < 0 {
				return nil, fmt.Errorf("track %s: level %d %s amount %d is negative", name, lv, materials[i], n)
			}
		}
		steps[lv] = append([]int(nil), row...)
	}
	if ladder == nil {
		ladder = levels.NewNumeric(name, len(rows))
	}
	if ladder.Max() != len(rows) {
		return nil, fmt.Errorf("track %s: ladder tops out at %d but the table has %d levels", name, ladder.Max(), len(rows))
	}
	if label == "" {
		label = name
	}
	return &Track{
		name:      name,
		label:     label,
		materials: append([]Material(nil), materials...),
		steps:     steps,
		ladder:    ladder,
	}, nil
}

func (t *Track) Name() string           { return t.name }
func (t *Track) Label() string          { return t.label }
func (t *Track) Ladder() *levels.Ladder { return t.ladder }

// Materials lists the track's materials in table column order.
func (t *Track) Materials() []Material {
	return append([]Material(nil), t.materials...)
}

// MaxLevel is the level reached after the last defined step.
func (t *Track) MaxLevel() int { return len(t.steps) }

// StepCost is the cost of going from level to level+1. Outside the table the
// track is exhausted and the cost is zero.
func (t *Track) StepCost(level int) Bill {
	b := make(Bill, len(t.materials))
	if level < 0 || level >= len(t.steps) {
		return b
	}
	for i, m := range t.materials {
		b[m] = t.steps[level][i]
	}
	return b
}

// RangeCost sums StepCost over [from, to). Inverted or empty ranges cost zero.
func (t *Track) RangeCost(from, to int) Bill {
	total := make(Bill, len(t.materials))
	for _, m := range t.materials {
		total[m] = 0
	}
	if to <= from {
		return total
	}
	from = max(from, 0)
	to = min(to, len(t.steps))
	for lv := from; lv < to; lv++ {
		for i, m := range t.materials {
			total[m] += t.steps[lv][i]
		}
	}
	return total
}

// Monotonic reports whether every material's per-level amount is
// non-decreasing. Tables are assumed monotonic but not required to be.
func (t *Track) Monotonic() bool {
	for lv := 1; lv < len(t.steps); lv++ {
		for i := range t.materials {
			if t.steps[lv][i] < t.steps[lv-1][i] {
				return false
			}
		}
	}
	return true
}
