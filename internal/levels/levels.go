// Package levels maps game level labels such as "紫色3级" onto integer ladders.
package levels

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidLevel is matched by every InvalidLevelError.
var ErrInvalidLevel = errors.New("invalid level")

// InvalidLevelError reports a label that is not part of a ladder.
type InvalidLevelError struct {
	Ladder string
	Label  string
}

func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("%s: unrecognized level %q", e.Ladder, e.Label)
}

func (e *InvalidLevelError) Is(target error) bool { return target == ErrInvalidLevel }

// Tier is a colored band of consecutive levels, e.g. purple 1-10.
type Tier struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
	Size  int    `yaml:"size"`
}

// Rung is one enumerated level of a ladder.
type Rung struct {
	Level  int    `json:"level"`
	Tier   int    `json:"tier"`   // -1 for the unowned rung of a tiered ladder
	Offset int    `json:"offset"` // 1-based position inside the tier
	Key    string `json:"key"`
	Label  string `json:"label"`
}

// Ladder is a bijection between level labels and integer levels 0..Max.
// Tiered ladders number their tiers consecutively after the unowned rung;
// numeric ladders use plain integers.
type Ladder struct {
	name    string
	rungs   []Rung
	byLabel map[string]int
}

// NewTiered enumerates a tiered ladder. unownedKey/unownedLabel name level 0.
func NewTiered(name, unownedKey, unownedLabel string, tiers []Tier) (*Ladder, error) {
	l := &Ladder{name: name, byLabel: make(map[string]int)}
	l.rungs = append(l.rungs, Rung{Level: 0, Tier: -1, Key: unownedKey, Label: unownedLabel})
	for ti, t := range tiers {
		if t.Size <= 0 {
			return nil, fmt.Errorf("%s: tier %q has size %d", name, t.Key, t.Size)
		}
		for off := 1; off <= t.Size; off++ {
			l.rungs = append(l.rungs, Rung{
				Level:  len(l.rungs),
				Tier:   ti,
				Offset: off,
				Key:    fmt.Sprintf("%s-%d", t.Key, off),
				Label:  fmt.Sprintf("%s%d级", t.Label, off),
			})
		}
	}
	if err := l.index(); err != nil {
		return nil, err
	}
	return l, nil
}

// NewNumeric enumerates a plain 0..max ladder.
func NewNumeric(name string, max int) *Ladder {
	l := &Ladder{name: name, byLabel: make(map[string]int)}
	for lv := 0; lv <= max; lv++ {
		s := strconv.Itoa(lv)
		l.rungs = append(l.rungs, Rung{Level: lv, Offset: lv, Key: s, Label: s + "级"})
	}
	_ = l.index() // keys are distinct integers
	return l
}

func (l *Ladder) index() error {
	for _, r := range l.rungs {
		for _, s := range []string{r.Key, r.Label} {
			if s == "" {
				continue
			}
			if prev, dup := l.byLabel[s]; dup && prev != r.Level {
				return fmt.Errorf("%s: label %q used by levels %d and %d", l.name, s, prev, r.Level)
			}
			l.byLabel[s] = r.Level
		}
	}
	return nil
}

func (l *Ladder) Name() string { return l.name }

// Max is the highest level of the ladder.
func (l *Ladder) Max() int { return len(l.rungs) - 1 }

// Rungs returns every level in order.
func (l *Ladder) Rungs() []Rung {
	out := make([]Rung, len(l.rungs))
	copy(out, l.rungs)
	return out
}

// Parse maps a label (key or display label) to its level.
func (l *Ladder) Parse(label string) (int, error) {
	if lv, ok := l.byLabel[strings.TrimSpace(label)]; ok {
		return lv, nil
	}
	return 0, &InvalidLevelError{Ladder: l.name, Label: label}
}

// Check accepts an already-numeric level if it lies on the ladder.
func (l *Ladder) Check(level int) (int, error) {
	if level < 0 || level > l.Max() {
		return 0, &InvalidLevelError{Ladder: l.name, Label: strconv.Itoa(level)}
	}
	return level, nil
}

// Label returns the display label of level, or false when it is off the ladder.
func (l *Ladder) Label(level int) (string, bool) {
	if level < 0 || level > l.Max() {
		return "", false
	}
	return l.rungs[level].Label, true
}

// Position splits a level into (tier index, offset inside the tier).
func (l *Ladder) Position(level int) (tier, offset int, ok bool) {
	if level < 0 || level > l.Max() {
		return 0, 0, false
	}
	r := l.rungs[level]
	return r.Tier, r.Offset, true
}

// Level is the inverse of Position.
func (l *Ladder) Level(tier, offset int) (int, error) {
	for _, r := range l.rungs {
		if r.Tier == tier && r.Offset == offset {
			return r.Level, nil
		}
	}
	return 0, &InvalidLevelError{Ladder: l.name, Label: fmt.Sprintf("tier %d offset %d", tier, offset)}
}
