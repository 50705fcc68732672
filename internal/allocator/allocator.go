// Package allocator spends a budget of materials and currency on item
// level-ups, one step at a time, always advancing the item that lags most.
package allocator

import (
	"math"
	"sort"

	"go.uber.org/zap"

	"armory-planner/internal/cost"
)

// ── Allocator ───────────────────────────────────────────────────────

// Allocator runs one greedy allocation. It is single-use and not safe for
// concurrent use; build a new one per request.
type Allocator struct {
	in     Input
	tracks []*cost.Track // per item, resolved from the catalog
	rates  cost.Rates

	levels []int
	start  []int
	inv    cost.Bill
	budget float64

	spent     float64
	consumed  cost.Bill
	fromStock cost.Bill
	bought    cost.Bill
	steps     []Step

	log    *zap.Logger
	onStep func(Step)
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the logger. Step commits are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithObserver registers fn to be called after every committed step.
func WithObserver(fn func(Step)) Option {
	return func(a *Allocator) { a.onStep = fn }
}

// New validates in and prepares a run. The caller's maps and slices are
// copied, never written.
func New(in Input, opts ...Option) (*Allocator, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	a := &Allocator{
		in:        in,
		tracks:    make([]*cost.Track, len(in.Items)),
		rates:     in.Catalog.Rates().Merge(in.Rates),
		levels:    make([]int, len(in.Items)),
		start:     make([]int, len(in.Items)),
		inv:       in.Inventory.Clone(),
		budget:    in.Budget,
		consumed:  cost.Bill{},
		fromStock: cost.Bill{},
		bought:    cost.Bill{},
		log:       zap.NewNop(),
	}
	a.in.Items = append([]Item(nil), in.Items...)
	for i, it := range a.in.Items {
		t, _ := in.Catalog.Track(it.Track) // checked by Validate
		a.tracks[i] = t
		a.levels[i] = it.Level
		a.start[i] = it.Level
		for _, m := range t.Materials() {
			if _, ok := a.inv[m]; !ok {
				a.inv[m] = 0
			}
		}
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Allocate is New followed by Run.
func Allocate(in Input, opts ...Option) (Result, error) {
	a, err := New(in, opts...)
	if err != nil {
		return Result{}, err
	}
	return a.Run(), nil
}

// Run executes the allocation. Each pass ranks the eligible items by
// normalized level and commits the first one whose step is affordable; a
// pass that commits nothing ends the run.
func (a *Allocator) Run() Result {
	bound := a.stepBound()
	stop := StopExhausted
	for len(a.steps) < bound {
		ranked, blocked := a.rank()
		if len(ranked) == 0 {
			if blocked > 0 {
				stop = StopConstrained
			}
			break
		}
		committed := false
		for _, c := range ranked {
			if a.commit(c.idx) {
				committed = true
				break
			}
		}
		if !committed {
			stop = StopBudget
			break
		}
	}

	res := a.result(stop)
	a.log.Info("allocation finished",
		zap.String("stop", string(stop)),
		zap.Int("steps", len(res.Steps)),
		zap.Float64("spent", res.Spent),
		zap.Float64("remaining", res.Remaining),
	)
	return res
}

// stepBound is the total number of steps the items could ever take.
func (a *Allocator) stepBound() int {
	n := 0
	for i, t := range a.tracks {
		if lv := a.levels[i]; lv >= 0 && lv < t.MaxLevel() {
			n += t.MaxLevel() - lv
		}
	}
	return n
}

// ── Ranking ─────────────────────────────────────────────────────────

type candidate struct {
	idx int
	key float64
}

// rank returns the items that may step, lowest normalized level first with
// ties kept in registration order, and the count of items held back by a
// constraint.
func (a *Allocator) rank() ([]candidate, int) {
	var cands []candidate
	blocked := 0
	for i, t := range a.tracks {
		lv := a.levels[i]
		if lv < 0 || lv >= t.MaxLevel() {
			continue
		}
		if a.held(i) {
			blocked++
			continue
		}
		cands = append(cands, candidate{idx: i, key: a.normalized(i)})
	}
	sort.SliceStable(cands, func(x, y int) bool { return cands[x].key < cands[y].key })
	return cands, blocked
}

// normalized puts item i on a common scale: laggers of a pairing are credited
// with the allowed lead, and ratio-track levels are scaled up to the base
// track.
func (a *Allocator) normalized(i int) float64 {
	it := a.in.Items[i]
	return a.normalize(it.Group, it.Track, a.levels[i])
}

func (a *Allocator) normalize(group, track string, lv int) float64 {
	for _, p := range a.in.Constraints.Pairings {
		if p.Track == track && p.Lagger == group {
			lv += p.MaxLead
		}
	}
	if r := a.in.Constraints.Ratio; r != nil && r.Track == track {
		return scaled(lv, r.Percent)
	}
	return float64(lv)
}

func scaled(lv, percent int) float64 {
	if percent <= 0 {
		return math.Inf(1)
	}
	return float64(lv) * 100 / float64(percent)
}

// held reports whether a constraint forbids item i's next step.
func (a *Allocator) held(i int) bool {
	it := a.in.Items[i]
	next := a.levels[i] + 1

	for _, p := range a.in.Constraints.Pairings {
		if p.Track != it.Track || p.Leader != it.Group {
			continue
		}
		lag, ok := a.groupMin(p.Lagger, p.Track)
		if !ok {
			continue
		}
		if next-lag > p.MaxLead {
			return true
		}
	}

	if r := a.in.Constraints.Ratio; r != nil && r.Enforce && it.Track == r.Base {
		base, okB := a.groupMin(it.Group, r.Base)
		sub, okS := a.groupMin(it.Group, r.Track)
		// integer form of sub/base < percent/100
		if okB && okS && base > 0 && sub*100 < r.Percent*base {
			return true
		}
	}
	return false
}

// groupMin is the lowest current level among group's items on track.
func (a *Allocator) groupMin(group, track string) (int, bool) {
	lo, found := 0, false
	for i, it := range a.in.Items {
		if it.Group != group || it.Track != track {
			continue
		}
		if !found || a.levels[i] < lo {
			lo, found = a.levels[i], true
		}
	}
	return lo, found
}

// ── Commit ──────────────────────────────────────────────────────────

// commit buys item i's next step if the budget covers the shortfall.
// A shortfall in a material without a rate can never be bought.
func (a *Allocator) commit(i int) bool {
	it := a.in.Items[i]
	from := a.levels[i]
	need := a.tracks[i].StepCost(from)
	short := cost.Shortfall(need, a.inv)
	price := a.rates.Price(short)
	if !a.rates.Buyable(short) || !cost.Affordable(price, a.budget) {
		a.log.Debug("step unaffordable",
			zap.String("item", it.Name),
			zap.Int("level", from),
			zap.Float64("price", price),
			zap.Float64("budget", a.budget),
		)
		return false
	}

	used := cost.Covered(need, a.inv)
	for m, n := range used {
		a.inv[m] -= n
	}
	a.budget = max(a.budget-price, 0)
	a.spent += price
	a.levels[i] = from + 1
	a.consumed.Add(need)
	a.fromStock.Add(used)
	a.bought.Add(short)

	step := Step{
		Seq:       len(a.steps) + 1,
		Item:      it.Name,
		Track:     it.Track,
		Group:     it.Group,
		From:      from,
		To:        from + 1,
		Cost:      need,
		Bought:    short,
		Spent:     price,
		Remaining: a.budget,
	}
	a.steps = append(a.steps, step)
	a.log.Debug("step",
		zap.Int("seq", step.Seq),
		zap.String("item", it.Name),
		zap.Int("to", step.To),
		zap.Float64("spent", price),
	)
	if a.onStep != nil {
		a.onStep(step)
	}
	return true
}

// ── Result ──────────────────────────────────────────────────────────

func (a *Allocator) result(stop Stop) Result {
	res := Result{
		Upgraded:  len(a.steps) > 0,
		Stop:      stop,
		Items:     make([]ItemResult, len(a.in.Items)),
		Spent:     a.spent,
		Remaining: a.budget,
		Consumed:  a.consumed.Clone(),
		FromStock: a.fromStock.Clone(),
		Bought:    a.bought.Clone(),
		Inventory: a.inv.Clone(),
		Steps:     append([]Step(nil), a.steps...),
		Groups:    a.summarize(),
	}
	for i, it := range a.in.Items {
		res.Items[i] = ItemResult{
			Name:  it.Name,
			Track: it.Track,
			Group: it.Group,
			From:  a.start[i],
			To:    a.levels[i],
		}
	}
	return res
}

// summarize reports, per group in registration order, the lowest level on
// each of its tracks and the achieved ratio.
func (a *Allocator) summarize() []GroupSummary {
	var out []GroupSummary
	seen := map[string]bool{}
	for _, it := range a.in.Items {
		if seen[it.Group] {
			continue
		}
		seen[it.Group] = true
		gs := GroupSummary{Group: it.Group}

		tracked := map[string]bool{}
		for _, jt := range a.in.Items {
			if jt.Group != it.Group || tracked[jt.Track] {
				continue
			}
			tracked[jt.Track] = true
			lo, _ := a.groupMin(it.Group, jt.Track)
			tl := TrackLevel{Track: jt.Track, Min: lo, Normalized: a.normalize(it.Group, jt.Track, lo)}
			if math.IsInf(tl.Normalized, 1) {
				tl.Normalized, tl.Unbounded = 0, true
			}
			gs.Tracks = append(gs.Tracks, tl)
		}

		if r := a.in.Constraints.Ratio; r != nil {
			base, okB := a.groupMin(it.Group, r.Base)
			sub, okS := a.groupMin(it.Group, r.Track)
			if okB && okS && base > 0 {
				gs.RatioPercent = float64(sub) * 100 / float64(base)
			}
		}
		out = append(out, gs)
	}
	return out
}
