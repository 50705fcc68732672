package cost

import (
	"sort"
)

// Material names one kind of upgrade material, e.g. "wood".
type Material string

// Bill is an amount per material. A nil or empty Bill is the zero cost.
type Bill map[Material]int

// Clone returns an independent copy; the zero Bill clones to an empty map.
func (b Bill) Clone() Bill {
	out := make(Bill, len(b))
	for m, n := range b {
		out[m] = n
	}
	return out
}

// Add accumulates o into b.
func (b Bill) Add(o Bill) {
	for m, n := range o {
		b[m] += n
	}
}

// IsZero reports whether every amount is zero.
func (b Bill) IsZero() bool {
	for _, n := range b {
		if n != 0 {
			return false
		}
	}
	return true
}

// Materials returns the bill's materials in sorted order.
func (b Bill) Materials() []Material {
	ms := make([]Material, 0, len(b))
	for m := range b {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i] < ms[j] })
	return ms
}

// Shortfall returns, per material of need, how much stock does not cover.
func Shortfall(need, stock Bill) Bill {
	out := make(Bill, len(need))
	for m, n := range need {
		if d := n - stock[m]; d > 0 {
			out[m] = d
		} else {
			out[m] = 0
		}
	}
	return out
}

// Covered returns, per material of need, how much stock does cover.
func Covered(need, stock Bill) Bill {
	out := make(Bill, len(need))
	for m, n := range need {
		out[m] = min(n, max(stock[m], 0))
	}
	return out
}

// Rates is the currency price of one unit of each material.
type Rates map[Material]float64

// Price is the currency needed to buy b. Materials are summed in sorted order
// so the result does not depend on map iteration.
func (r Rates) Price(b Bill) float64 {
	total := 0.0
	for _, m := range b.Materials() {
		total += float64(b[m]) * r[m]
	}
	return total
}

// Buyable reports whether every material b needs has an exchange rate.
// Materials without one can only come from inventory.
func (r Rates) Buyable(b Bill) bool {
	for m, n := range b {
		if _, ok := r[m]; n > 0 && !ok {
			return false
		}
	}
	return true
}

// priceTolerance absorbs float error from summing fractional rates.
const priceTolerance = 1e-9

// Affordable reports whether price fits in budget.
func Affordable(price, budget float64) bool {
	return price <= budget+priceTolerance
}

// Merge returns r overlaid with o.
func (r Rates) Merge(o Rates) Rates {
	out := make(Rates, len(r)+len(o))
	for m, v := range r {
		out[m] = v
	}
	for m, v := range o {
		out[m] = v
	}
	return out
}
