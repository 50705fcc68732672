package allocator

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput wraps every rejection made before a run starts.
var ErrInvalidInput = errors.New("invalid allocation input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Validate checks the input without running it. Item levels outside their
// track are accepted: such items simply never step.
func (in *Input) Validate() error {
	if in.Catalog == nil {
		return invalid("no catalog")
	}
	if math.IsNaN(in.Budget) || math.IsInf(in.Budget, 0) || in.Budget < 0 {
		return invalid("budget %v must be a non-negative number", in.Budget)
	}
	for m, n := range in.Inventory {
		if n < 0 {
			return invalid("inventory %s is negative (%d)", m, n)
		}
	}
	for m, r := range in.Rates {
		if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
			return invalid("rate for %s must be a non-negative number, got %v", m, r)
		}
	}

	seen := make(map[string]bool, len(in.Items))
	for i, it := range in.Items {
		if it.Name == "" {
			return invalid("item %d has no name", i)
		}
		if seen[it.Name] {
			return invalid("duplicate item %q", it.Name)
		}
		seen[it.Name] = true
		if _, err := in.Catalog.Track(it.Track); err != nil {
			return fmt.Errorf("%w: item %q: %w", ErrInvalidInput, it.Name, err)
		}
	}

	for _, p := range in.Constraints.Pairings {
		if _, err := in.Catalog.Track(p.Track); err != nil {
			return fmt.Errorf("%w: pairing: %w", ErrInvalidInput, err)
		}
		if p.Leader == p.Lagger {
			return invalid("pairing on %s pairs group %q with itself", p.Track, p.Leader)
		}
		if p.MaxLead < 0 {
			return invalid("pairing %s/%s on %s has negative lead %d", p.Leader, p.Lagger, p.Track, p.MaxLead)
		}
	}
	if r := in.Constraints.Ratio; r != nil {
		if _, err := in.Catalog.Track(r.Track); err != nil {
			return fmt.Errorf("%w: ratio: %w", ErrInvalidInput, err)
		}
		if _, err := in.Catalog.Track(r.Base); err != nil {
			return fmt.Errorf("%w: ratio: %w", ErrInvalidInput, err)
		}
		if r.Track == r.Base {
			return invalid("ratio relates track %s to itself", r.Track)
		}
		if r.Percent < 0 {
			return invalid("ratio percent %d is negative", r.Percent)
		}
	}
	return nil
}
