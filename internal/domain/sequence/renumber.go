package sequence

import (
	ierr "github.com/branchdesk/sequencer/internal/errors"
	"github.com/samber/lo"
)

// Decision is the outcome for one proposed item of an edit
type Decision struct {
	// Retained is true when the item keeps a number it already had
	Retained bool
	// Number is the kept number for retained items, zero until assigned otherwise
	Number int64
	// Ignored holds a client-supplied number that was not honoured
	Ignored *int64
}

// Plan is the classification of an edit, one decision per proposed item in order
type Plan struct {
	Decisions []Decision
	NewCount  int64
}

// Classify decides which proposed items keep their number.
//
// An item is retained when it declares a number from the submission's own
// existing set that no earlier item in the same edit already claimed.
// Everything else needs a fresh number; a declared number that is foreign,
// fabricated or claimed twice is ignored rather than honoured.
func Classify(existing []int64, proposed []*int64) Plan {
	owned := lo.SliceToMap(existing, func(n int64) (int64, bool) { return n, true })
	claimed := make(map[int64]bool, len(proposed))

	plan := Plan{Decisions: make([]Decision, len(proposed))}
	for i, declared := range proposed {
		if declared != nil && owned[*declared] && !claimed[*declared] {
			claimed[*declared] = true
			plan.Decisions[i] = Decision{Retained: true, Number: *declared}
			continue
		}
		plan.Decisions[i] = Decision{Ignored: declared}
		plan.NewCount++
	}
	return plan
}

// Assign hands the block to the new items in proposed order and returns the
// final number of every item. The block must hold exactly NewCount numbers.
func (p Plan) Assign(block Block) ([]int64, error) {
	if block.Count() != p.NewCount {
		return nil, ierr.NewErrorf("block holds %d numbers, plan needs %d", block.Count(), p.NewCount).
			Mark(ierr.ErrAllocationFailed)
	}

	next := block.Start
	numbers := make([]int64, len(p.Decisions))
	for i, d := range p.Decisions {
		if d.Retained {
			numbers[i] = d.Number
			continue
		}
		numbers[i] = next
		next++
	}
	return numbers, nil
}

// Dropped returns the existing numbers no retained item kept. They are burned.
func (p Plan) Dropped(existing []int64) []int64 {
	kept := lo.FilterMap(p.Decisions, func(d Decision, _ int) (int64, bool) {
		return d.Number, d.Retained
	})
	return lo.Without(existing, kept...)
}
