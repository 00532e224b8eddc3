package allocation

import (
	"context"

	"github.com/portops/berthplan/internal/store"
)

// PreemptionOption is one way to make room for an incoming Window-class
// vessel without silently overriding the current occupant's contract.
type PreemptionOption struct {
	Kind          string // expedite | shiftCurrent | limitedTimeContract
	EstimatedCost float64 // waiting-minutes, per spec.md §9's Open Question decision
	Description   string
}

// EnumeratePreemptionOptions implements spec.md §4.E's window-vessel
// preemption menu: when the incoming vessel is priorityClass=Window, three
// options are proposed, ordered by ascending cost estimate. Only the
// incoming vessel's class is checked; the occupant's class and whether it
// overlaps the requested window are not. The caller chooses; nothing in
// this module commits an option automatically.
func (s *Service) EnumeratePreemptionOptions(ctx context.Context, incoming store.Vessel, occupant store.Schedule) ([]PreemptionOption, error) {
	if incoming.PriorityClass != store.PriorityWindow {
		return nil, nil
	}

	waitIfExpedited := 0.0 // no schedule changes; incoming vessel simply waits for the next free slot elsewhere

	shiftCost := occupant.Etd.Sub(occupant.Eta).Minutes() * 0.25 // heuristic: a quarter of the bumped vessel's dwell as re-allocation cost
	truncatedBy := occupant.Etd.Sub(s.clock.Now()).Minutes()
	if truncatedBy < 0 {
		truncatedBy = 0
	}

	options := []PreemptionOption{
		{Kind: "expedite", EstimatedCost: waitIfExpedited, Description: "no schedule change; the incoming vessel is offered the next available slot at this or another compatible berth"},
		{Kind: "shiftCurrent", EstimatedCost: shiftCost, Description: "reallocate the occupying vessel to its next-best compatible berth"},
		{Kind: "limitedTimeContract", EstimatedCost: truncatedBy, Description: "truncate the occupying vessel's etd to free the window"},
	}
	sortOptionsByCost(options)
	return options, nil
}

func sortOptionsByCost(options []PreemptionOption) {
	for i := 1; i < len(options); i++ {
		for j := i; j > 0 && options[j].EstimatedCost < options[j-1].EstimatedCost; j-- {
			options[j], options[j-1] = options[j-1], options[j]
		}
	}
}

// CommitCheapestPreemption returns the lowest-cost option (the first entry
// of an EnumeratePreemptionOptions result), or false when there is none.
// It does not touch the store: no schedule is moved, truncated or
// reallocated for any option kind.
func CommitCheapestPreemption(options []PreemptionOption) (PreemptionOption, bool) {
	if len(options) == 0 {
		return PreemptionOption{}, false
	}
	return options[0], true
}
