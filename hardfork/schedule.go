package hardfork

import (
	"errors"
	"fmt"
	"sort"
)

// Selector resolves the hardfork active at a block number. Callers inject it
// so that synthetic schedules can be used in tests.
type Selector func(number uint64) Name

// Fixed returns a selector that reports n for every block.
func Fixed(n Name) Selector {
	return func(uint64) Name { return n }
}

// Activation marks the block from which a hardfork applies.
type Activation struct {
	Block uint64
	Name  Name
}

// Schedule is an ordered list of activations, typically the hardfork history
// of a chain the node was forked from.
type Schedule []Activation

var errEmptySchedule = errors.New("empty hardfork schedule")

// NewSchedule validates and sorts the activations. Names must be known and
// must not go backwards as the block number increases.
func NewSchedule(acts ...Activation) (Schedule, error) {
	if len(acts) == 0 {
		return nil, errEmptySchedule
	}
	s := append(Schedule(nil), acts...)
	sort.SliceStable(s, func(i, j int) bool { return s[i].Block < s[j].Block })

	for i, a := range s {
		if !a.Name.Valid() {
			return nil, fmt.Errorf("activation %d: unknown hardfork %q", i, a.Name)
		}
		if i > 0 && !Gte(a.Name, s[i-1].Name) {
			return nil, fmt.Errorf("hardfork %s at block %d precedes %s at block %d", a.Name, a.Block, s[i-1].Name, s[i-1].Block)
		}
	}
	return s, nil
}

// Single is the schedule of a chain that runs one hardfork from genesis.
func Single(n Name) Schedule {
	return Schedule{{Block: 0, Name: n}}
}

// Select returns the hardfork active at number. Blocks before the first
// activation run under chainstart rules.
func (s Schedule) Select(number uint64) Name {
	active := Chainstart
	for _, a := range s {
		if a.Block > number {
			break
		}
		active = a.Name
	}
	return active
}

// Latest returns the last hardfork of the schedule.
func (s Schedule) Latest() Name {
	if len(s) == 0 {
		return Chainstart
	}
	return s[len(s)-1].Name
}

// activationOf returns the block at which n, or the first hardfork after it,
// becomes active. The boolean is false if the schedule never reaches n.
func (s Schedule) activationOf(n Name) (uint64, bool) {
	for _, a := range s {
		if Gte(a.Name, n) {
			return a.Block, true
		}
	}
	return 0, false
}
