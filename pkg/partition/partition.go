// Package partition decides whether a node should leave its partition for
// one it has heard about.
//
// The comparison is a pure function over two LeaderData values and their
// router counts. Rules are evaluated in a fixed order and the first match
// wins; the order encodes Thread partition priority, including the special
// case that lets a lone REED merge into another singleton partition.
package partition

import (
	"fmt"

	"github.com/backkem/thread/pkg/netdata"
)

// Decision is the outcome of a partition comparison.
type Decision uint8

const (
	// Reject keeps the current partition.
	Reject Decision = iota
	// Accept moves to the heard partition.
	Accept
)

func (d Decision) String() string {
	switch d {
	case Reject:
		return "Reject"
	case Accept:
		return "Accept"
	default:
		return fmt.Sprintf("Decision(%d)", d)
	}
}

// Previous identifies a partition this node recently abandoned.
type Previous struct {
	PartitionID uint32

	// Sequence is the data version last seen from that partition.
	Sequence uint8
}

// Policy carries the local context the comparison rules need.
// The zero Policy applies no history, forming or override rules.
type Policy struct {
	// Previous, when set, rejects the abandoned partition until its
	// sequence moves forward.
	Previous *Previous

	// Forming is set while this node is guaranteed to form a partition of
	// FormingWeighting; weaker heard partitions are then rejected.
	Forming          bool
	FormingWeighting uint8

	// WeightingOverride, when set, replaces the current partition's
	// weighting in the weighting rule only. The forming rule always compares
	// against FormingWeighting, and the singleton merge rule runs first.
	WeightingOverride *uint8
}

// Singleton reports whether a partition with routers routers is a singleton.
func Singleton(routers uint8) bool {
	return routers <= 1
}

// Rule names the rule that produced a decision.
type Rule uint8

const (
	RulePrevious Rule = iota + 1
	RuleSingletonMerge
	RuleForming
	RuleSingleton
	RuleWeighting
	RulePartitionID
)

func (r Rule) String() string {
	switch r {
	case RulePrevious:
		return "previous-partition"
	case RuleSingletonMerge:
		return "singleton-merge"
	case RuleForming:
		return "forming"
	case RuleSingleton:
		return "singleton"
	case RuleWeighting:
		return "weighting"
	case RulePartitionID:
		return "partition-id"
	default:
		return fmt.Sprintf("Rule(%d)", r)
	}
}

// Compare applies the rules with the zero Policy.
func Compare(heard netdata.LeaderData, heardRouters uint8, current netdata.LeaderData, currentRouters uint8) Decision {
	return Policy{}.Compare(heard, heardRouters, current, currentRouters)
}

// Compare returns whether to move from current to heard.
func (p Policy) Compare(heard netdata.LeaderData, heardRouters uint8, current netdata.LeaderData, currentRouters uint8) Decision {
	d, _ := p.Explain(heard, heardRouters, current, currentRouters)
	return d
}

// Explain is Compare that also reports the deciding rule.
func (p Policy) Explain(heard netdata.LeaderData, heardRouters uint8, current netdata.LeaderData, currentRouters uint8) (Decision, Rule) {
	if p.Previous != nil && heard.PartitionID == p.Previous.PartitionID &&
		!netdata.SerialGreater(heard.DataVersion, p.Previous.Sequence) {
		return Reject, RulePrevious
	}

	heardSingleton := Singleton(heardRouters)
	currentSingleton := Singleton(currentRouters)

	if heardSingleton && currentSingleton && heardRouters == 0 {
		return Accept, RuleSingletonMerge
	}

	currentWeighting := current.Weighting
	if p.WeightingOverride != nil {
		currentWeighting = *p.WeightingOverride
	}

	if p.Forming && heard.Weighting < p.FormingWeighting {
		return Reject, RuleForming
	}

	if heardSingleton != currentSingleton {
		if currentSingleton {
			return Accept, RuleSingleton
		}
		return Reject, RuleSingleton
	}

	if heard.Weighting != currentWeighting {
		if heard.Weighting > currentWeighting {
			return Accept, RuleWeighting
		}
		return Reject, RuleWeighting
	}

	if heard.PartitionID > current.PartitionID {
		return Accept, RulePartitionID
	}
	return Reject, RulePartitionID
}
