// Package diff compares expected and actual output line sequences and
// renders the result as HTML. Comparison and rendering are pure
// functions with no shared state, safe for concurrent callers.
package diff

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Op classifies a group of aligned lines.
type Op string

// Line group classifications.
const (
	OpEqual   Op = "equal"
	OpAdded   Op = "added"
	OpRemoved Op = "removed"
	OpChanged Op = "changed"
)

// Group is a run of consecutive lines with the same classification.
// Line numbers are 1-based positions in the respective input; a group
// with no lines on one side (pure addition or removal) carries the
// position the lines would occupy.
type Group struct {
	Op Op

	// ExpectedStart is the 1-based first line of the group in the
	// expected input. Expected holds the group's expected lines.
	ExpectedStart int
	Expected      []string

	// ActualStart and Actual mirror the above for the actual input.
	ActualStart int
	Actual      []string
}

// Compute aligns the two line sequences with a longest-common-
// subsequence match and returns the classified line groups. Empty
// inputs are valid: both empty yields no groups, one empty yields a
// single all-added or all-removed group.
func Compute(expected, actual []string) []Group {
	matcher := difflib.NewMatcher(expected, actual)

	opcodes := matcher.GetOpCodes()
	groups := make([]Group, 0, len(opcodes))

	for _, oc := range opcodes {
		group := Group{
			ExpectedStart: oc.I1 + 1,
			ActualStart:   oc.J1 + 1,
		}

		switch oc.Tag {
		case 'e':
			group.Op = OpEqual
		case 'r':
			group.Op = OpChanged
		case 'd':
			group.Op = OpRemoved
		case 'i':
			group.Op = OpAdded
		default:
			continue
		}

		if oc.I2 > oc.I1 {
			group.Expected = append(group.Expected, expected[oc.I1:oc.I2]...)
		}

		if oc.J2 > oc.J1 {
			group.Actual = append(group.Actual, actual[oc.J1:oc.J2]...)
		}

		groups = append(groups, group)
	}

	return groups
}

// Identical reports whether the groups describe two equal inputs.
func Identical(groups []Group) bool {
	for _, g := range groups {
		if g.Op != OpEqual {
			return false
		}
	}

	return true
}
