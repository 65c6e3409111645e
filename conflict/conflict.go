// Package conflict checks a child's date interval against its parent's and
// proposes how to expand the parent so the child fits.
package conflict

import (
	"fmt"
	"time"

	"github.com/ThunderHDs/taskmaster-sub001/task"
)

// Child is the part of a task the resolver needs.
type Child struct {
	Title    string
	Interval task.Interval
}

type Result struct {
	HasConflict    bool       `json:"has_conflict"`
	Message        string     `json:"message,omitempty"`
	SuggestedStart *time.Time `json:"suggested_start,omitempty"`
	SuggestedEnd   *time.Time `json:"suggested_end,omitempty"`
}

// Resolve compares child against parent. Only violated bounds get a
// suggestion; the parent is always expanded, never the child shrunk.
// Resolve has no side effects and never panics on nil bounds.
func Resolve(child Child, parent task.Interval) Result {
	if !child.Interval.Complete() {
		return Result{}
	}
	cs, ce := *child.Interval.Start, *child.Interval.End

	if !parent.Complete() {
		return Result{
			HasConflict:    true,
			Message:        fmt.Sprintf("parent has no complete date range; adopting %s to %s from %q", task.FormatDate(cs), task.FormatDate(ce), child.Title),
			SuggestedStart: &cs,
			SuggestedEnd:   &ce,
		}
	}
	ps, pe := *parent.Start, *parent.End

	var res Result
	var msg string
	if cs.Before(ps) {
		res.SuggestedStart = &cs
		msg = fmt.Sprintf("%q starts %s, before its parent (%s)", child.Title, task.FormatDate(cs), task.FormatDate(ps))
	}
	if ce.After(pe) {
		res.SuggestedEnd = &ce
		endMsg := fmt.Sprintf("%q ends %s, after its parent (%s)", child.Title, task.FormatDate(ce), task.FormatDate(pe))
		if msg != "" {
			msg += "; " + endMsg
		} else {
			msg = endMsg
		}
	}
	if res.SuggestedStart == nil && res.SuggestedEnd == nil {
		return Result{}
	}
	res.HasConflict = true
	res.Message = msg
	return res
}

// Apply returns parent expanded by the suggestions in r. Bounds without a
// suggestion are copied unchanged.
func (r Result) Apply(parent task.Interval) task.Interval {
	out := parent.Clone()
	if !r.HasConflict {
		return out
	}
	if r.SuggestedStart != nil {
		s := *r.SuggestedStart
		out.Start = &s
	}
	if r.SuggestedEnd != nil {
		e := *r.SuggestedEnd
		out.End = &e
	}
	return out
}

// Contains reports whether child lies within parent. Undecidable pairs
// (either interval incomplete) count as contained.
func Contains(parent, child task.Interval) bool {
	if !parent.Complete() || !child.Complete() {
		return true
	}
	return !child.Start.Before(*parent.Start) && !child.End.After(*parent.End)
}
