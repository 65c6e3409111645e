// Package task defines the task record shared by the tree, the engine and
// the persistence gateways.
package task

import (
	"errors"
	"slices"
	"time"
)

var ErrInvalidTask = errors.New("invalid task")

// Interval is an optional date range. Either bound may be nil.
type Interval struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Complete reports whether both bounds are set.
func (i Interval) Complete() bool {
	return i.Start != nil && i.End != nil
}

func (i Interval) Empty() bool {
	return i.Start == nil && i.End == nil
}

// Clone returns an Interval that shares no pointers with i.
func (i Interval) Clone() Interval {
	return Interval{Start: cloneTime(i.Start), End: cloneTime(i.End)}
}

func (i Interval) Equal(o Interval) bool {
	return timeEqual(i.Start, o.Start) && timeEqual(i.End, o.End)
}

type Task struct {
	ID              string     `json:"id"`
	ParentID        string     `json:"parent_id,omitempty"`
	Title           string     `json:"title"`
	Interval        Interval   `json:"interval"`
	Completed       bool       `json:"completed"`
	OriginalDueDate *time.Time `json:"original_due_date,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Group           string     `json:"group,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand tasks across goroutines
// without sharing the date pointers or the tag slice.
func (t Task) Clone() Task {
	out := t
	out.Interval = t.Interval.Clone()
	out.OriginalDueDate = cloneTime(t.OriginalDueDate)
	out.Tags = slices.Clone(t.Tags)
	return out
}

// Patch specifies which fields to change. Nil fields are left unchanged.
type Patch struct {
	Title           *string   `json:"title,omitempty"`
	Completed       *bool     `json:"completed,omitempty"`
	Interval        *Interval `json:"interval,omitempty"`
	OriginalDueDate *DueDate  `json:"original_due_date,omitempty"`
	Tags            *[]string `json:"tags,omitempty"`
	Group           *string   `json:"group,omitempty"`
}

// DueDate carries an optional date inside a Patch so the date can be
// cleared (nil Value) as well as set.
type DueDate struct {
	Value *time.Time `json:"value"`
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Completed == nil && p.Interval == nil &&
		p.OriginalDueDate == nil && p.Tags == nil && p.Group == nil
}

// TouchesDates reports whether the patch sets any date field explicitly.
func (p Patch) TouchesDates() bool {
	return p.Interval != nil || p.OriginalDueDate != nil
}

// Apply returns t with the patch merged in. t itself is not modified.
func (p Patch) Apply(t Task) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Completed != nil {
		out.Completed = *p.Completed
	}
	if p.Interval != nil {
		out.Interval = p.Interval.Clone()
	}
	if p.OriginalDueDate != nil {
		out.OriginalDueDate = cloneTime(p.OriginalDueDate.Value)
	}
	if p.Tags != nil {
		out.Tags = slices.Clone(*p.Tags)
	}
	if p.Group != nil {
		out.Group = *p.Group
	}
	return out
}

// Snapshot captures every field a reversible mutation can change.
type Snapshot struct {
	Title           string     `json:"title"`
	Completed       bool       `json:"completed"`
	Interval        Interval   `json:"interval"`
	OriginalDueDate *time.Time `json:"original_due_date,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Group           string     `json:"group,omitempty"`
}

func SnapshotOf(t Task) Snapshot {
	c := t.Clone()
	return Snapshot{
		Title:           c.Title,
		Completed:       c.Completed,
		Interval:        c.Interval,
		OriginalDueDate: c.OriginalDueDate,
		Tags:            c.Tags,
		Group:           c.Group,
	}
}

// Patch returns a patch that sets every field explicitly, so applying it
// restores the snapshot exactly regardless of backend normalization.
func (s Snapshot) Patch() Patch {
	title := s.Title
	completed := s.Completed
	interval := s.Interval.Clone()
	tags := slices.Clone(s.Tags)
	if tags == nil {
		tags = []string{}
	}
	group := s.Group
	return Patch{
		Title:           &title,
		Completed:       &completed,
		Interval:        &interval,
		OriginalDueDate: &DueDate{Value: cloneTime(s.OriginalDueDate)},
		Tags:            &tags,
		Group:           &group,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
