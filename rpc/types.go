// Package rpc defines JSON-RPC 2.0 wire format types for WebSocket communication.
// These types represent the params and result structures for all RPC methods.
package rpc

import (
	"fmt"

	"github.com/ThunderHDs/taskmaster-sub001/conflict"
	"github.com/ThunderHDs/taskmaster-sub001/history"
	"github.com/ThunderHDs/taskmaster-sub001/task"
)

// Client → Server

type AuthParams struct {
	Token string `json:"token"`
}

type AuthResult struct {
	Version string `json:"version"`
	Title   string `json:"title"`
}

// DateRange carries dates as "2006-01-02" strings; empty means unset.
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Interval parses the range.
func (d DateRange) Interval() (task.Interval, error) {
	start, err := task.ParseOptionalDate(d.Start)
	if err != nil {
		return task.Interval{}, err
	}
	end, err := task.ParseOptionalDate(d.End)
	if err != nil {
		return task.Interval{}, err
	}
	iv := task.Interval{Start: start, End: end}
	return iv, iv.Validate()
}

// Task namespace

type TaskGetParams struct {
	ID string `json:"id"`
}

type TaskCreateParams struct {
	ID       string   `json:"id,omitempty"`
	ParentID string   `json:"parent_id,omitempty"`
	Title    string   `json:"title"`
	Tags     []string `json:"tags,omitempty"`
	Group    string   `json:"group,omitempty"`
	DateRange
}

// Task builds the record to create.
func (p TaskCreateParams) Task() (task.Task, error) {
	iv, err := p.Interval()
	if err != nil {
		return task.Task{}, err
	}
	return task.Task{
		ID:       p.ID,
		ParentID: p.ParentID,
		Title:    p.Title,
		Interval: iv,
		Tags:     p.Tags,
		Group:    p.Group,
	}, nil
}

type TaskUpdateParams struct {
	ID    string    `json:"id"`
	Title *string   `json:"title,omitempty"`
	Tags  *[]string `json:"tags,omitempty"`
	Group *string   `json:"group,omitempty"`
}

func (p TaskUpdateParams) Patch() task.Patch {
	return task.Patch{Title: p.Title, Tags: p.Tags, Group: p.Group}
}

// TaskSetCompletedParams requires a JSON boolean; a missing or non-boolean
// value fails to decode or is left nil.
type TaskSetCompletedParams struct {
	ID        string `json:"id"`
	Completed *bool  `json:"completed"`
}

func (p TaskSetCompletedParams) Validate() error {
	if p.Completed == nil {
		return fmt.Errorf("%w: completed must be true or false", task.ErrInvalidTask)
	}
	return nil
}

type TaskSetIntervalParams struct {
	ID string `json:"id"`
	DateRange
}

type TaskDeleteParams struct {
	ID string `json:"id"`
}

type TaskCheckConflictParams struct {
	ParentID string `json:"parent_id"`
	Title    string `json:"title,omitempty"`
	DateRange
}

func (p TaskCheckConflictParams) Child() (conflict.Child, error) {
	iv, err := p.Interval()
	if err != nil {
		return conflict.Child{}, err
	}
	return conflict.Child{Title: p.Title, Interval: iv}, nil
}

type TaskListResult struct {
	Tasks []task.Task `json:"tasks"`
}

// History namespace

type HistoryResult struct {
	// Action is nil when nothing was undone or redone.
	Action *history.Action `json:"action,omitempty"`
	State  history.State   `json:"state"`
}

// Tree subscription

type TreeSubscribeResult struct {
	ID    string      `json:"id"`
	Tasks []task.Task `json:"tasks"`
}

type UnsubscribeParams struct {
	ID string `json:"id"`
}
