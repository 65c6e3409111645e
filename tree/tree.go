// Package tree holds an immutable snapshot of the task forest.
//
// Nodes live in a flat map keyed by id; parent and child links are ids.
// Every mutating method returns a new *Tree and leaves the receiver intact.
// Nodes that a mutation does not touch are shared between the old and the
// new snapshot, so callers can detect change by pointer comparison.
package tree

import (
	"slices"
	"strings"

	"github.com/ThunderHDs/taskmaster-sub001/task"
)

// Node is a task plus the ordered ids of its children.
// Children must be treated as read-only.
type Node struct {
	Task     task.Task
	Children []string
}

type Tree struct {
	nodes map[string]*Node
	roots []string
}

func New() *Tree {
	return &Tree{nodes: map[string]*Node{}}
}

func key(id string) string {
	return strings.TrimSpace(id)
}

// Build assembles a snapshot from a flat task list. Sibling order follows
// list order. Tasks whose parent is missing, or that sit on a cycle of
// parent links, become roots.
func Build(tasks []task.Task) *Tree {
	t := &Tree{nodes: make(map[string]*Node, len(tasks))}
	parentOf := make(map[string]string, len(tasks))
	order := make([]string, 0, len(tasks))
	for _, tk := range tasks {
		id := key(tk.ID)
		if id == "" {
			continue
		}
		if _, dup := t.nodes[id]; dup {
			continue
		}
		c := tk.Clone()
		c.ID = id
		c.ParentID = key(c.ParentID)
		t.nodes[id] = &Node{Task: c}
		parentOf[id] = c.ParentID
		order = append(order, id)
	}

	for _, id := range order {
		pid := parentOf[id]
		if pid == "" || t.nodes[pid] == nil || loops(parentOf, id) {
			t.nodes[id].Task.ParentID = ""
			t.roots = append(t.roots, id)
			continue
		}
		p := t.nodes[pid]
		p.Children = append(p.Children, id)
	}
	return t
}

// loops reports whether following parent links from id returns to id.
// A chain that runs into a cycle elsewhere does not count; only the
// tasks on the cycle are detached.
func loops(parentOf map[string]string, id string) bool {
	seen := map[string]bool{}
	for cur := parentOf[id]; cur != ""; cur = parentOf[cur] {
		if cur == id {
			return true
		}
		if seen[cur] {
			return false
		}
		seen[cur] = true
	}
	return false
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) Roots() []string {
	return slices.Clone(t.roots)
}

// Find looks up id after trimming surrounding whitespace.
func (t *Tree) Find(id string) (Node, bool) {
	n, ok := t.nodes[key(id)]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

func (t *Tree) Has(id string) bool {
	_, ok := t.nodes[key(id)]
	return ok
}

func (t *Tree) Parent(id string) (Node, bool) {
	n, ok := t.nodes[key(id)]
	if !ok || n.Task.ParentID == "" {
		return Node{}, false
	}
	p, ok := t.nodes[n.Task.ParentID]
	if !ok {
		return Node{}, false
	}
	return *p, true
}

func (t *Tree) Children(id string) []Node {
	n, ok := t.nodes[key(id)]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(n.Children))
	for _, cid := range n.Children {
		out = append(out, *t.nodes[cid])
	}
	return out
}

// Ancestors returns the ids above id, nearest first.
func (t *Tree) Ancestors(id string) []string {
	var out []string
	n, ok := t.nodes[key(id)]
	for ok && n.Task.ParentID != "" {
		out = append(out, n.Task.ParentID)
		n, ok = t.nodes[n.Task.ParentID]
	}
	return out
}

// Descendants returns the ids below id in pre-order, excluding id itself.
func (t *Tree) Descendants(id string) []string {
	n, ok := t.nodes[key(id)]
	if !ok {
		return nil
	}
	var out []string
	var walk func(ids []string)
	walk = func(ids []string) {
		for _, cid := range ids {
			out = append(out, cid)
			walk(t.nodes[cid].Children)
		}
	}
	walk(n.Children)
	return out
}

// AllChildrenCompleted is false for a task without children.
func (t *Tree) AllChildrenCompleted(id string) bool {
	n, ok := t.nodes[key(id)]
	if !ok || len(n.Children) == 0 {
		return false
	}
	for _, cid := range n.Children {
		if !t.nodes[cid].Task.Completed {
			return false
		}
	}
	return true
}

// Eligible reports whether id should be auto-completed: it has children,
// all of them are completed, and it is not completed itself.
func (t *Tree) Eligible(id string) bool {
	n, ok := t.nodes[key(id)]
	return ok && !n.Task.Completed && t.AllChildrenCompleted(id)
}

// Walk visits nodes depth-first in sibling order. Returning false from fn
// skips the node's subtree.
func (t *Tree) Walk(fn func(n Node, depth int) bool) {
	var walk func(ids []string, depth int)
	walk = func(ids []string, depth int) {
		for _, id := range ids {
			n := t.nodes[id]
			if fn(*n, depth) {
				walk(n.Children, depth+1)
			}
		}
	}
	walk(t.roots, 0)
}

// Tasks flattens the forest in pre-order.
func (t *Tree) Tasks() []task.Task {
	out := make([]task.Task, 0, len(t.nodes))
	t.Walk(func(n Node, _ int) bool {
		out = append(out, n.Task)
		return true
	})
	return out
}

// clone copies the node map. Node pointers are shared until replaced.
func (t *Tree) clone() *Tree {
	nodes := make(map[string]*Node, len(t.nodes)+1)
	for k, v := range t.nodes {
		nodes[k] = v
	}
	return &Tree{nodes: nodes, roots: t.roots}
}

// Update returns a snapshot with patch merged into id. Unknown ids return
// the receiver.
func (t *Tree) Update(id string, patch task.Patch) *Tree {
	old, ok := t.nodes[key(id)]
	if !ok {
		return t
	}
	out := t.clone()
	n := *old
	n.Task = patch.Apply(old.Task)
	out.nodes[n.Task.ID] = &n
	return out
}

// Merge replaces the stored fields of tk.ID with tk while keeping the
// node's place in the tree. Unknown ids return the receiver.
func (t *Tree) Merge(tk task.Task) *Tree {
	id := key(tk.ID)
	old, ok := t.nodes[id]
	if !ok {
		return t
	}
	out := t.clone()
	c := tk.Clone()
	c.ID = id
	c.ParentID = old.Task.ParentID
	out.nodes[id] = &Node{Task: c, Children: old.Children}
	return out
}

// InsertChild appends child under parentID. The receiver is returned
// unchanged when the parent is unknown or the child id is blank or
// already present, which also keeps the forest acyclic.
func (t *Tree) InsertChild(parentID string, child task.Task) *Tree {
	pid := key(parentID)
	parent, ok := t.nodes[pid]
	if !ok {
		return t
	}
	cid := key(child.ID)
	if cid == "" || t.nodes[cid] != nil {
		return t
	}
	out := t.clone()
	c := child.Clone()
	c.ID = cid
	c.ParentID = pid
	out.nodes[cid] = &Node{Task: c}

	p := *parent
	p.Children = append(slices.Clip(parent.Children), cid)
	out.nodes[pid] = &p
	return out
}

// Insert adds tk as a root when it has no parent, otherwise under its parent.
func (t *Tree) Insert(tk task.Task) *Tree {
	if key(tk.ParentID) != "" {
		return t.InsertChild(tk.ParentID, tk)
	}
	id := key(tk.ID)
	if id == "" || t.nodes[id] != nil {
		return t
	}
	out := t.clone()
	c := tk.Clone()
	c.ID = id
	c.ParentID = ""
	out.nodes[id] = &Node{Task: c}
	out.roots = append(slices.Clip(t.roots), id)
	return out
}

// Remove drops id and its whole subtree. Unknown ids return the receiver.
func (t *Tree) Remove(id string) *Tree {
	k := key(id)
	n, ok := t.nodes[k]
	if !ok {
		return t
	}
	out := t.clone()
	delete(out.nodes, k)
	for _, d := range t.Descendants(k) {
		delete(out.nodes, d)
	}

	if n.Task.ParentID == "" {
		out.roots = without(t.roots, k)
		return out
	}
	if parent, ok := t.nodes[n.Task.ParentID]; ok {
		p := *parent
		p.Children = without(parent.Children, k)
		out.nodes[n.Task.ParentID] = &p
	}
	return out
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
