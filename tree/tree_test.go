package tree

import (
	"reflect"
	"testing"

	"github.com/ThunderHDs/taskmaster-sub001/task"
)

func newTask(id, parent string) task.Task {
	return task.Task{ID: id, ParentID: parent, Title: "Task " + id}
}

// sample builds:
//
//	a
//	├── b
//	│   └── d
//	└── c
//	e
func sample() *Tree {
	return Build([]task.Task{
		newTask("a", ""),
		newTask("b", "a"),
		newTask("c", "a"),
		newTask("d", "b"),
		newTask("e", ""),
	})
}

func TestBuild(t *testing.T) {
	tr := sample()

	if tr.Len() != 5 {
		t.Fatalf("Len = %d, want 5", tr.Len())
	}
	if got := tr.Roots(); !reflect.DeepEqual(got, []string{"a", "e"}) {
		t.Errorf("Roots = %v", got)
	}
	a, _ := tr.Find("a")
	if !reflect.DeepEqual(a.Children, []string{"b", "c"}) {
		t.Errorf("children of a = %v", a.Children)
	}
	if got := tr.Descendants("a"); !reflect.DeepEqual(got, []string{"b", "d", "c"}) {
		t.Errorf("Descendants = %v", got)
	}
	if got := tr.Ancestors("d"); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("Ancestors = %v", got)
	}
}

func TestBuild_OrphansAndCyclesBecomeRoots(t *testing.T) {
	tr := Build([]task.Task{
		newTask("x", "missing"),
		newTask("p", "q"),
		newTask("q", "p"),
	})

	if len(tr.Roots()) != 3 {
		t.Fatalf("Roots = %v, want all three", tr.Roots())
	}
	for _, id := range []string{"x", "p", "q"} {
		if _, ok := tr.Parent(id); ok {
			t.Errorf("%s still has a parent", id)
		}
	}
}

func TestBuild_TaskBelowCycleKeepsParent(t *testing.T) {
	tr := Build([]task.Task{
		newTask("c", "a"),
		newTask("a", "b"),
		newTask("b", "a"),
	})

	if got := tr.Roots(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("Roots = %v, want [a b]", got)
	}
	p, ok := tr.Parent("c")
	if !ok || p.Task.ID != "a" {
		t.Errorf("Parent(c) = %+v, %v, want a", p, ok)
	}
	if got := tr.Ancestors("c"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Errorf("Ancestors(c) = %v", got)
	}
}

func TestFind_TrimsWhitespace(t *testing.T) {
	tr := sample()

	n, ok := tr.Find("  b\t")
	if !ok || n.Task.ID != "b" {
		t.Fatalf("Find with padding = %+v, %v", n, ok)
	}
	if _, ok := tr.Find("zzz"); ok {
		t.Error("Find found unknown id")
	}
}

func TestUpdate_LeavesOriginalIntact(t *testing.T) {
	orig := sample()
	title := "Renamed"

	next := orig.Update("b", task.Patch{Title: &title})

	if next == orig {
		t.Fatal("Update returned the receiver")
	}
	old, _ := orig.Find("b")
	if old.Task.Title != "Task b" {
		t.Errorf("original mutated: %q", old.Task.Title)
	}
	got, _ := next.Find("b")
	if got.Task.Title != "Renamed" {
		t.Errorf("title = %q", got.Task.Title)
	}
	if orig.nodes["a"] != next.nodes["a"] {
		t.Error("untouched node a was copied")
	}
	if orig.nodes["b"] == next.nodes["b"] {
		t.Error("changed node b shares the old pointer")
	}
}

func TestUpdate_UnknownIsNoop(t *testing.T) {
	orig := sample()
	if got := orig.Update("nope", task.Patch{}); got != orig {
		t.Error("Update on unknown id returned a new tree")
	}
}

func TestInsertChild(t *testing.T) {
	orig := sample()

	next := orig.InsertChild("c", newTask("f", ""))

	f, ok := next.Find("f")
	if !ok || f.Task.ParentID != "c" {
		t.Fatalf("inserted node = %+v, %v", f, ok)
	}
	if c, _ := orig.Find("c"); len(c.Children) != 0 {
		t.Errorf("original parent gained children: %v", c.Children)
	}
	if orig.Has("f") {
		t.Error("original tree gained the node")
	}
}

func TestInsertChild_NoopCases(t *testing.T) {
	orig := sample()

	tests := []struct {
		name   string
		parent string
		child  task.Task
	}{
		{"missing parent", "nope", newTask("f", "")},
		{"blank child id", "a", newTask("  ", "")},
		{"duplicate id", "c", newTask("b", "")},
		{"ancestor as child", "d", newTask("a", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := orig.InsertChild(tt.parent, tt.child); got != orig {
				t.Error("expected the receiver back")
			}
		})
	}
}

func TestInsertChild_DoesNotShareChildSlices(t *testing.T) {
	base := sample()
	one := base.InsertChild("a", newTask("x", ""))
	two := base.InsertChild("a", newTask("y", ""))

	a1, _ := one.Find("a")
	a2, _ := two.Find("a")
	if a1.Children[2] != "x" || a2.Children[2] != "y" {
		t.Errorf("sibling inserts interfered: %v %v", a1.Children, a2.Children)
	}
}

func TestRemove(t *testing.T) {
	orig := sample()

	next := orig.Remove("b")

	if next.Has("b") || next.Has("d") {
		t.Error("subtree not removed")
	}
	a, _ := next.Find("a")
	if !reflect.DeepEqual(a.Children, []string{"c"}) {
		t.Errorf("children of a = %v", a.Children)
	}
	if !orig.Has("d") {
		t.Error("original lost nodes")
	}

	roots := orig.Remove("e").Roots()
	if !reflect.DeepEqual(roots, []string{"a"}) {
		t.Errorf("Roots after removing e = %v", roots)
	}
}

func TestMerge_KeepsStructure(t *testing.T) {
	orig := sample()
	replacement := newTask("b", "somewhere-else")
	replacement.Completed = true

	next := orig.Merge(replacement)

	b, _ := next.Find("b")
	if !b.Task.Completed {
		t.Error("fields not replaced")
	}
	if b.Task.ParentID != "a" || !reflect.DeepEqual(b.Children, []string{"d"}) {
		t.Errorf("structure changed: parent=%q children=%v", b.Task.ParentID, b.Children)
	}
}

func TestEligible(t *testing.T) {
	done := true
	tr := sample()
	if tr.Eligible("a") {
		t.Error("a eligible with pending children")
	}
	if tr.Eligible("c") {
		t.Error("leaf is never eligible")
	}

	tr = tr.Update("d", task.Patch{Completed: &done})
	if !tr.Eligible("b") {
		t.Error("b should be eligible once d is done")
	}
	tr = tr.Update("b", task.Patch{Completed: &done})
	if tr.Eligible("b") {
		t.Error("completed task is not eligible")
	}
	if tr.Eligible("a") {
		t.Error("a eligible while c pending")
	}
	tr = tr.Update("c", task.Patch{Completed: &done})
	if !tr.Eligible("a") {
		t.Error("a should be eligible")
	}
}

func TestWalkAndTasks(t *testing.T) {
	tr := sample()

	var depths []int
	tr.Walk(func(n Node, depth int) bool {
		depths = append(depths, depth)
		return n.Task.ID != "b"
	})
	if !reflect.DeepEqual(depths, []int{0, 1, 1, 0}) {
		t.Errorf("depths = %v", depths)
	}

	var ids []string
	for _, tk := range tr.Tasks() {
		ids = append(ids, tk.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "d", "c", "e"}) {
		t.Errorf("Tasks order = %v", ids)
	}
}
