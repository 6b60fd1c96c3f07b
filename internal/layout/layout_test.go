package layout

import (
	"errors"
	"testing"
)

func threePaneTab() Tab {
	// root: vertical split -> [left pane, horizontal split -> [top right, bottom right]]
	return Tab{
		Title: "dev",
		Nodes: []Node{
			{Split: Vertical, Ratio: 0.5, First: 1, Second: 2},
			{Pane: &Pane{WorkingDir: "/src"}},
			{Split: Horizontal, Ratio: 0.7, First: 3, Second: 4},
			{Pane: &Pane{WorkingDir: "/src", Command: "make watch"}},
			{Pane: &Pane{WorkingDir: "/tmp"}},
		},
	}
}

func TestTabValidate(t *testing.T) {
	tests := []struct {
		name    string
		tab     Tab
		wantErr bool
	}{
		{"single pane", SinglePane("", Pane{WorkingDir: "/"}), false},
		{"three panes", threePaneTab(), false},
		{"empty tab", Tab{}, true},
		{
			name: "child before parent",
			tab: Tab{Nodes: []Node{
				{Pane: &Pane{}},
				{Split: Vertical, Ratio: 0.5, First: 0, Second: 2},
				{Pane: &Pane{}},
			}},
			wantErr: true,
		},
		{
			name: "ratio out of range",
			tab: Tab{Nodes: []Node{
				{Split: Vertical, Ratio: 1, First: 1, Second: 2},
				{Pane: &Pane{}},
				{Pane: &Pane{}},
			}},
			wantErr: true,
		},
		{
			name: "unknown orientation",
			tab: Tab{Nodes: []Node{
				{Split: "diagonal", Ratio: 0.5, First: 1, Second: 2},
				{Pane: &Pane{}},
				{Pane: &Pane{}},
			}},
			wantErr: true,
		},
		{
			name: "orphan node",
			tab: Tab{Nodes: []Node{
				{Split: Vertical, Ratio: 0.5, First: 1, Second: 2},
				{Pane: &Pane{}},
				{Pane: &Pane{}},
				{Pane: &Pane{}},
			}},
			wantErr: true,
		},
		{
			name: "shared child",
			tab: Tab{Nodes: []Node{
				{Split: Vertical, Ratio: 0.5, First: 1, Second: 1},
				{Pane: &Pane{}},
			}},
			wantErr: true,
		},
		{
			name: "split without children is a dangling split",
			tab: Tab{Nodes: []Node{
				{Split: Vertical, Ratio: 0.5},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tab.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want wrapped ErrInvalid", err)
			}
		})
	}
}

func TestWorkspaceValidate(t *testing.T) {
	if err := (Workspace{}).Validate(); err == nil {
		t.Error("expected error for empty workspace")
	}

	w := Workspace{Windows: []Window{{Tabs: nil}}}
	if err := w.Validate(); err == nil {
		t.Error("expected error for window without tabs")
	}

	w = Workspace{Windows: []Window{{Tabs: []Tab{threePaneTab()}}}}
	if err := w.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLeavesOrder(t *testing.T) {
	tab := threePaneTab()
	got := tab.Leaves()
	want := []int{1, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Leaves() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Leaves()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCount(t *testing.T) {
	w := Workspace{Windows: []Window{
		{Tabs: []Tab{threePaneTab(), SinglePane("", Pane{WorkingDir: "/"})}},
		{Tabs: []Tab{SinglePane("", Pane{WorkingDir: "/"})}},
	}}
	c := w.Count()
	if c.Windows != 2 || c.Tabs != 3 || c.Panes != 5 {
		t.Errorf("Count() = %+v, want {2 3 5}", c)
	}
}
