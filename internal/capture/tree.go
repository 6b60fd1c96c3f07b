package capture

import (
	"slices"

	"github.com/cxlinux/cx/internal/host"
	"github.com/cxlinux/cx/internal/layout"
)

// BuildTree reconstructs a tab's split tree from pane rectangles. geom[i]
// positions leaves[i]. The tree is found by repeated guillotine cuts, trying
// a vertical cut before a horizontal one and taking the leftmost/topmost line
// that no pane crosses. When some region admits no cut its panes are chained
// with even vertical splits and exact is false.
func BuildTree(geom []host.Pane, leaves []layout.Pane) (nodes []layout.Node, exact bool) {
	b := &treeBuilder{geom: geom, leaves: leaves, exact: true}
	set := make([]int, len(geom))
	for i := range set {
		set[i] = i
	}
	b.build(set)
	return b.nodes, b.exact
}

type treeBuilder struct {
	geom   []host.Pane
	leaves []layout.Pane
	nodes  []layout.Node
	exact  bool
}

// interval is a pane rectangle projected onto one axis.
type interval struct{ start, end int }

func (b *treeBuilder) span(i int, o layout.Orientation) interval {
	g := b.geom[i]
	if o == layout.Vertical {
		return interval{g.Left, g.Left + g.Cols}
	}
	return interval{g.Top, g.Top + g.Rows}
}

// build appends the subtree for set and returns its root index. The parent
// slot is reserved before the children so children always follow it.
func (b *treeBuilder) build(set []int) int {
	idx := len(b.nodes)
	if len(set) == 1 {
		p := b.leaves[set[0]]
		b.nodes = append(b.nodes, layout.Node{Pane: &p})
		return idx
	}
	b.nodes = append(b.nodes, layout.Node{})

	for _, o := range []layout.Orientation{layout.Vertical, layout.Horizontal} {
		first, second, ok := b.cut(set, o)
		if !ok {
			continue
		}
		ratio := b.ratio(first, second, o)
		f := b.build(first)
		s := b.build(second)
		b.nodes[idx] = layout.Node{Split: o, Ratio: ratio, First: f, Second: s}
		return idx
	}

	b.exact = false
	b.chain(idx, b.ordered(set))
	return idx
}

// cut finds the smallest line along o that separates set into two non-empty
// groups without crossing any pane.
func (b *treeBuilder) cut(set []int, o layout.Orientation) (first, second []int, ok bool) {
	var lines []int
	for _, i := range set {
		lines = append(lines, b.span(i, o).end)
	}
	slices.Sort(lines)
	lines = slices.Compact(lines)

	for _, line := range lines {
		first, second = first[:0], second[:0]
		crossed := false
		for _, i := range set {
			sp := b.span(i, o)
			switch {
			case sp.end <= line:
				first = append(first, i)
			case sp.start >= line:
				second = append(second, i)
			default:
				crossed = true
			}
			if crossed {
				break
			}
		}
		if !crossed && len(first) > 0 && len(second) > 0 {
			return slices.Clone(first), slices.Clone(second), true
		}
	}
	return nil, nil, false
}

// ratio is the first region's share of the summed extent of both regions.
func (b *treeBuilder) ratio(first, second []int, o layout.Orientation) float64 {
	e1 := b.extent(first, o)
	e2 := b.extent(second, o)
	if e1 <= 0 || e2 <= 0 {
		return 0.5
	}
	return float64(e1) / float64(e1+e2)
}

func (b *treeBuilder) extent(set []int, o layout.Orientation) int {
	lo, hi := b.span(set[0], o).start, b.span(set[0], o).end
	for _, i := range set[1:] {
		sp := b.span(i, o)
		lo = min(lo, sp.start)
		hi = max(hi, sp.end)
	}
	return hi - lo
}

// ordered sorts set top-to-bottom, then left-to-right.
func (b *treeBuilder) ordered(set []int) []int {
	out := slices.Clone(set)
	slices.SortStableFunc(out, func(x, y int) int {
		gx, gy := b.geom[x], b.geom[y]
		if gx.Top != gy.Top {
			return gx.Top - gy.Top
		}
		return gx.Left - gy.Left
	})
	return out
}

// chain fills the reserved slot idx with an even chain of vertical splits
// over set: pane 0 | (pane 1 | (pane 2 | ...)).
func (b *treeBuilder) chain(idx int, set []int) {
	for k := 0; k < len(set)-1; k++ {
		remaining := len(set) - k
		p := b.leaves[set[k]]
		leaf := len(b.nodes)
		b.nodes = append(b.nodes, layout.Node{Pane: &p})

		var next int
		if remaining == 2 {
			last := b.leaves[set[k+1]]
			next = len(b.nodes)
			b.nodes = append(b.nodes, layout.Node{Pane: &last})
		} else {
			next = len(b.nodes)
			b.nodes = append(b.nodes, layout.Node{})
		}
		b.nodes[idx] = layout.Node{
			Split:  layout.Vertical,
			Ratio:  1 / float64(remaining),
			First:  leaf,
			Second: next,
		}
		idx = next
	}
}
