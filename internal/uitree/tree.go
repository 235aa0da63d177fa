package uitree

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Tree is the element hierarchy of one snapshot. Elements[i].ID == i.
type Tree struct {
	Root     *Element
	Elements []*Element
	Leaves   []*Element
}

// Len returns the number of elements.
func (t *Tree) Len() int {
	return len(t.Elements)
}

// Lookup finds an element by id by descending from the root. At each node it
// follows the last child whose id does not exceed the target, pruning as
// soon as a node id is larger than the target.
func (t *Tree) Lookup(id int) (*Element, error) {
	if id < 0 || id >= len(t.Elements) {
		return nil, fmt.Errorf("lookup %d: %w", id, ErrNotFound)
	}
	if e := search(t.Root, id); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("lookup %d: %w", id, ErrNotFound)
}

func search(n *Element, id int) *Element {
	if n == nil {
		return nil
	}
	if n.ID == id {
		return n
	}
	if n.ID > id {
		return nil
	}
	var next *Element
	for _, c := range n.Children {
		if c.ID > id {
			break
		}
		next = c
	}
	return search(next, id)
}

// Filter selects which elements appear in a serialized tree.
type Filter func(e *Element) bool

// ClickableOnly keeps elements the user can tap.
func ClickableOnly(e *Element) bool {
	return e.Clickable || e.LongClickable
}

// Serialize renders the tree as indented lines, one element per line. With a
// nil filter every element is written; otherwise non-matching elements are
// skipped but their descendants are still visited.
func (t *Tree) Serialize(filter Filter) string {
	var b strings.Builder
	var walk func(e *Element, depth int)
	walk = func(e *Element, depth int) {
		show := filter == nil || filter(e)
		if show {
			b.WriteString(strings.Repeat("  ", depth))
			writeElement(&b, e)
			b.WriteByte('\n')
			depth++
		}
		for _, c := range e.Children {
			walk(c, depth)
		}
	}
	if t.Root != nil {
		walk(t.Root, 0)
	}
	return b.String()
}

func writeElement(b *strings.Builder, e *Element) {
	fmt.Fprintf(b, "[%d] %s", e.ID, e.ShortClass())
	if l := e.Label(); l != "" {
		fmt.Fprintf(b, " %q", l)
	}
	if e.ResourceID != "" {
		fmt.Fprintf(b, " id=%s", e.ResourceID)
	}
	var flags []string
	if e.IsLeaf() {
		flags = append(flags, "leaf")
	}
	if e.Clickable {
		flags = append(flags, "clickable")
	}
	if e.LongClickable {
		flags = append(flags, "long-clickable")
	}
	if e.Scrollable {
		flags = append(flags, "scrollable")
	}
	if e.Selected {
		flags = append(flags, "selected")
	}
	if e.InputCapable() {
		flags = append(flags, "editable")
	}
	if len(flags) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(flags, ","))
	}
}

// structure is the layout-only form compared by Similarity: class and
// bounds per element, without text that changes while the screen does not.
func (t *Tree) structure() string {
	var b strings.Builder
	var walk func(e *Element, depth int)
	walk = func(e *Element, depth int) {
		fmt.Fprintf(&b, "%s%s %s\n", strings.Repeat(" ", depth), e.Class, e.Bounds)
		for _, c := range e.Children {
			walk(c, depth+1)
		}
	}
	if t.Root != nil {
		walk(t.Root, 0)
	}
	return b.String()
}

// Similarity returns a 0..1 ratio derived from the line-level edit distance
// between the two trees' structures. 1 means identical layouts.
func (t *Tree) Similarity(other *Tree) float64 {
	if other == nil {
		return 0
	}
	a, b := t.structure(), other.structure()
	if a == b {
		return 1
	}

	dmp := diffmatchpatch.New()
	ca, cb, _ := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffMain(ca, cb, false)
	distance := dmp.DiffLevenshtein(diffs)

	longest := utf8.RuneCountInString(ca)
	if n := utf8.RuneCountInString(cb); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}
	ratio := 1 - float64(distance)/float64(longest)
	if ratio < 0 {
		return 0
	}
	return ratio
}
