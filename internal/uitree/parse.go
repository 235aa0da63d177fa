package uitree

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// xmlNode mirrors one <node> of a uiautomator dump.
type xmlNode struct {
	Class         string    `xml:"class,attr"`
	ResourceID    string    `xml:"resource-id,attr"`
	Package       string    `xml:"package,attr"`
	Text          string    `xml:"text,attr"`
	ContentDesc   string    `xml:"content-desc,attr"`
	Bounds        string    `xml:"bounds,attr"`
	Clickable     string    `xml:"clickable,attr"`
	LongClickable string    `xml:"long-clickable,attr"`
	Scrollable    string    `xml:"scrollable,attr"`
	Selected      string    `xml:"selected,attr"`
	Focusable     string    `xml:"focusable,attr"`
	Nodes         []xmlNode `xml:"node"`
}

type xmlHierarchy struct {
	XMLName xml.Name  `xml:"hierarchy"`
	Nodes   []xmlNode `xml:"node"`
}

// Parse builds a Tree from a uiautomator XML dump. Ids are assigned in
// pre-order so every ancestor id is smaller than any of its descendants'.
func Parse(hierarchy []byte) (*Tree, error) {
	data := trimDump(hierarchy)
	if len(data) == 0 {
		return nil, fmt.Errorf("parse hierarchy: %w: empty dump", ErrInvalidTree)
	}

	var h xmlHierarchy
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&h); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse hierarchy: %w", err)
	}

	t := &Tree{}
	root := &Element{ID: 0, Class: "hierarchy"}
	t.Elements = append(t.Elements, root)
	for i := range h.Nodes {
		child, err := t.build(&h.Nodes[i], root)
		if err != nil {
			return nil, err
		}
		root.Children = append(root.Children, child)
	}
	t.Root = root

	if len(root.Children) == 1 {
		// A single top-level window is the useful root.
		t.reindex(root.Children[0])
	}
	if err := t.checkOrder(); err != nil {
		return nil, err
	}
	t.collectLeaves()
	return t, nil
}

func (t *Tree) build(n *xmlNode, parent *Element) (*Element, error) {
	b, err := parseBounds(n.Bounds)
	if err != nil {
		return nil, err
	}
	e := &Element{
		ID:            len(t.Elements),
		Class:         n.Class,
		ResourceID:    n.ResourceID,
		Package:       n.Package,
		Text:          n.Text,
		ContentDesc:   n.ContentDesc,
		Bounds:        b,
		Clickable:     n.Clickable == "true",
		LongClickable: n.LongClickable == "true",
		Scrollable:    n.Scrollable == "true",
		Selected:      n.Selected == "true",
		Parent:        parent,
	}
	e.Editable = strings.HasSuffix(n.Class, "EditText") || (n.Focusable == "true" && strings.Contains(n.Class, "Edit"))
	t.Elements = append(t.Elements, e)

	for i := range n.Nodes {
		child, err := t.build(&n.Nodes[i], e)
		if err != nil {
			return nil, err
		}
		e.Children = append(e.Children, child)
	}
	return e, nil
}

// reindex drops the synthetic hierarchy node and renumbers from newRoot.
func (t *Tree) reindex(newRoot *Element) {
	newRoot.Parent = nil
	t.Root = newRoot
	t.Elements = t.Elements[:0]
	var walk func(e *Element)
	walk = func(e *Element) {
		e.ID = len(t.Elements)
		t.Elements = append(t.Elements, e)
		for _, c := range e.Children {
			walk(c)
		}
	}
	walk(newRoot)
}

// checkOrder asserts ids are strictly increasing in a pre-order walk and
// match their index in Elements. Lookup depends on it.
func (t *Tree) checkOrder() error {
	last := -1
	count := 0
	var walk func(e *Element) error
	walk = func(e *Element) error {
		if e.ID <= last {
			return fmt.Errorf("%w: id %d follows %d in pre-order", ErrInvalidTree, e.ID, last)
		}
		if e.ID >= len(t.Elements) || t.Elements[e.ID] != e {
			return fmt.Errorf("%w: id %d does not match its index", ErrInvalidTree, e.ID)
		}
		last = e.ID
		count++
		for _, c := range e.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t.Root); err != nil {
		return err
	}
	if count != len(t.Elements) {
		return fmt.Errorf("%w: %d reachable elements, %d indexed", ErrInvalidTree, count, len(t.Elements))
	}
	return nil
}

func (t *Tree) collectLeaves() {
	t.Leaves = t.Leaves[:0]
	for _, e := range t.Elements {
		if e.IsLeaf() {
			t.Leaves = append(t.Leaves, e)
		}
	}
}

// parseBounds reads the "[l,t][r,b]" form used by uiautomator.
func parseBounds(s string) (Bounds, error) {
	if s == "" {
		return Bounds{}, nil
	}
	s = strings.NewReplacer("][", ",", "[", "", "]", "").Replace(s)
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("%w: malformed bounds %q", ErrInvalidTree, s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Bounds{}, fmt.Errorf("%w: malformed bounds %q", ErrInvalidTree, s)
		}
		v[i] = n
	}
	return Bounds{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}, nil
}

// trimDump cuts everything outside the <hierarchy> element, such as the
// "UI hierchary dumped to" trailer written by `uiautomator dump /dev/tty`.
func trimDump(b []byte) []byte {
	start := bytes.Index(b, []byte("<hierarchy"))
	if start < 0 {
		return nil
	}
	end := bytes.LastIndex(b, []byte("</hierarchy>"))
	if end < 0 {
		return b[start:]
	}
	return b[start : end+len("</hierarchy>")]
}
