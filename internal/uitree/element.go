// Package uitree parses Android view-hierarchy dumps into an indexed element tree.
package uitree

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for tree operations.
var (
	ErrNotFound    = errors.New("element not found")
	ErrInvalidTree = errors.New("invalid element tree")
)

// Bounds is a pixel rectangle on screen.
type Bounds struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Center returns the centroid of the rectangle.
func (b Bounds) Center() (int, int) {
	return (b.Left + b.Right) / 2, (b.Top + b.Bottom) / 2
}

// Width returns the horizontal extent.
func (b Bounds) Width() int { return b.Right - b.Left }

// Height returns the vertical extent.
func (b Bounds) Height() int { return b.Bottom - b.Top }

// Empty reports whether the rectangle has no area.
func (b Bounds) Empty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%d,%d][%d,%d]", b.Left, b.Top, b.Right, b.Bottom)
}

// Element is one UI widget. Elements are immutable once the tree is built.
type Element struct {
	ID            int
	Class         string
	ResourceID    string
	Package       string
	Text          string
	ContentDesc   string
	Bounds        Bounds
	Clickable     bool
	LongClickable bool
	Scrollable    bool
	Selected      bool
	Editable      bool

	Parent   *Element
	Children []*Element
}

// IsLeaf reports whether the element has no children.
func (e *Element) IsLeaf() bool {
	return len(e.Children) == 0
}

// ShortClass strips the package prefix from the widget class.
func (e *Element) ShortClass() string {
	if i := strings.LastIndex(e.Class, "."); i >= 0 {
		return e.Class[i+1:]
	}
	return e.Class
}

// Label returns the most descriptive human-readable text of the element.
func (e *Element) Label() string {
	switch {
	case e.Text != "":
		return e.Text
	case e.ContentDesc != "":
		return e.ContentDesc
	default:
		return ""
	}
}

// InputCapable reports whether the element accepts text once focused.
func (e *Element) InputCapable() bool {
	return e.Editable || strings.HasSuffix(e.Class, "EditText")
}
