package uitree

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

// Snapshot is one captured screen: screenshot, element tree and the
// foreground app at capture time.
type Snapshot struct {
	ID            string
	CapturedAt    time.Time
	Screenshot    []byte
	Tree          *Tree
	ForegroundApp string

	debugImage []byte
}

// NewSnapshot parses the hierarchy dump and wraps it with the screenshot.
func NewSnapshot(screenshot, hierarchy []byte, foreground string) (*Snapshot, error) {
	tree, err := Parse(hierarchy)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:            uuid.New().String(),
		CapturedAt:    time.Now().UTC(),
		Screenshot:    screenshot,
		Tree:          tree,
		ForegroundApp: foreground,
	}, nil
}

// Lookup delegates to the tree.
func (s *Snapshot) Lookup(id int) (*Element, error) {
	return s.Tree.Lookup(id)
}

// IsLeaf reports whether id names a leaf element of this snapshot.
func (s *Snapshot) IsLeaf(id int) bool {
	e, err := s.Tree.Lookup(id)
	return err == nil && e.IsLeaf()
}

// Similarity compares the element trees of two snapshots.
func (s *Snapshot) Similarity(other *Snapshot) float64 {
	if other == nil {
		return 0
	}
	return s.Tree.Similarity(other.Tree)
}

// DebugImage returns the attached debug image, if any.
func (s *Snapshot) DebugImage() []byte {
	return s.debugImage
}

// AttachDebugImage crops the region of the given element out of the
// screenshot and keeps it as a PNG alongside the snapshot.
func (s *Snapshot) AttachDebugImage(e *Element) error {
	if len(s.Screenshot) == 0 || e == nil || e.Bounds.Empty() {
		return nil
	}
	img, err := imaging.Decode(bytes.NewReader(s.Screenshot))
	if err != nil {
		return fmt.Errorf("decode screenshot: %w", err)
	}
	rect := image.Rect(e.Bounds.Left, e.Bounds.Top, e.Bounds.Right, e.Bounds.Bottom).Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	crop := imaging.Crop(img, rect)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, crop, imaging.PNG); err != nil {
		return fmt.Errorf("encode debug image: %w", err)
	}
	s.debugImage = buf.Bytes()
	return nil
}
